package gpu

import (
	"testing"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
)

func testGPUConfig() config.GPUConfig {
	return config.GPUConfig{
		MaxTempScaleUp:   70,
		MaxUtilScaleUp:   70,
		MinFreeGBScaleUp: 2,
		TempScaleDown:    75,
		UtilScaleDown:    85,
		MinFreeGB:        1,
		EmergencyTemp:    80,
		CooldownSeconds:  60,
		EmergencySeconds: 120,
	}
}

func TestParseSMIOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    Metrics
		wantErr bool
	}{
		{
			name: "typical line",
			out:  "65, 50, 5120, 8192\n",
			want: Metrics{Temperature: 65, Utilization: 50, FreeGB: 3},
		},
		{
			name: "multi gpu takes first",
			out:  "70, 80, 4096, 8192\n40, 10, 0, 8192\n",
			want: Metrics{Temperature: 70, Utilization: 80, FreeGB: 4},
		},
		{
			name:    "garbage",
			out:     "not csv at all",
			wantErr: true,
		},
		{
			name:    "missing fields",
			out:     "65, 50",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSMIOutput(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSMIOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseSMIOutput() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScaleUpCooldown(t *testing.T) {
	start := time.Date(2025, 10, 22, 2, 0, 0, 0, time.Local)
	c := NewClassifier(testGPUConfig(), 1, 6, start)

	favorable := Metrics{Temperature: 65, Utilization: 50, FreeGB: 3}

	// t=0 and t=29 are within the cooldown that started at construction.
	if got := c.Classify(favorable, 1, start); got != Hold {
		t.Errorf("Classify(t=0) = %v, want Hold", got)
	}
	if got := c.Classify(favorable, 1, start.Add(29*time.Second)); got != Hold {
		t.Errorf("Classify(t=29) = %v, want Hold", got)
	}
	if got := c.Classify(favorable, 1, start.Add(60*time.Second)); got != ScaleUp {
		t.Errorf("Classify(t=60) = %v, want ScaleUp", got)
	}

	// The scale-up reset the cooldown.
	if got := c.Classify(favorable, 2, start.Add(90*time.Second)); got != Hold {
		t.Errorf("Classify(t=90) = %v, want Hold (cooldown reset)", got)
	}
}

func TestScaleUpRequiresAllConditions(t *testing.T) {
	start := time.Date(2025, 10, 22, 2, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		m       Metrics
		workers int
		want    Action
	}{
		{"all favorable", Metrics{65, 50, 3}, 1, ScaleUp},
		{"temp too high", Metrics{72, 50, 3}, 1, Hold},
		{"util too high", Metrics{65, 72, 3}, 1, Hold},
		{"memory too low", Metrics{65, 50, 1.5}, 1, Hold},
		{"at max workers", Metrics{65, 50, 3}, 6, Hold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(testGPUConfig(), 1, 6, start)
			got := c.Classify(tt.m, tt.workers, start.Add(2*time.Minute))
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaleDownAnyCondition(t *testing.T) {
	start := time.Date(2025, 10, 22, 2, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		m       Metrics
		workers int
		want    Action
	}{
		{"temp over", Metrics{76, 50, 3}, 4, ScaleDown},
		{"util over", Metrics{65, 90, 3}, 4, ScaleDown},
		{"memory under", Metrics{65, 50, 0.5}, 4, ScaleDown},
		{"never below min", Metrics{76, 90, 0.5}, 1, Hold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(testGPUConfig(), 1, 6, start)
			got := c.Classify(tt.m, tt.workers, start.Add(2*time.Minute))
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmergencyShrinkAndPause(t *testing.T) {
	start := time.Date(2025, 10, 22, 2, 0, 0, 0, time.Local)
	c := NewClassifier(testGPUConfig(), 1, 6, start)

	hot := Metrics{Temperature: 81, Utilization: 40, FreeGB: 5}
	favorable := Metrics{Temperature: 60, Utilization: 30, FreeGB: 5}

	// Emergency fires immediately, cooldown or not.
	if got := c.Classify(hot, 6, start.Add(time.Second)); got != Emergency {
		t.Fatalf("Classify(hot) = %v, want Emergency", got)
	}

	// No scale-up for the next 120 s even under favorable samples.
	at := start.Add(90 * time.Second)
	if got := c.Classify(favorable, 1, at); got != Hold {
		t.Errorf("Classify(+89s after emergency) = %v, want Hold (paused)", got)
	}
	at = start.Add(119 * time.Second)
	if got := c.Classify(favorable, 1, at); got != Hold {
		t.Errorf("Classify(just before pause end) = %v, want Hold", got)
	}

	// After the pause (and cooldown) expires, scale-up resumes.
	at = start.Add(125 * time.Second)
	if got := c.Classify(favorable, 1, at); got != ScaleUp {
		t.Errorf("Classify(after pause) = %v, want ScaleUp", got)
	}
}
