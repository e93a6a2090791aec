package schedule

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Window
		wantErr bool
	}{
		{
			name:  "lunch window",
			input: "11:30-14:00",
			want:  Window{StartMinute: 690, EndMinute: 840},
		},
		{
			name:  "with spaces",
			input: "17:00 - 21:30",
			want:  Window{StartMinute: 1020, EndMinute: 1290},
		},
		{
			name:    "missing dash",
			input:   "11:30",
			wantErr: true,
		},
		{
			name:    "end before start",
			input:   "14:00-11:30",
			wantErr: true,
		},
		{
			name:    "hour out of range",
			input:   "25:00-26:00",
			wantErr: true,
		},
		{
			name:    "minute out of range",
			input:   "11:70-14:00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindow(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWindow(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseWindow(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{StartMinute: 690, EndMinute: 840} // 11:30-14:00

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", date(11, 29, 59), false},
		{"at start", date(11, 30, 0), true},
		{"inside", date(13, 0, 0), true},
		{"one second before end", date(13, 59, 59), true},
		{"at end is exclusive", date(14, 0, 0), false},
		{"after end", date(18, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.now); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.now.Format("15:04:05"), got, tt.want)
			}
		})
	}
}

func TestRemainingSeconds(t *testing.T) {
	w := Window{StartMinute: 690, EndMinute: 840} // 11:30-14:00

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at start", date(11, 30, 0), 9000},
		{"mid window with seconds", date(13, 59, 30), 30},
		{"past end clamps to zero", date(14, 0, 1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.RemainingSeconds(tt.now); got != tt.want {
				t.Errorf("RemainingSeconds(%s) = %d, want %d", tt.now.Format("15:04:05"), got, tt.want)
			}
		})
	}
}

func TestValidateWindows(t *testing.T) {
	tests := []struct {
		name    string
		windows []Window
		wantErr bool
	}{
		{
			name: "disjoint",
			windows: []Window{
				{StartMinute: 690, EndMinute: 840},
				{StartMinute: 1020, EndMinute: 1290},
			},
		},
		{
			name: "adjacent is allowed",
			windows: []Window{
				{StartMinute: 690, EndMinute: 840},
				{StartMinute: 840, EndMinute: 900},
			},
		},
		{
			name: "overlapping",
			windows: []Window{
				{StartMinute: 690, EndMinute: 850},
				{StartMinute: 840, EndMinute: 900},
			},
			wantErr: true,
		},
		{
			name: "overlap detected regardless of order",
			windows: []Window{
				{StartMinute: 840, EndMinute: 900},
				{StartMinute: 690, EndMinute: 850},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWindows(tt.windows)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWindows() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActiveWindow(t *testing.T) {
	windows := []Window{
		{StartMinute: 690, EndMinute: 840},   // 11:30-14:00
		{StartMinute: 1020, EndMinute: 1290}, // 17:00-21:30
	}

	if got := ActiveWindow(date(12, 0, 0), windows); got == nil || *got != windows[0] {
		t.Errorf("ActiveWindow(12:00) = %v, want lunch window", got)
	}
	if got := ActiveWindow(date(18, 30, 0), windows); got == nil || *got != windows[1] {
		t.Errorf("ActiveWindow(18:30) = %v, want dinner window", got)
	}
	if got := ActiveWindow(date(15, 0, 0), windows); got != nil {
		t.Errorf("ActiveWindow(15:00) = %v, want nil", got)
	}
	if got := ActiveWindow(date(14, 0, 0), windows); got != nil {
		t.Errorf("ActiveWindow(14:00) = %v, want nil (end is exclusive)", got)
	}
}

func date(h, m, s int) time.Time {
	return time.Date(2025, 10, 22, h, m, s, 0, time.Local)
}
