// Package gpu samples GPU telemetry and classifies it into worker
// scaling actions for the processing dispatcher.
package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/metrics"
)

// Metrics is one telemetry sample.
type Metrics struct {
	Temperature float64 // °C
	Utilization float64 // %
	FreeGB      float64
}

// Sampler produces telemetry samples.
type Sampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// Action is a worker scaling decision.
type Action int

const (
	Hold Action = iota
	ScaleUp
	ScaleDown
	Emergency
)

func (a Action) String() string {
	switch a {
	case ScaleUp:
		return "scale_up"
	case ScaleDown:
		return "scale_down"
	case Emergency:
		return "emergency"
	default:
		return "hold"
	}
}

// NVIDIASampler samples via nvidia-smi.
type NVIDIASampler struct {
	logger *slog.Logger
}

// NewNVIDIASampler creates a sampler backed by nvidia-smi.
func NewNVIDIASampler() *NVIDIASampler {
	return &NVIDIASampler{logger: slog.Default().With("component", "gpu")}
}

// Sample runs nvidia-smi and parses the first GPU's line.
func (s *NVIDIASampler) Sample(ctx context.Context) (Metrics, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=temperature.gpu,utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return Metrics{}, fmt.Errorf("nvidia-smi failed: %w", err)
	}
	return parseSMIOutput(string(out))
}

// parseSMIOutput parses "temp, util, used MiB, total MiB" CSV output.
func parseSMIOutput(out string) (Metrics, error) {
	line := strings.TrimSpace(out)
	if idx := strings.IndexByte(line, '\n'); idx != -1 {
		line = strings.TrimSpace(line[:idx])
	}
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Metrics{}, fmt.Errorf("unexpected nvidia-smi output %q", line)
	}

	vals := make([]float64, 4)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Metrics{}, fmt.Errorf("unexpected nvidia-smi field %q: %w", f, err)
		}
		vals[i] = v
	}

	return Metrics{
		Temperature: vals[0],
		Utilization: vals[1],
		FreeGB:      (vals[3] - vals[2]) / 1024,
	}, nil
}

// Classifier turns samples into scaling actions. Scale-up is conservative
// (every condition must hold); scale-down is aggressive (any one
// suffices). Non-emergency actions are rate-limited by the cooldown;
// an emergency bypasses the cooldown for the shrink but pauses all
// scale-ups for the emergency window.
type Classifier struct {
	cfg        config.GPUConfig
	minWorkers int
	maxWorkers int

	lastScale   time.Time
	pausedUntil time.Time
	logger      *slog.Logger
}

// NewClassifier creates a classifier. The cooldown clock starts at now,
// so the first scale-up cannot happen before one full cooldown.
func NewClassifier(cfg config.GPUConfig, minWorkers, maxWorkers int, now time.Time) *Classifier {
	return &Classifier{
		cfg:        cfg,
		minWorkers: minWorkers,
		maxWorkers: maxWorkers,
		lastScale:  now,
		logger:     slog.Default().With("component", "gpu"),
	}
}

// Classify evaluates one sample against the current worker count.
func (c *Classifier) Classify(m Metrics, workers int, now time.Time) Action {
	metrics.GPUTemperature.Set(m.Temperature)
	metrics.GPUUtilization.Set(m.Utilization)
	metrics.GPUFreeMemoryGB.Set(m.FreeGB)

	if m.Temperature >= c.cfg.EmergencyTemp {
		c.pausedUntil = now.Add(time.Duration(c.cfg.EmergencySeconds) * time.Second)
		c.lastScale = now
		c.logger.Warn("GPU emergency temperature",
			"temp", m.Temperature, "pause_seconds", c.cfg.EmergencySeconds)
		return Emergency
	}

	cooldown := time.Duration(c.cfg.CooldownSeconds) * time.Second

	if m.Temperature > c.cfg.TempScaleDown ||
		m.Utilization > c.cfg.UtilScaleDown ||
		m.FreeGB < c.cfg.MinFreeGB {
		if workers <= c.minWorkers || now.Sub(c.lastScale) < cooldown {
			return Hold
		}
		c.lastScale = now
		return ScaleDown
	}

	if m.Temperature < c.cfg.MaxTempScaleUp &&
		m.Utilization < c.cfg.MaxUtilScaleUp &&
		m.FreeGB >= c.cfg.MinFreeGBScaleUp &&
		workers < c.maxWorkers &&
		now.Sub(c.lastScale) >= cooldown &&
		!now.Before(c.pausedUntil) {
		c.lastScale = now
		return ScaleUp
	}

	return Hold
}

// Monitor samples at a fixed cadence and forwards classified actions.
// workerCount is read per sample so the classifier sees the live pool
// size; actions are dropped if the consumer is not keeping up.
func Monitor(ctx context.Context, sampler Sampler, c *Classifier, interval time.Duration,
	workerCount func() int, actions chan<- Action) {

	logger := slog.Default().With("component", "gpu")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := sampler.Sample(ctx)
			if err != nil {
				logger.Warn("GPU sample failed", "error", err)
				continue
			}

			action := c.Classify(m, workerCount(), time.Now())
			logger.Debug("GPU sample",
				"temp", m.Temperature, "util", m.Utilization,
				"free_gb", m.FreeGB, "action", action.String())

			if action == Hold {
				continue
			}
			select {
			case actions <- action:
			default:
				logger.Warn("Scaling action dropped, consumer busy", "action", action.String())
			}
		}
	}
}
