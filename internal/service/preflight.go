package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/diskmon"
)

// Preflight validates the environment before the service enters its
// running state. Failures here are fatal: a half-working appliance
// silently losing footage is worse than one that refuses to start.
func Preflight(cfg *config.Config) error {
	if len(cfg.EnabledCameras()) == 0 {
		return fmt.Errorf("preflight: no enabled cameras configured")
	}

	// The appliance runs unattended; a badly skewed clock would misfile
	// every segment and window decision.
	if y := time.Now().Year(); y < 2024 {
		return fmt.Errorf("preflight: system clock is implausible (year %d)", y)
	}

	for _, dir := range []string{cfg.VideoRoot(), cfg.ResultsRoot(), filepath.Dir(cfg.DatabasePath())} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("preflight: cannot create %s: %w", dir, err)
		}
	}

	free, err := diskmon.FreeGB(cfg.System.Root)
	if err != nil {
		return fmt.Errorf("preflight: cannot stat %s: %w", cfg.System.Root, err)
	}
	if free < cfg.Retention.MinFreeGB {
		return fmt.Errorf("preflight: %.1f GB free under %s, need %.1f GB",
			free, cfg.System.Root, cfg.Retention.MinFreeGB)
	}

	for _, model := range cfg.Processing.ModelFiles {
		if _, err := os.Stat(model); err != nil {
			return fmt.Errorf("preflight: model file missing: %s", model)
		}
	}

	// A bad ROI file would fail every analysis job for that camera, so it
	// refuses startup instead. This is also where the legacy single-file
	// ROI config gets migrated to the per-camera form.
	for _, cam := range cfg.EnabledCameras() {
		if _, err := cfg.LoadROI(cam.ID); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}
	return nil
}
