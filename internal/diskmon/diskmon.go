// Package diskmon enforces local retention: old capture and result
// artifacts are pruned on a fixed cadence and free space is tracked.
package diskmon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/metrics"
)

// Monitor prunes expired artifacts under the appliance root.
type Monitor struct {
	cfg    config.RetentionConfig
	root   string
	logger *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// NewMonitor creates a monitor over the appliance root directory.
func NewMonitor(cfg config.RetentionConfig, root string) *Monitor {
	return &Monitor{
		cfg:    cfg,
		root:   root,
		logger: slog.Default().With("component", "diskmon"),
		now:    time.Now,
	}
}

// Loop runs Sweep on the configured cadence until the context ends. One
// sweep runs immediately on entry.
func (m *Monitor) Loop(ctx context.Context) {
	m.Sweep()

	ticker := time.NewTicker(time.Duration(m.cfg.CheckMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep prunes expired date directories and refreshes the free-space
// gauge. Today's directories are never touched: their segments may
// still be open.
func (m *Monitor) Sweep() {
	videoCutoff := m.dateCutoff(m.cfg.VideoDays)
	screenshotCutoff := m.dateCutoff(m.cfg.ScreenshotDays)

	for _, dir := range []string{
		filepath.Join(m.root, "videos"),
		filepath.Join(m.root, "results"),
	} {
		m.pruneDatedDirs(dir, videoCutoff, "video")
	}
	m.pruneDatedDirs(filepath.Join(m.root, "db", "screenshots"), screenshotCutoff, "screenshot")

	free, err := FreeGB(m.root)
	if err != nil {
		m.logger.Warn("Cannot stat filesystem", "error", err)
		return
	}
	metrics.DiskFreeGB.Set(free)
	if free < m.cfg.MinFreeGB {
		m.logger.Error("Disk space below minimum",
			"free_gb", free, "min_free_gb", m.cfg.MinFreeGB)
	}
}

// dateCutoff returns the newest YYYYMMDD directory name that is old
// enough to prune. Retention of N days keeps today plus N-1 prior days.
func (m *Monitor) dateCutoff(days int) string {
	return m.now().AddDate(0, 0, -days).Format("20060102")
}

// pruneDatedDirs removes YYYYMMDD subdirectories at or before the
// cutoff.
func (m *Monitor) pruneDatedDirs(root, cutoff, category string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Cannot read retention root", "dir", root, "error", err)
		}
		return
	}

	today := m.now().Format("20060102")
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !isDateName(name) {
			continue
		}
		if name >= today || name > cutoff {
			continue
		}

		path := filepath.Join(root, name)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Error("Failed to prune directory", "dir", path, "error", err)
			continue
		}
		m.logger.Info("Pruned expired directory", "dir", path, "category", category)
		metrics.PrunedFilesTotal.WithLabelValues(category).Inc()
	}
}

// FreeGB returns the free space of the filesystem containing path.
func FreeGB(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return float64(st.Bavail) * float64(st.Bsize) / (1 << 30), nil
}

func isDateName(name string) bool {
	if len(name) != 8 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
