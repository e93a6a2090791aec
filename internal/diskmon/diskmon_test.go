package diskmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
)

func writeDated(t *testing.T, root, sub, date string) string {
	t.Helper()
	dir := filepath.Join(root, sub, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "payload"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func TestSweepPrunesExpired(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 12, 0, 0, 0, time.Local)

	old := writeDated(t, root, "videos", "20251020")      // 3 days old
	kept := writeDated(t, root, "videos", "20251022")     // 1 day old
	today := writeDated(t, root, "videos", "20251023")    // today
	oldShot := writeDated(t, root, "db/screenshots", "20250901") // way past 30 days
	keptShot := writeDated(t, root, "db/screenshots", "20251001")

	m := NewMonitor(config.RetentionConfig{
		VideoDays:      2,
		ScreenshotDays: 30,
		MinFreeGB:      0.001,
		CheckMinutes:   30,
	}, root)
	m.now = func() time.Time { return now }

	m.Sweep()

	for _, dir := range []string{kept, today, keptShot} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory %s pruned, want kept", dir)
		}
	}
	for _, dir := range []string{old, oldShot} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("directory %s kept, want pruned", dir)
		}
	}
}

func TestSweepNeverTouchesToday(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 10, 23, 0, 5, 0, 0, time.Local)
	today := writeDated(t, root, "videos", "20251023")

	// Zero-day retention is nonsense config, but even then today's
	// directory must survive.
	m := NewMonitor(config.RetentionConfig{VideoDays: 0, ScreenshotDays: 1, CheckMinutes: 30}, root)
	m.now = func() time.Time { return now }
	m.Sweep()

	if _, err := os.Stat(today); err != nil {
		t.Errorf("today's directory pruned: %v", err)
	}
}

func TestSweepIgnoresForeignDirs(t *testing.T) {
	root := t.TempDir()
	foreign := writeDated(t, root, "videos", "backup_copy")

	m := NewMonitor(config.RetentionConfig{VideoDays: 1, ScreenshotDays: 1, CheckMinutes: 30}, root)
	m.Sweep()

	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("non-date directory pruned: %v", err)
	}
}

func TestFreeGB(t *testing.T) {
	free, err := FreeGB(t.TempDir())
	if err != nil {
		t.Fatalf("FreeGB() error = %v", err)
	}
	if free <= 0 {
		t.Errorf("FreeGB() = %v, want positive", free)
	}
}
