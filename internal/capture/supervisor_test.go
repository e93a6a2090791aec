package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aseofsmartice/surveillance/internal/config"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	root := t.TempDir()

	cameras := map[string]config.CameraConfig{
		"camera_35": {IP: "192.168.1.35", Username: "a", Password: "b", Enabled: true},
		"camera_36": {IP: "192.168.1.36", Username: "a", Password: "b", Enabled: false},
	}
	camData, _ := json.Marshal(cameras)
	camPath := filepath.Join(root, "cameras.json")
	if err := os.WriteFile(camPath, camData, 0644); err != nil {
		t.Fatalf("write cameras: %v", err)
	}

	settings := map[string]any{
		"system": map[string]any{
			"root":         root,
			"cameras_file": camPath,
		},
		"capture": map[string]any{
			"windows":      []string{"11:00-14:00", "18:00-22:00"},
			"stop_seconds": 5,
		},
	}
	raw, _ := yaml.Marshal(settings)
	cfgPath := filepath.Join(root, "settings.yaml")
	if err := os.WriteFile(cfgPath, raw, 0644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := NewSupervisor(cfg, nil)
	// Cooperative stand-in: exits promptly on the polite stop signal.
	s.ffmpegPath = writeFakeFFmpeg(t, `: > "$out"
trap 'exit 0' TERM
sleep 300 &
wait $!`)
	t.Cleanup(s.StopAll)
	return s
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 10, 22, hour, minute, 0, 0, time.Local)
}

func TestTickWindowEdges(t *testing.T) {
	s := newTestSupervisor(t)

	s.Tick(at(10, 59))
	if s.Active() != 0 || s.Window() != nil {
		t.Fatalf("before window: active = %d, window = %v, want idle", s.Active(), s.Window())
	}

	s.Tick(at(11, 0))
	time.Sleep(200 * time.Millisecond)
	if got := s.Active(); got != 1 {
		t.Fatalf("window open: active = %d, want 1 (only enabled cameras)", got)
	}
	if w := s.Window(); w == nil || w.String() != "11:00-14:00" {
		t.Fatalf("window open: window = %v, want 11:00-14:00", w)
	}

	// A repeated tick inside the same window must not spawn duplicates.
	s.Tick(at(12, 30))
	if got := s.Active(); got != 1 {
		t.Fatalf("mid-window tick: active = %d, want 1", got)
	}

	// The end minute is outside the window.
	s.Tick(at(14, 0))
	if s.Active() != 0 || s.Window() != nil {
		t.Fatalf("window close: active = %d, window = %v, want idle", s.Active(), s.Window())
	}
}

func TestTickReplacesDeadRecorder(t *testing.T) {
	s := newTestSupervisor(t)

	s.Tick(at(11, 30))
	time.Sleep(200 * time.Millisecond)

	s.mu.Lock()
	old := s.recorders["camera_35"]
	s.mu.Unlock()
	if old == nil {
		t.Fatal("no recorder started for camera_35")
	}

	// Simulate a mid-window crash.
	old.Stop()

	s.Tick(at(11, 31))
	time.Sleep(200 * time.Millisecond)

	s.mu.Lock()
	replacement := s.recorders["camera_35"]
	s.mu.Unlock()
	if replacement == nil || replacement == old {
		t.Fatalf("recorder not replaced after crash: old=%p new=%p", old, replacement)
	}
	if got := s.Active(); got != 1 {
		t.Errorf("after replacement: active = %d, want 1", got)
	}
}

func TestTickRestartsOnWindowChange(t *testing.T) {
	s := newTestSupervisor(t)

	s.Tick(at(11, 30))
	time.Sleep(200 * time.Millisecond)
	s.mu.Lock()
	old := s.recorders["camera_35"]
	s.mu.Unlock()

	// Jump straight into the evening window without an idle tick between.
	s.Tick(at(18, 30))
	time.Sleep(200 * time.Millisecond)

	if w := s.Window(); w == nil || w.String() != "18:00-22:00" {
		t.Fatalf("window = %v, want 18:00-22:00", w)
	}
	s.mu.Lock()
	replacement := s.recorders["camera_35"]
	s.mu.Unlock()
	if replacement == old {
		t.Error("recorders were not restarted for the new window")
	}
	select {
	case <-old.Done():
	default:
		t.Error("old recorder still running after window change")
	}
}

func TestStopAll(t *testing.T) {
	s := newTestSupervisor(t)

	s.Tick(at(11, 30))
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	s.StopAll()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("StopAll took %v, want prompt finalization", elapsed)
	}
	if s.Active() != 0 {
		t.Errorf("active = %d after StopAll, want 0", s.Active())
	}
}
