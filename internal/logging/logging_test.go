package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aseofsmartice/surveillance/internal/config"
)

func TestSetupLogFileContract(t *testing.T) {
	dir := t.TempDir()
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	logs, err := Setup(config.LoggingConfig{Level: "info", Dir: dir, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	slog.Default().With("component", "store").Info("store_opened")
	slog.Default().With("component", "store").Error("store_corrupt")
	slog.Default().With("component", "gpu").Info("gpu_sample", "temperature", 61)
	logs.Close()

	capture := readLog(t, filepath.Join(dir, CaptureLog))
	for _, want := range []string{"store_opened", "store_corrupt", "gpu_sample"} {
		if !strings.Contains(capture, want) {
			t.Errorf("capture log missing %q", want)
		}
	}

	errLog := readLog(t, filepath.Join(dir, ErrorLog))
	if !strings.Contains(errLog, "store_corrupt") {
		t.Error("error log missing the error record")
	}
	if strings.Contains(errLog, "store_opened") {
		t.Error("error log contains an info record")
	}

	perf := readLog(t, filepath.Join(dir, PerformanceLog))
	if !strings.Contains(perf, "gpu_sample") {
		t.Error("performance log missing the gpu record")
	}
	if strings.Contains(perf, "store_opened") {
		t.Error("performance log contains a non-performance component")
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
