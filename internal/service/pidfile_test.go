package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "surveilled.pid")
	p := NewPIDFile(path)

	if err := p.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pid, ok := p.LivePID()
	if !ok || pid != os.Getpid() {
		t.Errorf("LivePID() = %d, %v, want own pid", pid, ok)
	}

	// Second acquire from the same live process is refused.
	if err := p.Acquire(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Acquire() while running = %v, want ErrAlreadyRunning", err)
	}

	p.Release()
	if _, ok := p.LivePID(); ok {
		t.Error("LivePID() still true after Release")
	}
}

func TestPIDFileStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surveilled.pid")
	// PID 4194304 is above the default kernel pid_max; nothing live owns it.
	if err := os.WriteFile(path, []byte("4194304"), 0644); err != nil {
		t.Fatalf("write stale pid: %v", err)
	}

	p := NewPIDFile(path)
	if _, ok := p.LivePID(); ok {
		t.Error("LivePID() = true for a stale pid")
	}
	if err := p.Acquire(); err != nil {
		t.Errorf("Acquire() over stale pid file error = %v", err)
	}
}

func TestPIDFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surveilled.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewPIDFile(path)
	if _, ok := p.Read(); ok {
		t.Error("Read() parsed garbage")
	}
	if err := p.Acquire(); err != nil {
		t.Errorf("Acquire() over garbage error = %v", err)
	}
}
