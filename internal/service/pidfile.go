package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning means a live process owns the PID file.
var ErrAlreadyRunning = errors.New("service already running")

// PIDFile guards single-instance operation.
type PIDFile struct {
	path string
}

// NewPIDFile creates a handle for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current PID. If the file names a live process,
// ErrAlreadyRunning is returned; a stale file from a dead process is
// replaced silently.
func (p *PIDFile) Acquire() error {
	if pid, ok := p.Read(); ok && processAlive(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Read returns the recorded PID, or false if the file is absent or
// unparseable.
func (p *PIDFile) Read() (int, bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// LivePID returns the PID of a running instance, or false.
func (p *PIDFile) LivePID() (int, bool) {
	pid, ok := p.Read()
	if !ok || !processAlive(pid) {
		return 0, false
	}
	return pid, true
}

// Release removes the PID file. Removing it is the very last shutdown
// step: its presence means state may still be in flight.
func (p *PIDFile) Release() {
	_ = os.Remove(p.path)
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
