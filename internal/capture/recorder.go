// Package capture runs per-camera recorders for the lifetime of the
// active capture window.
package capture

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/metrics"
)

const killGracePeriod = 5 * time.Second

// Counters tracks per-recorder session statistics.
type Counters struct {
	ConnectionAttempts int `json:"connection_attempts"`
	SuccessfulSegments int `json:"successful_segments"`
	FailedSegments     int `json:"failed_segments"`
	Reconnects         int `json:"reconnects"`
}

// Recorder records one camera as a sequence of finalized segment files.
// Each segment is its own capture subprocess bounded by -t, so a failed
// segment never blocks the next one.
type Recorder struct {
	camera    config.CameraConfig
	cfg       config.CaptureConfig
	videoRoot string

	// ffmpegPath is overridable for tests.
	ffmpegPath string

	mu       sync.RWMutex
	cmd      *exec.Cmd
	counters Counters

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// NewRecorder creates a recorder for one camera.
func NewRecorder(camera config.CameraConfig, cfg config.CaptureConfig, videoRoot string) *Recorder {
	return &Recorder{
		camera:     camera,
		cfg:        cfg,
		videoRoot:  videoRoot,
		ffmpegPath: "ffmpeg",
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "recorder", "camera", camera.ID),
	}
}

// Run records segments until totalSeconds of wall clock have elapsed or
// Stop is called. It returns only after the last subprocess has been
// finalized through the two-stage stop sequence.
func (r *Recorder) Run(totalSeconds int) {
	defer close(r.done)

	deadline := time.Now().Add(time.Duration(totalSeconds) * time.Second)
	r.logger.Info("session_start",
		"duration_seconds", totalSeconds,
		"segment_seconds", r.cfg.SegmentSeconds,
		"url", config.RedactURL(r.camera.RTSPURL()))
	metrics.RecordersActive.Inc()
	defer metrics.RecordersActive.Dec()

	segment := 0
	lastFailed := false
	for {
		remaining := int(time.Until(deadline).Seconds())
		if remaining <= 0 || r.stopped() {
			break
		}

		dur := r.cfg.SegmentSeconds
		if remaining < dur {
			dur = remaining
		}

		segment++
		if lastFailed {
			r.addReconnect()
		}

		err := r.recordSegment(segment, dur)
		if r.stopped() {
			// A stop mid-segment finalizes the file; the exit status of
			// a terminated subprocess is not a segment failure.
			break
		}
		if err != nil {
			lastFailed = true
			c := r.Counters()
			r.logger.Error("segment_error",
				"segment", segment,
				"error", err,
				"connection_attempts", c.ConnectionAttempts,
				"successful_segments", c.SuccessfulSegments,
				"failed_segments", c.FailedSegments)
			metrics.SegmentsTotal.WithLabelValues(r.camera.ID, "error").Inc()

			// Backoff before the next attempt, but wake up for stops.
			select {
			case <-r.stopCh:
			case <-time.After(time.Duration(r.cfg.BackoffSeconds) * time.Second):
			}
			continue
		}
		lastFailed = false
		metrics.SegmentsTotal.WithLabelValues(r.camera.ID, "success").Inc()
	}

	c := r.Counters()
	r.logger.Info("session_summary",
		"segments", segment,
		"connection_attempts", c.ConnectionAttempts,
		"successful_segments", c.SuccessfulSegments,
		"failed_segments", c.FailedSegments,
		"reconnects", c.Reconnects)
}

// recordSegment runs one capture subprocess for at most durSeconds.
func (r *Recorder) recordSegment(segment, durSeconds int) error {
	now := time.Now()
	dir := filepath.Join(r.videoRoot, now.Format("20060102"), r.camera.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.noteAttempt(false)
		return fmt.Errorf("failed to create segment directory: %w", err)
	}
	outPath := filepath.Join(dir, SegmentFileName(r.camera.ID, now))

	cmd := exec.Command(r.ffmpegPath, r.buildFFmpegArgs(durSeconds, outPath)...)
	// Subprocess output goes to the null device. Capturing it through
	// pipes is forbidden: a full pipe buffer stalls the muxer mid-run.
	cmd.Stdout = nil
	cmd.Stderr = nil

	r.mu.Lock()
	r.counters.ConnectionAttempts++
	attempt := r.counters.ConnectionAttempts
	r.mu.Unlock()

	r.logger.Info("ffmpeg_start",
		"segment", segment, "attempt", attempt,
		"duration_seconds", durSeconds, "output", outPath)

	if err := cmd.Start(); err != nil {
		r.noteAttempt(false)
		return fmt.Errorf("failed to start capture subprocess: %w", err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-r.stopCh:
		waitErr = r.terminate(cmd, waitDone)
	}

	stoppedNow := r.stopped()
	r.mu.Lock()
	r.cmd = nil
	switch {
	case waitErr == nil:
		r.counters.SuccessfulSegments++
	case stoppedNow:
		// Terminated by a stop request: the file was finalized by the
		// polite signal, which surfaces as a non-zero exit. Not a failure.
	default:
		r.counters.FailedSegments++
	}
	r.mu.Unlock()

	if stoppedNow {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("capture subprocess failed: %w", waitErr)
	}
	r.logger.Info("segment_complete", "segment", segment, "output", outPath)
	return nil
}

// terminate performs the two-stage stop: a polite SIGTERM so the muxer
// can write the container trailer, then a hard kill after the
// finalization budget. A direct kill corrupts the open segment.
func (r *Recorder) terminate(cmd *exec.Cmd, waitDone <-chan error) error {
	if cmd.Process == nil {
		return <-waitDone
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("Polite stop signal failed", "error", err)
	}

	budget := time.Duration(r.cfg.StopSeconds) * time.Second
	select {
	case err := <-waitDone:
		return err
	case <-time.After(budget):
	}

	r.logger.Warn("Finalization budget exceeded, killing subprocess",
		"budget_seconds", r.cfg.StopSeconds)
	if err := cmd.Process.Kill(); err != nil {
		r.logger.Error("Hard kill failed", "error", err)
	}

	select {
	case err := <-waitDone:
		return err
	case <-time.After(killGracePeriod):
		return fmt.Errorf("subprocess did not exit after hard kill")
	}
}

// Stop requests the two-stage stop sequence and blocks until the session
// loop has returned.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

// Done is closed when the session loop has exited.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Counters returns a snapshot of the session statistics.
func (r *Recorder) Counters() Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}

// CameraID returns the recorder's camera id.
func (r *Recorder) CameraID() string {
	return r.camera.ID
}

func (r *Recorder) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Recorder) noteAttempt(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.ConnectionAttempts++
	if !success {
		r.counters.FailedSegments++
	}
}

func (r *Recorder) addReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Reconnects++
}

// buildFFmpegArgs constructs the capture subprocess arguments:
// stream copy, fragmented output, hard duration bound.
func (r *Recorder) buildFFmpegArgs(durSeconds int, outPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", r.cfg.Transport,
		"-stimeout", strconv.Itoa(r.cfg.TimeoutSeconds * 1_000_000),
		"-analyzeduration", "5000000",
		"-probesize", "5000000",
		"-i", r.camera.RTSPURL(),
		"-c:v", "copy",
		"-c:a", "copy",
		"-movflags", "+frag_keyframe+empty_moov",
		"-t", strconv.Itoa(durSeconds),
		"-y",
		outPath,
	}
}

// SegmentFileName builds the canonical segment filename,
// <camera_id>_YYYYMMDD_HHMMSS.mp4.
func SegmentFileName(cameraID string, start time.Time) string {
	return fmt.Sprintf("%s_%s.mp4", cameraID, start.Format("20060102_150405"))
}
