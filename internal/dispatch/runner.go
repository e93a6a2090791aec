package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aseofsmartice/surveillance/internal/events"
	"github.com/aseofsmartice/surveillance/internal/index"
)

// runnerKillGrace bounds how long a timed-out analysis process gets to
// react to the polite stop signal before it is hard-killed.
const runnerKillGrace = 5 * time.Second

// ErrDuplicateVideo is returned when the analysis runner reports the
// segment as already processed (exit code 2). The job is skipped,
// never retried.
var ErrDuplicateVideo = errors.New("runner reported video as already processed")

// Job is one unit of analysis work.
type Job struct {
	Segment    index.Segment
	SessionID  string
	LocationID string
	ROIPath    string
	ResultsDir string
}

// Result is what one analysis run produced: the frame total plus the
// state changes the runner detected, destined for the event buffer.
type Result struct {
	Frames    int64
	Divisions []events.DivisionEvent
	Tables    []events.TableEvent
}

// Runner executes the analysis over one segment.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// runnerEvent is one state-change line on the analysis process's stdout.
type runnerEvent struct {
	Type           string  `json:"type"` // "division" or "table"
	Frame          int     `json:"frame"`
	TimestampVideo float64 `json:"timestamp_video"`
	State          string  `json:"state"`
	WalkingWaiters int     `json:"walking_waiters"`
	ServiceWaiters int     `json:"service_waiters"`
	TotalStaff     int     `json:"total_staff"`
	TableID        string  `json:"table_id"`
	Customers      int     `json:"customers"`
	Waiters        int     `json:"waiters"`
	Screenshot     string  `json:"screenshot"`
}

// ExecRunner invokes an external analysis process. Exit code 0 means
// success, 2 means the video was already processed; anything else is a
// failure. Stdout carries one JSON object per detected state change and
// a trailing numeric frame-count line.
//
// A claimed job is never killed by a service stop: the subprocess runs
// detached from the caller's cancellation and is bounded only by
// Timeout. A timed-out process gets the same two-stage treatment as a
// capture subprocess: a polite signal first, a hard kill after the
// grace period.
type ExecRunner struct {
	// Argv is the command prefix from config, e.g. the analysis
	// executable plus fixed flags.
	Argv []string
	// Timeout is the per-job ceiling. Zero means unbounded.
	Timeout time.Duration
}

// Run executes the runner for one job.
func (r *ExecRunner) Run(ctx context.Context, job Job) (Result, error) {
	if len(r.Argv) == 0 {
		return Result{}, fmt.Errorf("no analysis runner configured")
	}

	runCtx := context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Argv[1:]...),
		"--video", job.Segment.Path,
		"--camera", job.Segment.CameraID,
		"--session", job.SessionID,
		"--roi", job.ROIPath,
		"--output", job.ResultsDir,
	)
	cmd := exec.CommandContext(runCtx, r.Argv[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = runnerKillGrace

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
			return Result{}, ErrDuplicateVideo
		}
		return Result{}, fmt.Errorf("analysis runner failed: %w", err)
	}
	return parseRunnerOutput(string(out)), nil
}

// parseRunnerOutput reads the runner's stdout: JSON event lines plus a
// trailing numeric frame count. Lines that are neither are ignored.
func parseRunnerOutput(out string) Result {
	var res Result
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if n, err := strconv.ParseInt(line, 10, 64); err == nil {
			res.Frames = n
			continue
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var e runnerEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		switch e.Type {
		case "division":
			res.Divisions = append(res.Divisions, events.DivisionEvent{
				FrameNumber:    e.Frame,
				TimestampVideo: e.TimestampVideo,
				State:          e.State,
				WalkingWaiters: e.WalkingWaiters,
				ServiceWaiters: e.ServiceWaiters,
				TotalStaff:     e.TotalStaff,
				ScreenshotPath: e.Screenshot,
			})
		case "table":
			res.Tables = append(res.Tables, events.TableEvent{
				FrameNumber:    e.Frame,
				TimestampVideo: e.TimestampVideo,
				TableID:        e.TableID,
				State:          e.State,
				CustomersCount: e.Customers,
				WaitersCount:   e.Waiters,
				ScreenshotPath: e.Screenshot,
			})
		}
	}
	return res
}
