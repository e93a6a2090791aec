// Package dispatch runs the overnight processing pool: a dynamic set of
// workers draining the segment queue, scaled by GPU telemetry.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/aseofsmartice/surveillance/internal/bus"
	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/events"
	"github.com/aseofsmartice/surveillance/internal/gpu"
	"github.com/aseofsmartice/surveillance/internal/index"
	"github.com/aseofsmartice/surveillance/internal/metrics"
	"github.com/aseofsmartice/surveillance/internal/store"
)

// Dispatcher owns one processing run at a time. Workers claim segments
// oldest-first; session rows claim a (camera, file) pair before the
// runner starts, so a segment is never analyzed twice even across
// restarts.
type Dispatcher struct {
	cfg    *config.Config
	db     *store.DB
	runner Runner
	buffer *events.Buffer // may be nil
	pub    bus.Publisher  // may be nil

	mu          sync.Mutex
	workers     int
	desired     int
	pausedUntil time.Time

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store and runner.
// Detected state changes flow through buffer into the store.
func NewDispatcher(cfg *config.Config, db *store.DB, runner Runner, buffer *events.Buffer, pub bus.Publisher) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		db:     db,
		runner: runner,
		buffer: buffer,
		pub:    pub,
		logger: slog.Default().With("component", "dispatch"),
	}
}

// Process drains the given segments with a worker pool that starts at
// min_workers and follows scaling actions from the telemetry monitor.
// It returns when the queue is empty and every worker has exited, or
// when the context is canceled (in-flight jobs finish first).
func (d *Dispatcher) Process(ctx context.Context, segments []index.Segment, actions <-chan gpu.Action) error {
	if len(segments) == 0 {
		d.logger.Info("No segments to process")
		return nil
	}

	queue := NewQueue(segments)
	metrics.QueueDepth.Set(float64(queue.Len()))
	d.logger.Info("Processing run started",
		"segments", len(segments), "workers", d.cfg.Processing.MinWorkers)
	d.publish(bus.SubjectProcessingRun, map[string]any{
		"segments": len(segments),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	d.mu.Lock()
	d.desired = d.cfg.Processing.MinWorkers
	d.mu.Unlock()
	for i := 0; i < d.cfg.Processing.MinWorkers; i++ {
		d.spawn(runCtx, queue, &wg)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		d.scaleLoop(runCtx, queue, &wg, actions)
	}()

	wg.Wait()
	cancel()
	<-monitorDone

	if d.buffer != nil {
		if err := d.buffer.FlushAll(context.WithoutCancel(ctx)); err != nil {
			d.logger.Error("End-of-run event flush failed, rows retained", "error", err)
		}
	}

	metrics.QueueDepth.Set(0)
	d.logger.Info("Processing run finished", "remaining", queue.Len())
	return ctx.Err()
}

// WorkerCount returns the live pool size, for the telemetry classifier.
func (d *Dispatcher) WorkerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers
}

func (d *Dispatcher) spawn(ctx context.Context, queue *Queue, wg *sync.WaitGroup) {
	d.mu.Lock()
	d.workers++
	metrics.WorkersActive.Set(float64(d.workers))
	d.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.worker(ctx, queue)
	}()
}

func (d *Dispatcher) worker(ctx context.Context, queue *Queue) {
	defer func() {
		d.mu.Lock()
		d.workers--
		metrics.WorkersActive.Set(float64(d.workers))
		d.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil || d.shouldShrink() {
			return
		}
		if !d.waitPause(ctx) {
			return
		}

		seg, ok := queue.Pop()
		if !ok {
			return
		}
		metrics.QueueDepth.Set(float64(queue.Len()))

		// Re-check after the pop so a shrink decision does not lose the
		// claimed segment.
		if ctx.Err() != nil || d.shouldShrink() {
			queue.Push(seg)
			return
		}

		// A claimed job always runs to completion. The cancel signal only
		// stops workers from claiming the next segment; killing the
		// analysis mid-frame would leave a half-written session.
		d.runJob(context.WithoutCancel(ctx), seg)
	}
}

// shouldShrink lets the first worker that notices an oversized pool
// exit. Workers never shrink below desired.
func (d *Dispatcher) shouldShrink() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers > d.desired
}

// waitPause blocks while an emergency pause is active. Returns false if
// the context ended while waiting.
func (d *Dispatcher) waitPause(ctx context.Context) bool {
	for {
		d.mu.Lock()
		wait := time.Until(d.pausedUntil)
		d.mu.Unlock()
		if wait <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, seg index.Segment) {
	job := Job{
		Segment:    seg,
		SessionID:  seg.SessionID(),
		LocationID: d.cfg.System.LocationID,
		ROIPath:    d.cfg.ROIPath(seg.CameraID),
		ResultsDir: d.cfg.ResultsRoot(),
	}
	logger := d.logger.With("session", job.SessionID, "video", seg.Path)

	err := d.db.CreateSession(ctx, &store.Session{
		SessionID:  job.SessionID,
		CameraID:   seg.CameraID,
		VideoFile:  filepath.Base(seg.Path),
		LocationID: job.LocationID,
		StartTime:  seg.StartTS,
	})
	if errors.Is(err, store.ErrDuplicateSession) {
		if existing, gerr := d.db.GetSession(ctx, job.SessionID); gerr == nil &&
			existing != nil && !existing.EndTime.Valid {
			// Leftover from a crashed run: the claim exists but the
			// analysis never finished. Skipped here, caught by the
			// operator via the incomplete session row.
			logger.Warn("Segment claimed by an incomplete session, skipping",
				"claimed_at", existing.CreatedAt)
		} else {
			logger.Info("Segment already has a session, skipping")
		}
		metrics.JobsTotal.WithLabelValues("duplicate").Inc()
		return
	}
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}

	started := time.Now()
	result, err := d.runner.Run(ctx, job)
	switch {
	case errors.Is(err, ErrDuplicateVideo):
		logger.Info("Runner reported duplicate video, skipping")
		metrics.JobsTotal.WithLabelValues("duplicate").Inc()
		return
	case err != nil:
		logger.Error("Analysis failed", "error", err, "elapsed", time.Since(started))
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}

	d.ingestEvents(ctx, job, result)

	if err := d.db.CompleteSession(ctx, job.SessionID, time.Now(), result.Frames); err != nil {
		logger.Error("Failed to complete session", "error", err)
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}

	logger.Info("Segment processed",
		"frames", result.Frames,
		"division_events", len(result.Divisions),
		"table_events", len(result.Tables),
		"elapsed", time.Since(started))
	metrics.JobsTotal.WithLabelValues("success").Inc()
	d.publish(bus.SubjectProcessingJob, map[string]any{
		"session": job.SessionID,
		"camera":  seg.CameraID,
		"frames":  result.Frames,
	})
}

// ingestEvents stamps the session identity onto the runner's state
// changes and pushes them through the batch buffer. The wall-clock
// timestamp is derived from the segment start plus the in-video offset.
func (d *Dispatcher) ingestEvents(ctx context.Context, job Job, result Result) {
	if d.buffer == nil {
		return
	}

	for _, e := range result.Divisions {
		e.SessionID = job.SessionID
		e.CameraID = job.Segment.CameraID
		e.LocationID = job.LocationID
		e.TimestampRecorded = job.Segment.StartTS.Add(
			time.Duration(e.TimestampVideo * float64(time.Second)))
		if err := d.buffer.AddDivision(ctx, e); err != nil {
			d.logger.Error("Division event flush failed, rows retained",
				"session", job.SessionID, "error", err)
		}
	}
	for _, e := range result.Tables {
		e.SessionID = job.SessionID
		e.CameraID = job.Segment.CameraID
		e.LocationID = job.LocationID
		e.TimestampRecorded = job.Segment.StartTS.Add(
			time.Duration(e.TimestampVideo * float64(time.Second)))
		if err := d.buffer.AddTable(ctx, e); err != nil {
			d.logger.Error("Table event flush failed, rows retained",
				"session", job.SessionID, "error", err)
		}
	}
}

// scaleLoop applies telemetry actions to the pool. Scale-up spawns one
// worker, scale-down retires one, an emergency drops straight to the
// minimum and pauses new jobs for the emergency window.
func (d *Dispatcher) scaleLoop(ctx context.Context, queue *Queue, wg *sync.WaitGroup, actions <-chan gpu.Action) {
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-actions:
			if !ok {
				return
			}
			switch action {
			case gpu.ScaleUp:
				d.mu.Lock()
				grow := d.desired < d.cfg.Processing.MaxWorkers
				if grow {
					d.desired++
				}
				desired := d.desired
				d.mu.Unlock()
				if grow {
					d.logger.Info("Scaling up workers", "desired", desired)
					d.spawn(ctx, queue, wg)
				}
			case gpu.ScaleDown:
				d.mu.Lock()
				if d.desired > d.cfg.Processing.MinWorkers {
					d.desired--
					d.logger.Info("Scaling down workers", "desired", d.desired)
				}
				d.mu.Unlock()
			case gpu.Emergency:
				d.mu.Lock()
				d.desired = d.cfg.Processing.MinWorkers
				pause := time.Duration(d.cfg.GPU.EmergencySeconds) * time.Second
				d.pausedUntil = time.Now().Add(pause)
				d.mu.Unlock()
				d.logger.Warn("Emergency shrink",
					"desired", d.cfg.Processing.MinWorkers, "pause", pause)
			}
		}
	}
}

func (d *Dispatcher) publish(subject string, data any) {
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(subject, data); err != nil {
		d.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
