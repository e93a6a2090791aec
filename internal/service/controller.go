// Package service owns the always-on lifecycle: the scheduler tick, the
// processing trigger, ordered shutdown, and the status snapshot.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aseofsmartice/surveillance/internal/api"
	"github.com/aseofsmartice/surveillance/internal/bus"
	"github.com/aseofsmartice/surveillance/internal/capture"
	"github.com/aseofsmartice/surveillance/internal/cloudsync"
	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/diskmon"
	"github.com/aseofsmartice/surveillance/internal/dispatch"
	"github.com/aseofsmartice/surveillance/internal/events"
	"github.com/aseofsmartice/surveillance/internal/gpu"
	"github.com/aseofsmartice/surveillance/internal/index"
	"github.com/aseofsmartice/surveillance/internal/store"
)

// Service states, reported on /status.
const (
	StateInit     = "init"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Controller drives every subsystem off one scheduler tick.
type Controller struct {
	cfg        *config.Config
	db         *store.DB
	supervisor *capture.Supervisor
	dispatcher *dispatch.Dispatcher
	scanner    *index.Scanner
	buffer     *events.Buffer
	replicator *cloudsync.Replicator // nil when the cloud endpoint is not configured
	monitor    *diskmon.Monitor
	sampler    gpu.Sampler
	bus        *bus.Bus // may be nil

	mu        sync.Mutex
	state     string
	startedAt time.Time
	crashes   int64 // recorder crashes observed on the bus since start

	procMu        sync.Mutex
	procDone      chan struct{} // non-nil while a processing run is active
	procStop      context.CancelFunc
	overrunWarned bool

	logger *slog.Logger
}

// Deps bundles the controller's collaborators.
type Deps struct {
	DB         *store.DB
	Supervisor *capture.Supervisor
	Dispatcher *dispatch.Dispatcher
	Scanner    *index.Scanner
	Buffer     *events.Buffer
	Replicator *cloudsync.Replicator
	Monitor    *diskmon.Monitor
	Sampler    gpu.Sampler
	Bus        *bus.Bus
}

// NewController creates the controller.
func NewController(cfg *config.Config, deps Deps) *Controller {
	return &Controller{
		cfg:        cfg,
		db:         deps.DB,
		supervisor: deps.Supervisor,
		dispatcher: deps.Dispatcher,
		scanner:    deps.Scanner,
		buffer:     deps.Buffer,
		replicator: deps.Replicator,
		monitor:    deps.Monitor,
		sampler:    deps.Sampler,
		bus:        deps.Bus,
		state:      StateInit,
		logger:     slog.Default().With("component", "service"),
	}
}

// Run executes until the context ends, then performs the ordered
// shutdown: recorders first, then the processing pool, then the event
// buffer, then a final replication pass.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	c.state = StateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	if c.bus != nil {
		if err := c.bus.Subscribe(bus.SubjectRecorderCrash, func(bus.Event) {
			c.mu.Lock()
			c.crashes++
			c.mu.Unlock()
		}); err != nil {
			c.logger.Warn("Cannot subscribe to recorder crash events", "error", err)
		}
	}

	if c.monitor != nil {
		go c.monitor.Loop(ctx)
	}
	if c.replicator != nil {
		go c.replicator.Loop(ctx)
	} else {
		c.logger.Warn("Cloud replication disabled: endpoint not configured")
	}

	ticker := time.NewTicker(c.cfg.Tick())
	defer ticker.Stop()

	c.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case now := <-ticker.C:
			c.tick(ctx, now)
		}
	}
}

// tick drives one scheduler step: capture window edges, then the
// processing trigger.
func (c *Controller) tick(ctx context.Context, now time.Time) {
	c.supervisor.Tick(now)

	if c.cfg.ProcessingWindow().Contains(now) {
		c.startProcessing(ctx, now)
	} else {
		c.noteOverrun()
	}
}

// noteOverrun warns once when a processing run is still draining past
// the window end. The run is never canceled here: an in-flight segment
// finishes, and the window edge only stops new runs from starting.
func (c *Controller) noteOverrun() {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.procDone == nil {
		return
	}
	select {
	case <-c.procDone:
		c.procDone = nil
		c.procStop = nil
		return
	default:
	}
	if !c.overrunWarned {
		c.overrunWarned = true
		c.logger.Warn("Processing still running past window end, letting it drain",
			"window", c.cfg.Processing.Window)
	}
}

// startProcessing launches a processing run unless one is active.
// Re-entry after a completed run is harmless: everything already
// processed has a session and is filtered out at scan time.
func (c *Controller) startProcessing(ctx context.Context, now time.Time) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.procDone != nil {
		select {
		case <-c.procDone:
			c.procDone = nil
			c.procStop = nil
		default:
			return
		}
	}

	procCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.procDone = done
	c.procStop = cancel
	c.overrunWarned = false

	go func() {
		defer close(done)
		c.runProcessing(procCtx, now)
	}()
}

func (c *Controller) runProcessing(ctx context.Context, now time.Time) {
	processed, err := c.db.ProcessedVideoFiles(ctx)
	if err != nil {
		c.logger.Error("Cannot load processed files", "error", err)
		return
	}

	enabled := make(map[string]bool)
	for _, cam := range c.cfg.EnabledCameras() {
		enabled[cam.ID] = true
	}
	segments, err := c.scanner.Scan(index.Options{
		Now:       now,
		Enabled:   enabled,
		AllowList: c.cfg.Processing.AllowList,
		Processed: processed,
	})
	if err != nil {
		c.logger.Error("Segment scan failed", "error", err)
		return
	}
	if len(segments) == 0 {
		return
	}

	actions := make(chan gpu.Action, 4)
	classifier := gpu.NewClassifier(c.cfg.GPU,
		c.cfg.Processing.MinWorkers, c.cfg.Processing.MaxWorkers, time.Now())
	if c.sampler != nil {
		go gpu.Monitor(ctx, c.sampler, classifier,
			time.Duration(c.cfg.GPU.IntervalSeconds)*time.Second,
			c.dispatcher.WorkerCount, actions)
	}

	if err := c.dispatcher.Process(ctx, segments, actions); err != nil {
		c.logger.Warn("Processing run ended early", "error", err)
	}
}

// stopProcessing cancels an active run. With wait set it blocks until
// in-flight jobs have finished.
func (c *Controller) stopProcessing(wait bool) {
	c.procMu.Lock()
	stop := c.procStop
	done := c.procDone
	c.procMu.Unlock()
	if stop == nil {
		return
	}

	stop()
	if wait && done != nil {
		<-done
	}

	c.procMu.Lock()
	if c.procDone == done {
		c.procDone = nil
		c.procStop = nil
	}
	c.procMu.Unlock()
}

// shutdown runs the ordered stop sequence. Order matters: open segments
// are finalized before the processing pool drains, buffered events are
// flushed before the final replication pass reads the store.
func (c *Controller) shutdown() {
	c.mu.Lock()
	c.state = StateStopping
	c.mu.Unlock()
	c.logger.Info("Shutdown started")

	c.supervisor.StopAll()
	c.stopProcessing(true)

	if c.buffer != nil {
		if err := c.buffer.FlushAll(context.Background()); err != nil {
			c.logger.Error("Final event flush failed", "error", err)
		}
	}

	if c.replicator != nil {
		syncCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if _, err := c.replicator.Run(syncCtx, cloudsync.ModeFull); err != nil {
			c.logger.Error("Final replication failed", "error", err)
		}
		cancel()
	}

	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := c.db.Checkpoint(checkCtx); err != nil {
		c.logger.Warn("Final checkpoint failed", "error", err)
	}
	cancel()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.logger.Info("Shutdown complete")
}

// Healthy implements api.StatusService.
func (c *Controller) Healthy(ctx context.Context) error {
	return c.db.Health(ctx)
}

// Snapshot implements api.StatusService.
func (c *Controller) Snapshot(ctx context.Context) (*api.StatusReport, error) {
	c.mu.Lock()
	state := c.state
	startedAt := c.startedAt
	crashes := c.crashes
	c.mu.Unlock()

	report := &api.StatusReport{
		State:           state,
		StartedAt:       startedAt,
		LocationID:      c.cfg.System.LocationID,
		ActiveRecorders: c.supervisor.Active(),
		RecorderCrashes: crashes,
		Workers:         c.dispatcher.WorkerCount(),
		CloudEnabled:    c.replicator != nil,
		Cameras:         len(c.cfg.EnabledCameras()),
	}
	if !startedAt.IsZero() {
		report.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if w := c.supervisor.Window(); w != nil {
		report.CaptureWindow = w.String()
	}
	if free, err := diskmon.FreeGB(c.cfg.System.Root); err == nil {
		report.DiskFreeGB = free
	}
	if last, err := c.db.LatestSyncStatus(ctx); err == nil && last != nil {
		report.LastSync = &api.SyncInfo{
			RunID:   last.RunID,
			Mode:    last.SyncType,
			At:      last.LastSyncTime,
			Records: last.RecordsSynced,
			Status:  last.Status,
		}
	}
	return report, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
