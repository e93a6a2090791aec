package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aseofsmartice/surveillance/internal/bus"
	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/schedule"
)

// Supervisor keeps exactly one recorder per enabled camera while a
// capture window is active. It is driven by the controller's scheduler
// tick; all edge transitions happen inside Tick.
type Supervisor struct {
	cfg *config.Config
	pub bus.Publisher // may be nil

	mu        sync.Mutex
	recorders map[string]*Recorder
	window    *schedule.Window

	// ffmpegPath is forwarded to recorders; overridable for tests.
	ffmpegPath string
	logger     *slog.Logger
}

// NewSupervisor creates a supervisor over the config's enabled cameras.
func NewSupervisor(cfg *config.Config, pub bus.Publisher) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		pub:        pub,
		recorders:  make(map[string]*Recorder),
		ffmpegPath: "ffmpeg",
		logger:     slog.Default().With("component", "capture"),
	}
}

// Tick drives window edges for the given instant:
// outside→inside starts a recorder per enabled camera, inside→outside
// stops them all, a window change restarts them for the new window, and
// recorders that died mid-window are replaced.
func (s *Supervisor) Tick(now time.Time) {
	active := schedule.ActiveWindow(now, s.cfg.CaptureWindows())

	s.mu.Lock()
	defer s.mu.Unlock()

	if active == nil {
		if s.window != nil || len(s.recorders) > 0 {
			s.logger.Info("Capture window closed", "window", windowName(s.window))
			s.stopAllLocked()
			s.window = nil
			s.publish(bus.SubjectWindowStop, map[string]any{"at": now})
		}
		return
	}

	if s.window != nil && *s.window != *active {
		// The clock moved into a different window than the recorders
		// were started for. Finalize everything before restarting.
		s.logger.Info("Capture window changed, restarting recorders",
			"from", s.window.String(), "to", active.String())
		s.stopAllLocked()
	}

	if s.window == nil || *s.window != *active {
		s.window = active
		s.logger.Info("Capture window opened",
			"window", active.String(),
			"remaining_seconds", active.RemainingSeconds(now))
		s.publish(bus.SubjectWindowStart, map[string]any{
			"window": active.String(),
			"at":     now,
		})
	}

	// Start missing recorders. A late start (service restart mid-window)
	// yields a shorter session; a crashed recorder gets a replacement.
	for _, cam := range s.cfg.EnabledCameras() {
		if rec, ok := s.recorders[cam.ID]; ok {
			select {
			case <-rec.Done():
				s.logger.Warn("Recorder exited mid-window, replacing",
					"camera", cam.ID, "counters", rec.Counters())
				s.publish(bus.SubjectRecorderCrash, map[string]any{
					"camera":   cam.ID,
					"counters": rec.Counters(),
				})
				delete(s.recorders, cam.ID)
			default:
				continue
			}
		}

		remaining := active.RemainingSeconds(now)
		if remaining <= 0 {
			continue
		}
		rec := NewRecorder(cam, s.cfg.Capture, s.cfg.VideoRoot())
		rec.ffmpegPath = s.ffmpegPath
		s.recorders[cam.ID] = rec
		go rec.Run(remaining)
	}
}

// StopAll stops every recorder through the two-stage sequence and waits
// for them to finish. Safe to call from the controller's Stopping state.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.window = nil
}

// stopAllLocked stops recorders concurrently; each Stop blocks until the
// recorder's subprocess has been finalized or hard-killed.
func (s *Supervisor) stopAllLocked() {
	var wg sync.WaitGroup
	for _, rec := range s.recorders {
		wg.Add(1)
		go func(r *Recorder) {
			defer wg.Done()
			r.Stop()
		}(rec)
	}
	wg.Wait()
	s.recorders = make(map[string]*Recorder)
}

// Active returns the number of live recorders.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.recorders {
		select {
		case <-rec.Done():
		default:
			n++
		}
	}
	return n
}

// Window returns the window recorders are currently attached to, or nil.
func (s *Supervisor) Window() *schedule.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		return nil
	}
	w := *s.window
	return &w
}

func (s *Supervisor) publish(subject string, data any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

func windowName(w *schedule.Window) string {
	if w == nil {
		return "none"
	}
	return w.String()
}
