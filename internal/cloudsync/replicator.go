package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aseofsmartice/surveillance/internal/bus"
	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/metrics"
	"github.com/aseofsmartice/surveillance/internal/store"
)

// Cloud table names. The cloud schema mirrors the local one 1:1.
const (
	TableSessions       = "ASE_sessions"
	TableDivisionStates = "ASE_division_states"
	TableTableStates    = "ASE_table_states"
)

// Replication modes.
const (
	ModeHourly = "hourly" // recent rows only, bounded by the lookback
	ModeFull   = "full"   // everything unsynced, regardless of age
)

// Replicator pushes unsynced rows to the cloud in batches. Rows are
// marked synced only after the cloud acknowledges the batch; a rejected
// batch stays unsynced and is retried on a later run.
type Replicator struct {
	cfg        config.SyncConfig
	db         *store.DB
	client     Client
	locationID string
	pub        bus.Publisher // may be nil
	logger     *slog.Logger
}

// NewReplicator creates a replicator over the given store and client.
func NewReplicator(cfg config.SyncConfig, db *store.DB, client Client, locationID string, pub bus.Publisher) *Replicator {
	return &Replicator{
		cfg:        cfg,
		db:         db,
		client:     client,
		locationID: locationID,
		pub:        pub,
		logger:     slog.Default().With("component", "cloudsync"),
	}
}

// Run performs one replication pass and records an audit row. A batch
// failure does not abort the pass: the cursor moves past the rejected
// batch and the run is recorded as partial.
func (r *Replicator) Run(ctx context.Context, mode string) (*store.SyncStatus, error) {
	runID := uuid.NewString()
	started := time.Now()
	logger := r.logger.With("run_id", runID, "mode", mode)
	logger.Info("Replication run started")

	var since time.Time
	if mode == ModeHourly {
		since = started.Add(-time.Duration(r.cfg.LookbackHours) * time.Hour)
	}

	var total int
	var failures []string

	n, errs := r.syncSessions(ctx, since)
	total += n
	failures = append(failures, errs...)

	n, errs = r.syncDivisionEvents(ctx, since)
	total += n
	failures = append(failures, errs...)

	n, errs = r.syncTableEvents(ctx, since)
	total += n
	failures = append(failures, errs...)

	pruned, err := r.db.PruneSyncedEvents(ctx, started.Add(-time.Duration(r.cfg.RetentionHours)*time.Hour))
	if err != nil {
		failures = append(failures, fmt.Sprintf("prune: %v", err))
	} else if pruned > 0 {
		logger.Info("Pruned synced events", "rows", pruned)
	}

	status := &store.SyncStatus{
		RunID:         runID,
		LocationID:    r.locationID,
		SyncType:      mode,
		LastSyncTime:  started,
		RecordsSynced: total,
		Status:        "success",
	}
	if len(failures) > 0 {
		status.Status = "partial"
		status.ErrorMessage = strings.Join(failures, "; ")
	}
	if err := r.db.InsertSyncStatus(ctx, status); err != nil {
		logger.Error("Failed to record sync status", "error", err)
	}

	logger.Info("Replication run finished",
		"records", total, "status", status.Status,
		"failures", len(failures), "elapsed", time.Since(started))
	r.publish(bus.SubjectSyncRun, map[string]any{
		"run_id":  runID,
		"mode":    mode,
		"records": total,
		"status":  status.Status,
	})
	return status, nil
}

// Loop runs hourly replication on the configured interval until the
// context ends.
func (r *Replicator) Loop(ctx context.Context) {
	interval := time.Duration(r.cfg.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, ModeHourly); err != nil {
				r.logger.Error("Replication run failed", "error", err)
			}
		}
	}
}

func (r *Replicator) syncSessions(ctx context.Context, since time.Time) (int, []string) {
	sessions, err := r.db.CompletedSessionsSince(ctx, since, r.cfg.BatchSize)
	if err != nil {
		return 0, []string{fmt.Sprintf("sessions: %v", err)}
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	rows := make([]cloudSession, len(sessions))
	for i, s := range sessions {
		rows[i] = toCloudSession(s, r.locationID)
	}
	if err := r.insert(ctx, TableSessions, rows); err != nil {
		metrics.SyncBatchesTotal.WithLabelValues("sessions", "error").Inc()
		return 0, []string{fmt.Sprintf("sessions: %v", err)}
	}
	metrics.SyncBatchesTotal.WithLabelValues("sessions", "success").Inc()
	metrics.SyncedRowsTotal.WithLabelValues("sessions").Add(float64(len(rows)))
	return len(rows), nil
}

func (r *Replicator) syncDivisionEvents(ctx context.Context, since time.Time) (int, []string) {
	var total int
	var failures []string
	var cursor int64

	for {
		batch, err := r.db.UnsyncedDivisionEvents(ctx, since, cursor, r.cfg.BatchSize)
		if err != nil {
			failures = append(failures, fmt.Sprintf("division: %v", err))
			break
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		rows := make([]cloudDivisionRow, len(batch))
		ids := make([]int64, len(batch))
		for i, e := range batch {
			rows[i] = toCloudDivisionRow(e, r.locationID)
			ids[i] = e.ID
		}

		if err := r.insert(ctx, TableDivisionStates, rows); err != nil {
			r.logger.Warn("Division batch rejected, moving on", "rows", len(rows), "error", err)
			metrics.SyncBatchesTotal.WithLabelValues("division_states", "error").Inc()
			failures = append(failures, fmt.Sprintf("division: %v", err))
			continue
		}
		if err := r.db.MarkDivisionEventsSynced(ctx, ids); err != nil {
			failures = append(failures, fmt.Sprintf("division mark: %v", err))
			break
		}
		metrics.SyncBatchesTotal.WithLabelValues("division_states", "success").Inc()
		metrics.SyncedRowsTotal.WithLabelValues("division_states").Add(float64(len(rows)))
		total += len(rows)
	}
	return total, failures
}

func (r *Replicator) syncTableEvents(ctx context.Context, since time.Time) (int, []string) {
	var total int
	var failures []string
	var cursor int64

	for {
		batch, err := r.db.UnsyncedTableEvents(ctx, since, cursor, r.cfg.BatchSize)
		if err != nil {
			failures = append(failures, fmt.Sprintf("table: %v", err))
			break
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		rows := make([]cloudTableRow, len(batch))
		ids := make([]int64, len(batch))
		for i, e := range batch {
			rows[i] = toCloudTableRow(e, r.locationID)
			ids[i] = e.ID
		}

		if err := r.insert(ctx, TableTableStates, rows); err != nil {
			r.logger.Warn("Table batch rejected, moving on", "rows", len(rows), "error", err)
			metrics.SyncBatchesTotal.WithLabelValues("table_states", "error").Inc()
			failures = append(failures, fmt.Sprintf("table: %v", err))
			continue
		}
		if err := r.db.MarkTableEventsSynced(ctx, ids); err != nil {
			failures = append(failures, fmt.Sprintf("table mark: %v", err))
			break
		}
		metrics.SyncBatchesTotal.WithLabelValues("table_states", "success").Inc()
		metrics.SyncedRowsTotal.WithLabelValues("table_states").Add(float64(len(rows)))
		total += len(rows)
	}
	return total, failures
}

// insert posts one batch under the per-batch timeout.
func (r *Replicator) insert(ctx context.Context, table string, rows any) error {
	batchCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	return r.client.Insert(batchCtx, table, rows)
}

func (r *Replicator) publish(subject string, data any) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(subject, data); err != nil {
		r.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
