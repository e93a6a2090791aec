package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aseofsmartice/surveillance/internal/events"
)

// InsertDivisionEvents writes a batch of division events in one transaction.
func (db *DB) InsertDivisionEvents(ctx context.Context, batch []events.DivisionEvent) error {
	if len(batch) == 0 {
		return nil
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO division_states
			(session_id, camera_id, location_id, frame_number, timestamp_video,
			 timestamp_recorded, state, walking_area_waiters, service_area_waiters,
			 total_staff, screenshot_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range batch {
			_, err := stmt.ExecContext(ctx,
				e.SessionID, e.CameraID, nullString(e.LocationID), e.FrameNumber,
				e.TimestampVideo, e.TimestampRecorded, e.State,
				e.WalkingWaiters, e.ServiceWaiters, e.WalkingWaiters+e.ServiceWaiters,
				nullString(e.ScreenshotPath),
			)
			if err != nil {
				return fmt.Errorf("failed to insert division event: %w", err)
			}
		}
		return nil
	})
}

// InsertTableEvents writes a batch of table events in one transaction.
func (db *DB) InsertTableEvents(ctx context.Context, batch []events.TableEvent) error {
	if len(batch) == 0 {
		return nil
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO table_states
			(session_id, camera_id, location_id, frame_number, timestamp_video,
			 timestamp_recorded, table_id, state, customers_count, waiters_count,
			 screenshot_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range batch {
			_, err := stmt.ExecContext(ctx,
				e.SessionID, e.CameraID, nullString(e.LocationID), e.FrameNumber,
				e.TimestampVideo, e.TimestampRecorded, e.TableID, e.State,
				e.CustomersCount, e.WaitersCount, nullString(e.ScreenshotPath),
			)
			if err != nil {
				return fmt.Errorf("failed to insert table event: %w", err)
			}
		}
		return nil
	})
}

// UnsyncedDivisionEvents returns up to limit unsynced division events in
// oldest-first order. A non-zero since restricts to rows created after it
// (the hourly replication mode); afterID is the replicator's cursor so a
// rejected batch is not refetched within the same run.
func (db *DB) UnsyncedDivisionEvents(ctx context.Context, since time.Time, afterID int64, limit int) ([]events.DivisionEvent, error) {
	query := `
		SELECT division_state_id, session_id, camera_id, COALESCE(location_id, ''),
		       frame_number, timestamp_video, timestamp_recorded, state,
		       walking_area_waiters, service_area_waiters, total_staff,
		       COALESCE(screenshot_path, ''), created_at
		FROM division_states
		WHERE synced_to_cloud = 0 AND division_state_id > ?`
	args := []any{afterID}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since)
	}
	query += " ORDER BY division_state_id LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced division events: %w", err)
	}
	defer rows.Close()

	var out []events.DivisionEvent
	for rows.Next() {
		var e events.DivisionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CameraID, &e.LocationID,
			&e.FrameNumber, &e.TimestampVideo, &e.TimestampRecorded, &e.State,
			&e.WalkingWaiters, &e.ServiceWaiters, &e.TotalStaff,
			&e.ScreenshotPath, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnsyncedTableEvents returns up to limit unsynced table events in
// oldest-first order, optionally restricted by creation time and cursor.
func (db *DB) UnsyncedTableEvents(ctx context.Context, since time.Time, afterID int64, limit int) ([]events.TableEvent, error) {
	query := `
		SELECT table_state_id, session_id, camera_id, COALESCE(location_id, ''),
		       frame_number, timestamp_video, timestamp_recorded, table_id, state,
		       customers_count, waiters_count, COALESCE(screenshot_path, ''), created_at
		FROM table_states
		WHERE synced_to_cloud = 0 AND table_state_id > ?`
	args := []any{afterID}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since)
	}
	query += " ORDER BY table_state_id LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced table events: %w", err)
	}
	defer rows.Close()

	var out []events.TableEvent
	for rows.Next() {
		var e events.TableEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CameraID, &e.LocationID,
			&e.FrameNumber, &e.TimestampVideo, &e.TimestampRecorded, &e.TableID,
			&e.State, &e.CustomersCount, &e.WaitersCount, &e.ScreenshotPath,
			&e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDivisionEventsSynced flips synced_to_cloud for the given row ids in
// one transaction. Called strictly after a successful cloud insert.
func (db *DB) MarkDivisionEventsSynced(ctx context.Context, ids []int64) error {
	return db.markSynced(ctx, "division_states", "division_state_id", ids)
}

// MarkTableEventsSynced flips synced_to_cloud for the given row ids.
func (db *DB) MarkTableEventsSynced(ctx context.Context, ids []int64) error {
	return db.markSynced(ctx, "table_states", "table_state_id", ids)
}

func (db *DB) markSynced(ctx context.Context, table, idCol string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET synced_to_cloud = 1 WHERE %s IN (%s)",
			table, idCol, placeholders), args...)
		if err != nil {
			return fmt.Errorf("failed to mark %s synced: %w", table, err)
		}
		return nil
	})
}

// PruneSyncedEvents deletes synced rows older than the cutoff from both
// event tables and returns the number deleted. Unsynced rows are never
// touched regardless of age.
func (db *DB) PruneSyncedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"division_states", "table_states"} {
		res, err := db.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE synced_to_cloud = 1 AND created_at < ?", table), olderThan)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			total += n
		}
	}
	return total, nil
}

// SyncStatus is one replication-attempt audit row.
type SyncStatus struct {
	RunID         string
	LocationID    string
	SyncType      string // hourly or full
	LastSyncTime  time.Time
	RecordsSynced int
	Status        string // success or partial
	ErrorMessage  string
}

// InsertSyncStatus records a replication attempt.
func (db *DB) InsertSyncStatus(ctx context.Context, s *SyncStatus) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_status (run_id, location_id, sync_type, last_sync_time, records_synced, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, nullString(s.LocationID), s.SyncType, s.LastSyncTime,
		s.RecordsSynced, s.Status, nullString(s.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync status: %w", err)
	}
	return nil
}

// LatestSyncStatus returns the most recent audit row, or nil if none.
func (db *DB) LatestSyncStatus(ctx context.Context) (*SyncStatus, error) {
	var s SyncStatus
	var locationID, errMsg sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT run_id, location_id, sync_type, last_sync_time, records_synced, status, error_message
		FROM sync_status ORDER BY sync_id DESC LIMIT 1`,
	).Scan(&s.RunID, &locationID, &s.SyncType, &s.LastSyncTime, &s.RecordsSynced, &s.Status, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	s.LocationID = locationID.String
	s.ErrorMessage = errMsg.String
	return &s, nil
}
