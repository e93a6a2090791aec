package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateSession is returned when a session already exists for the
// same (camera_id, video_file) pair. Duplicate processing attempts are a
// non-error skip, never a retry.
var ErrDuplicateSession = errors.New("session already exists for this video file")

// Session is one execution of the analysis runner over one segment.
type Session struct {
	SessionID   string
	CameraID    string
	VideoFile   string
	LocationID  string
	StartTime   time.Time
	EndTime     sql.NullTime
	TotalFrames sql.NullInt64
	CreatedAt   time.Time
}

// CreateSession inserts a new session row. Returns ErrDuplicateSession if
// the (camera_id, video_file) pair is already present.
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, camera_id, video_file, location_id, start_time)
		VALUES (?, ?, ?, ?, ?)`,
		s.SessionID, s.CameraID, s.VideoFile, nullString(s.LocationID), s.StartTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// CompleteSession writes the end time and frame total for a session.
func (db *DB) CompleteSession(ctx context.Context, sessionID string, endTime time.Time, totalFrames int64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE sessions SET end_time = ?, total_frames = ? WHERE session_id = ?",
		endTime, totalFrames, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// GetSession returns a session by id, or nil if absent.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	var locationID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT session_id, camera_id, video_file, location_id, start_time, end_time, total_frames, created_at
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.SessionID, &s.CameraID, &s.VideoFile, &locationID,
		&s.StartTime, &s.EndTime, &s.TotalFrames, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	s.LocationID = locationID.String
	return &s, nil
}

// CompletedSessionsSince returns completed sessions created after since,
// oldest first. The cloud side upserts on session_id, so replicating the
// same session twice is harmless.
func (db *DB) CompletedSessionsSince(ctx context.Context, since time.Time, limit int) ([]Session, error) {
	query := `
		SELECT session_id, camera_id, video_file, COALESCE(location_id, ''),
		       start_time, end_time, total_frames, created_at
		FROM sessions
		WHERE end_time IS NOT NULL`
	args := []any{}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since)
	}
	query += " ORDER BY created_at LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.CameraID, &s.VideoFile, &s.LocationID,
			&s.StartTime, &s.EndTime, &s.TotalFrames, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ProcessedVideoFiles returns the set of already-processed files keyed by
// "<camera_id>/<video_file>". Loaded once per indexer scan so the walk
// does not issue one query per file.
func (db *DB) ProcessedVideoFiles(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT camera_id, video_file FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to query processed files: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]bool)
	for rows.Next() {
		var cameraID, videoFile string
		if err := rows.Scan(&cameraID, &videoFile); err != nil {
			return nil, err
		}
		processed[cameraID+"/"+videoFile] = true
	}
	return processed, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
