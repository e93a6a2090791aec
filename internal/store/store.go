// Package store provides the local SQLite store for sessions, detection
// events, and cloud-sync bookkeeping.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection for the appliance store.
// The store file is exclusively owned by this process; other components
// reach it through the event buffer or the replicator cursor.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Config holds store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default store configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open opens the store, creating the enclosing directory if needed
func Open(cfg *Config) (*DB, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// WAL keeps readers (replicator cursor) from blocking writer batches
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	pragmas := []string{
		"PRAGMA cache_size = -32000", // 32MB cache
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("Failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	logger.Info("Store opened", "path", cfg.Path)

	return &DB{
		DB:     db,
		path:   cfg.Path,
		logger: logger,
	}, nil
}

// Close closes the store connection
func (db *DB) Close() error {
	db.logger.Info("Closing store")
	return db.DB.Close()
}

// Path returns the store file path
func (db *DB) Path() string {
	return db.path
}

// Health checks the store connection
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

// Transaction wraps a function in a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Checkpoint forces a WAL checkpoint
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Backup copies the store file into its own directory with a timestamped
// name and returns the backup path. Callers must ensure no writer is
// mid-transaction; the migrator runs it before applying schema changes.
func (db *DB) Backup() (string, error) {
	src, err := os.Open(db.path)
	if err != nil {
		return "", fmt.Errorf("failed to open store for backup: %w", err)
	}
	defer src.Close()

	stamp := time.Now().Format("20060102_150405")
	base := filepath.Base(db.path)
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s_backup_%s%s", base[:len(base)-len(ext)], stamp, ext)
	backupPath := filepath.Join(filepath.Dir(db.path), name)

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to copy store to backup: %w", err)
	}

	db.logger.Info("Store backup created", "path", backupPath)
	return backupPath, nil
}

// FirstLocationID returns the location id of the first locations row, or
// empty if none exists. Single-location appliances have exactly one row;
// the first row is authoritative when more exist.
func (db *DB) FirstLocationID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx,
		"SELECT location_id FROM locations ORDER BY created_at LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read location id: %w", err)
	}
	return id, nil
}
