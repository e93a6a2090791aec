// Package events buffers detection state changes and flushes them to the
// local store in batched transactions.
package events

import (
	"context"
	"time"
)

// Division states emitted by the analysis runner.
const (
	DivisionRed    = "RED"
	DivisionYellow = "YELLOW"
	DivisionGreen  = "GREEN"
)

// Table states emitted by the analysis runner.
const (
	TableIdle     = "IDLE"
	TableBusy     = "BUSY"
	TableCleaning = "CLEANING"
)

// DivisionEvent is one division state change. Rows are append-only;
// SyncedToCloud is flipped by the replicator after a cloud ack.
type DivisionEvent struct {
	ID                int64
	SessionID         string
	CameraID          string
	LocationID        string
	FrameNumber       int
	TimestampVideo    float64
	TimestampRecorded time.Time
	State             string
	WalkingWaiters    int
	ServiceWaiters    int
	TotalStaff        int
	ScreenshotPath    string
	CreatedAt         time.Time
	SyncedToCloud     bool
}

// TableEvent is one per-table state change.
type TableEvent struct {
	ID                int64
	SessionID         string
	CameraID          string
	LocationID        string
	FrameNumber       int
	TimestampVideo    float64
	TimestampRecorded time.Time
	TableID           string
	State             string
	CustomersCount    int
	WaitersCount      int
	ScreenshotPath    string
	CreatedAt         time.Time
	SyncedToCloud     bool
}

// Sink persists event batches. Each call is one transaction: either every
// row in the batch commits or none do.
type Sink interface {
	InsertDivisionEvents(ctx context.Context, batch []DivisionEvent) error
	InsertTableEvents(ctx context.Context, batch []TableEvent) error
}
