package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database at Path (":memory:" works for tests)
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// CycleRecord summarizes one poll cycle.
type CycleRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Workspaces int       `json:"workspaces"`
	Tasks      int       `json:"tasks"`
	Documents  int       `json:"documents"`
	Fallbacks  int       `json:"fallbacks"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// DeliveryRecord is one webhook post.
type DeliveryRecord struct {
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"` // card or summary
	TaskID string    `json:"task_id,omitempty"`
	OK     bool      `json:"ok"`
}

// Store is the audit persistence API.
type Store interface {
	AppendCycle(ctx context.Context, r CycleRecord) error
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentCycles returns up to n cycles, newest first.
	RecentCycles(ctx context.Context, n int) ([]CycleRecord, error)
	Close() error
}
