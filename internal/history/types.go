package history

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("history store closed")

// Config configures the history store.
//
// Driver values:
//   - "file": JSON Lines file at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // 0 keeps everything
}

// Record kinds.
const (
	KindRan       = "ran"
	KindFailed    = "failed"
	KindSkipped   = "skipped"
	KindCancelled = "cancelled"
)

// Record is one entry of the run log.
// Keep it compact and schema-stable.
type Record struct {
	At          time.Time `json:"at"`
	RunID       string    `json:"run_id,omitempty"`
	Task        string    `json:"task"`
	Kind        string    `json:"kind"`
	Mode        string    `json:"mode,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StartedAt   time.Time `json:"started_at"`
	TookMS      int64     `json:"took_ms"`
	Reason      string    `json:"reason,omitempty"`
	Missed      int       `json:"missed,omitempty"`
	Inline      bool      `json:"inline,omitempty"`
	Error       string    `json:"error,omitempty"`
}
