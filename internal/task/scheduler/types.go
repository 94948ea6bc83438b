package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickwork/internal/task/pool"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrInvalidTask   = errors.New("invalid task")
	ErrStopping      = errors.New("scheduler is stopping")
	// ErrOverlap is the skip reason for a serialized task that was still
	// running when it came due. Informational; never returned.
	ErrOverlap = errors.New("skipped: previous run still in progress")
)

// ActionFailure wraps an error returned (or a panic raised) by a task action.
type ActionFailure struct {
	Task string
	Err  error
}

func (e *ActionFailure) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }
func (e *ActionFailure) Unwrap() error { return e.Err }

// Action is the work a task performs. ctx is cancelled only when a shutdown
// grace period runs out.
type Action func(ctx context.Context) error

type Mode int

const (
	Serialized Mode = iota
	Concurrent
)

func (m Mode) String() string {
	switch m {
	case Serialized:
		return "serialized"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	Started
	Ran
)

func (k OutcomeKind) String() string {
	switch k {
	case Started:
		return "started"
	case Ran:
		return "ran"
	default:
		return "skipped"
	}
}

type SkipReason int

const (
	SkipNone SkipReason = iota
	// SkipOverlap: the task was still running when it came due.
	SkipOverlap
	// SkipSaturated: the pool rejected the run.
	SkipSaturated
	// SkipLate: the dispatch loop itself fell behind a concurrent fixed-rate task.
	SkipLate
)

func (r SkipReason) String() string {
	switch r {
	case SkipOverlap:
		return "overlap"
	case SkipSaturated:
		return "saturated"
	case SkipLate:
		return "late"
	default:
		return ""
	}
}

// Outcome is the result of one due fire.
type Outcome struct {
	Kind     OutcomeKind
	Reason   SkipReason
	RunID    string
	Duration time.Duration
	Err      error
	// Missed counts collapsed fixed-rate boundaries (Skipped only).
	Missed int
}

type Config struct {
	// Location is the default zone for cron policies without one.
	Location *time.Location
	// Quantum is the forward-progress clamp.
	Quantum time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Quantum <= 0 {
		c.Quantum = time.Millisecond
	}
	return c
}

// TaskStatus is a read-only copy of a task's run state.
type TaskStatus struct {
	Name             string    `json:"name"`
	Policy           string    `json:"policy"`
	Mode             string    `json:"mode"`
	RegisteredAt     time.Time `json:"registered_at"`
	LastScheduledAt  time.Time `json:"last_scheduled_at"`
	LastStartedAt    time.Time `json:"last_started_at"`
	LastCompletedAt  time.Time `json:"last_completed_at"`
	NextDueAt        time.Time `json:"next_due_at"`
	CurrentlyRunning bool      `json:"currently_running"`
	Running          int       `json:"running"`
	Dormant          bool      `json:"dormant,omitempty"`

	LastError    error  `json:"-"`
	LastErrorMsg string `json:"last_error,omitempty"`

	Runs     uint64 `json:"runs"`
	Failures uint64 `json:"failures"`
	Skips    uint64 `json:"skips"`
}

type Snapshot struct {
	State    string        `json:"state"`
	Now      time.Time     `json:"now"`
	Location string        `json:"location"`
	Tasks    []TaskStatus  `json:"tasks"`
	Pool     pool.Snapshot `json:"pool"`
}
