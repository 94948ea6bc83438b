package pool

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPoolSaturated = errors.New("executor pool saturated")
	ErrPoolStopped   = errors.New("executor pool stopped")
)

// Overload decides what Submit does when the backlog queue is full.
type Overload int

const (
	// CallerRuns executes the job on the submitting goroutine.
	CallerRuns Overload = iota
	// Reject fails the submission with ErrPoolSaturated.
	Reject
)

func (o Overload) String() string {
	if o == Reject {
		return "reject"
	}
	return "caller_runs"
}

func ParseOverload(s string) (Overload, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "caller_runs", "caller-runs", "callerruns":
		return CallerRuns, nil
	case "reject":
		return Reject, nil
	}
	return CallerRuns, fmt.Errorf("unknown overload policy %q (use caller_runs or reject)", s)
}

type Config struct {
	Workers   int
	QueueSize int
	Overload  Overload
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// PanicError is returned for a job that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Result is the settled outcome of one job.
type Result struct {
	Err      error
	Started  time.Time
	Finished time.Time
	Inline   bool
}

func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Snapshot is a lightweight view for diagnostics and metrics.
type Snapshot struct {
	Workers  int    `json:"workers"`
	Overload string `json:"overload"`
	InFlight int    `json:"in_flight"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	Stopped  bool   `json:"stopped"`

	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Inline    uint64 `json:"inline"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
}
