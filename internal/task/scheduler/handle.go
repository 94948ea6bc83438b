package scheduler

import (
	"time"

	"tickwork/internal/task/trigger"
)

// handle is a registered task. Mutable fields are guarded by Scheduler.mu.
type handle struct {
	name   string
	seq    uint64
	action Action
	mode   Mode
	trig   *trigger.Trigger

	registeredAt time.Time

	cancelled bool
	running   int

	lastScheduled time.Time
	lastStarted   time.Time
	lastCompleted time.Time
	lastErr       error

	// nextDue is meaningful only while armed. A serialized or fixed-delay run
	// disarms the handle until it completes.
	nextDue time.Time
	armed   bool
	dormant bool

	runs     uint64
	failures uint64
	skips    uint64
}

func (h *handle) history() trigger.History {
	return trigger.History{LastScheduled: h.lastScheduled, LastCompleted: h.lastCompleted}
}

// rearmAtDispatch reports whether the next instant is computed when a run is
// dispatched rather than when it completes.
func (h *handle) rearmAtDispatch() bool {
	return h.mode == Concurrent && !h.trig.CompletionDriven()
}

func (h *handle) status() TaskStatus {
	st := TaskStatus{
		Name:             h.name,
		Policy:           h.trig.Policy().String(),
		Mode:             h.mode.String(),
		RegisteredAt:     h.registeredAt,
		LastScheduledAt:  h.lastScheduled,
		LastStartedAt:    h.lastStarted,
		LastCompletedAt:  h.lastCompleted,
		CurrentlyRunning: h.running > 0,
		Running:          h.running,
		Dormant:          h.dormant,
		LastError:        h.lastErr,
		Runs:             h.runs,
		Failures:         h.failures,
		Skips:            h.skips,
	}
	if h.armed {
		st.NextDueAt = h.nextDue
	}
	if h.lastErr != nil {
		st.LastErrorMsg = h.lastErr.Error()
	}
	return st
}
