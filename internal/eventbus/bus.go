package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler and the executor pool.
const (
	TaskStarted   = "task.started"
	TaskFinished  = "task.finished"
	TaskFailed    = "task.failed"
	TaskSkipped   = "task.skipped"
	TaskCancelled = "task.cancelled"
)

// Event is a lightweight, in-memory signal used to decouple the scheduler from
// its observers (logging, history, metrics).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunEvent is the Data payload of task.* events.
type RunEvent struct {
	RunID       string        `json:"run_id"`
	Task        string        `json:"task"`
	Mode        string        `json:"mode"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Reason      string        `json:"reason,omitempty"`
	Missed      int           `json:"missed,omitempty"`
	Inline      bool          `json:"inline,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock across sends: unsubscribe takes the write lock before
	// closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped reports how many deliveries were dropped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
