package history

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"tickwork/internal/eventbus"
	logx "tickwork/pkg/logx"
)

// Recorder copies run outcomes from the event bus into a Store and applies the
// retention window.
type Recorder struct {
	store      Store
	log        logx.Logger
	warn       *logx.Throttle
	clock      clockwork.Clock
	retention  time.Duration
	pruneEvery time.Duration
	timeout    time.Duration
}

type RecorderOption func(*Recorder)

func WithLogger(l logx.Logger) RecorderOption       { return func(r *Recorder) { r.log = l } }
func WithClock(c clockwork.Clock) RecorderOption    { return func(r *Recorder) { r.clock = c } }
func WithRetention(d time.Duration) RecorderOption  { return func(r *Recorder) { r.retention = d } }
func WithPruneEvery(d time.Duration) RecorderOption { return func(r *Recorder) { r.pruneEvery = d } }

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		warn:       logx.NewThrottle(30 * time.Second),
		pruneEvery: time.Hour,
		timeout:    2 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.pruneEvery <= 0 {
		r.pruneEvery = time.Hour
	}
	return r
}

// Run consumes events until ctx is done or events is closed. Events already
// buffered when ctx ends are still written.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) error {
	var prune <-chan time.Time
	if r.retention > 0 {
		r.prune()
		t := r.clock.NewTicker(r.pruneEvery)
		defer t.Stop()
		prune = t.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			r.drain(events)
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.record(e)
		case <-prune:
			r.prune()
		}
	}
}

func (r *Recorder) drain(events <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			r.record(e)
		default:
			return
		}
	}
}

func (r *Recorder) record(e eventbus.Event) {
	rec, ok := FromEvent(e)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Append(ctx, rec); err != nil {
		r.warn.Warn(r.log, "append", "history append failed", logx.String("task", rec.Task), logx.Err(err))
	}
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.store.Prune(ctx, r.clock.Now().Add(-r.retention))
	if err != nil {
		r.warn.Warn(r.log, "prune", "history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Debug("history pruned", logx.Int64("removed", n))
	}
}

// FromEvent maps a task.* bus event to a history record. Started events and
// foreign payloads are not recorded.
func FromEvent(e eventbus.Event) (Record, bool) {
	var kind string
	switch e.Type {
	case eventbus.TaskFinished:
		kind = KindRan
	case eventbus.TaskFailed:
		kind = KindFailed
	case eventbus.TaskSkipped:
		kind = KindSkipped
	case eventbus.TaskCancelled:
		kind = KindCancelled
	default:
		return Record{}, false
	}
	ev, ok := e.Data.(eventbus.RunEvent)
	if !ok || ev.Task == "" {
		return Record{}, false
	}
	return Record{
		At:          e.Time,
		RunID:       ev.RunID,
		Task:        ev.Task,
		Kind:        kind,
		Mode:        ev.Mode,
		ScheduledAt: ev.ScheduledAt,
		StartedAt:   ev.StartedAt,
		TookMS:      ev.Duration.Milliseconds(),
		Reason:      ev.Reason,
		Missed:      ev.Missed,
		Inline:      ev.Inline,
		Error:       ev.Error,
	}, true
}
