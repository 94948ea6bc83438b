package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickwork/internal/eventbus"
	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/task/clock"
	"tickwork/internal/task/pool"
	"tickwork/internal/task/trigger"
	logx "tickwork/pkg/logx"
)

const warnThrottleEvery = 10 * time.Second

type Scheduler struct {
	cfg   Config
	clock clock.Clock
	pool  *pool.Pool
	log   logx.Logger
	bus   eventbus.Bus
	newID func() string
	warn  *logx.Throttle

	// wake is buffered(1): a pending signal is enough to make the loop
	// re-evaluate the earliest due instant.
	wake chan struct{}

	mu      sync.Mutex
	state   State
	tasks   map[string]*handle
	order   []*handle
	seq     uint64
	sup     *rtsup.Supervisor
	runCtx  context.Context
	cancel  context.CancelFunc
	// concCtx is the parent of Concurrent run contexts; it ends when the
	// shutdown grace runs out.
	concCtx    context.Context
	concCancel context.CancelFunc
	// serialRun is set while the dispatch loop executes a Serialized action.
	serialRun bool
	pending   int // concurrent runs submitted and not yet completed
	drained   chan struct{}
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option    { return func(s *Scheduler) { s.clock = c } }
func WithLogger(l logx.Logger) Option   { return func(s *Scheduler) { s.log = l } }
func WithBus(b eventbus.Bus) Option     { return func(s *Scheduler) { s.bus = b } }
func WithRunIDs(f func() string) Option { return func(s *Scheduler) { s.newID = f } }

// New creates a stopped scheduler. p runs Concurrent tasks; it may be nil when
// only Serialized tasks are registered.
func New(cfg Config, p *pool.Pool, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg.withDefaults(),
		pool:  p,
		newID: uuid.NewString,
		warn:  logx.NewThrottle(warnThrottleEvery),
		wake:  make(chan struct{}, 1),
		tasks: map[string]*handle{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	return s
}

// Register adds a task. The policy is validated (and cron expressions parsed)
// here so that a bad definition never reaches the dispatch loop. Safe to call
// while the scheduler is running.
func (s *Scheduler) Register(name string, action Action, policy trigger.Policy, mode Mode) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidTask)
	}
	if action == nil {
		return fmt.Errorf("%w: %s: action required", ErrInvalidTask, name)
	}
	if mode != Serialized && mode != Concurrent {
		return fmt.Errorf("%w: %s: unknown mode %d", ErrInvalidTask, name, mode)
	}
	if mode == Concurrent && s.pool == nil {
		return fmt.Errorf("%w: %s: concurrent mode needs an executor pool", ErrInvalidTask, name)
	}
	trig, err := trigger.Compile(policy, s.cfg.Location)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	s.mu.Lock()
	if s.state == StateStopping {
		s.mu.Unlock()
		return ErrStopping
	}
	if _, ok := s.tasks[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	s.seq++
	h := &handle{
		name:         name,
		seq:          s.seq,
		action:       action,
		mode:         mode,
		trig:         trig,
		registeredAt: s.clock.Now(),
	}
	s.tasks[name] = h
	s.order = append(s.order, h)
	if s.state == StateRunning {
		s.rearmLocked(h, s.clock.Now())
	}
	next := h.nextDue
	s.mu.Unlock()

	s.signal()
	s.log.Debug("task registered",
		logx.String("task", name),
		logx.String("policy", policy.String()),
		logx.String("mode", mode.String()),
		logx.Time("next", next),
	)
	return nil
}

// Cancel unregisters name. It reports false for an unknown name. An in-flight
// run finishes but the task never fires again.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	h, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.tasks, name)
	for i, o := range s.order {
		if o == h {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	h.cancelled = true
	h.armed = false
	mode := h.mode
	s.mu.Unlock()

	s.signal()
	s.publish(eventbus.TaskCancelled, eventbus.RunEvent{Task: name, Mode: mode.String()})
	s.log.Info("task cancelled", logx.String("task", name))
	return true
}

func (s *Scheduler) Status(name string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tasks[name]
	if !ok {
		return TaskStatus{}, false
	}
	return h.status(), true
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot lists every task in registration order.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:    s.state.String(),
		Now:      s.clock.Now(),
		Location: s.cfg.Location.String(),
		Tasks:    make([]TaskStatus, 0, len(s.order)),
	}
	for _, h := range s.order {
		snap.Tasks = append(snap.Tasks, h.status())
	}
	s.mu.Unlock()
	if s.pool != nil {
		snap.Pool = s.pool.Snapshot()
	}
	return snap
}

// Start arms every registered task and launches the dispatch loop. Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return nil
	case StateStopping:
		return ErrStopping
	}

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.concCtx, s.concCancel = context.WithCancel(s.runCtx)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.state = StateRunning

	now := s.clock.Now()
	for _, h := range s.order {
		if !h.armed {
			s.rearmLocked(h, now)
		}
	}
	s.sup.Go("dispatch", s.loop)
	s.log.Info("scheduler started", logx.Int("tasks", len(s.order)), logx.String("tz", s.cfg.Location.String()))
	return nil
}

// Stop stops admitting due fires and waits for in-flight runs:
//   - an inline Serialized run is waited for until ctx ends;
//   - Concurrent runs, including one the pool ran on the dispatch goroutine,
//     get up to grace from the call to Stop, after which their context is
//     cancelled and Stop returns without waiting further.
//
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context, grace time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	sup := s.sup
	cancelRuns, cancelConcurrent := s.cancel, s.concCancel
	s.mu.Unlock()

	s.log.Info("scheduler stopping", logx.Duration("grace", grace))
	sup.Cancel()

	graceC := graceTimer(grace)
	graceOver := false
	var err error
wait:
	for {
		select {
		case <-sup.Done():
			break wait
		case <-ctx.Done():
			err = ctx.Err()
			s.log.Warn("scheduler stop interrupted before the dispatch loop exited", logx.Err(err))
			break wait
		case <-graceC:
			graceC, graceOver = nil, true
			cancelConcurrent()
			// Only a Serialized run holds Stop past grace. A Concurrent run
			// the pool executed inline on the loop is abandoned like any other.
			if !s.serialInFlight() {
				break wait
			}
		}
	}

	if err == nil {
		expired := graceC
		if graceOver {
			expired = closedTimer()
		}
		err = s.awaitConcurrent(ctx, expired)
	}
	cancelRuns()

	s.mu.Lock()
	s.state = StateStopped
	for _, h := range s.order {
		h.armed = false
	}
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) awaitConcurrent(ctx context.Context, expired <-chan time.Time) error {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.drained == nil {
		s.drained = make(chan struct{})
	}
	drained := s.drained
	s.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-expired:
		s.mu.Lock()
		pending := s.pending
		s.mu.Unlock()
		if pending > 0 {
			s.log.Warn("shutdown grace elapsed; cancelling concurrent runs", logx.Int("in_flight", pending))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) serialInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialRun
}

// graceTimer fires once grace has elapsed on the wall clock. A non-positive
// grace is already expired.
func graceTimer(grace time.Duration) <-chan time.Time {
	if grace <= 0 {
		return closedTimer()
	}
	return time.After(grace)
}

func closedTimer() <-chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
