// Package pool is a bounded executor for concurrent task runs: a fixed set of
// supervised workers draining a backlog queue, with an explicit overload policy.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	rtsup "tickwork/internal/runtime/supervisor"
	logx "tickwork/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Job is the unit handed to the pool. The context is cancelled when a
// shutdown deadline expires.
type Job func(ctx context.Context) error

type inlineKey struct{}

// RanInline reports whether the job that received ctx is running on the
// submitting goroutine because the backlog was full.
func RanInline(ctx context.Context) bool {
	v, _ := ctx.Value(inlineKey{}).(bool)
	return v
}

type queued struct {
	job Job
	fut *Future
}

type Pool struct {
	cfg   Config
	log   logx.Logger
	clock clockwork.Clock
	warn  *logx.Throttle

	mu      sync.Mutex
	q       chan queued
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	sup       *rtsup.Supervisor

	inFlight  int32
	submitted uint64
	completed uint64
	inline    uint64
	rejected  uint64
	panics    uint64
}

type Option func(*Pool)

func WithLogger(l logx.Logger) Option { return func(p *Pool) { p.log = l } }

// WithClock sets the clock used for Result timestamps.
func WithClock(c clockwork.Clock) Option { return func(p *Pool) { p.clock = c } }

// New starts the workers immediately. ctx bounds the lifetime of the run
// context handed to jobs.
func New(ctx context.Context, cfg Config, opts ...Option) *Pool {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		warn:  logx.NewThrottle(warnThrottleEvery),
		q:     make(chan queued, cfg.QueueSize),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.String("comp", "pool"))
	// Jobs outlive the caller's cancellation until Shutdown gives up on them.
	p.runCtx, p.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	p.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(p.log),
		rtsup.WithCancelOnError(false),
	)
	queue := p.q
	for i := 0; i < cfg.Workers; i++ {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(context.Context) error {
			p.worker(queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	p.log.Debug("pool started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize), logx.String("overload", cfg.Overload.String()))
	return p
}

func (p *Pool) Config() Config { return p.cfg }

// Submit hands job to a worker without blocking. When the backlog is full the
// overload policy applies: CallerRuns executes job before returning (the
// returned Future is already settled and Inline), Reject returns
// ErrPoolSaturated.
func (p *Pool) Submit(name string, job Job) (*Future, error) {
	if job == nil {
		return nil, fmt.Errorf("pool: nil job %q", name)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	fut := newFuture(name, false)
	select {
	case p.q <- queued{job: job, fut: fut}:
		p.mu.Unlock()
		atomic.AddUint64(&p.submitted, 1)
		return fut, nil
	default:
	}
	p.mu.Unlock()

	if p.cfg.Overload == Reject {
		n := atomic.AddUint64(&p.rejected, 1)
		p.warn.Warn(p.log, "reject", "pool saturated: job rejected",
			logx.String("task", name), logx.Int("queue_cap", cap(p.q)), logx.Uint64("rejected_total", n))
		return nil, ErrPoolSaturated
	}

	n := atomic.AddUint64(&p.inline, 1)
	atomic.AddUint64(&p.submitted, 1)
	p.warn.Warn(p.log, "inline", "pool saturated: running on caller",
		logx.String("task", name), logx.Int("queue_cap", cap(p.q)), logx.Uint64("inline_total", n))
	fut = newFuture(name, true)
	p.run(queued{job: job, fut: fut}, true)
	return fut, nil
}

func (p *Pool) worker(queue <-chan queued) {
	for it := range queue {
		p.run(it, false)
	}
}

func (p *Pool) run(it queued, inline bool) {
	atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)

	res := Result{Started: p.clock.Now(), Inline: inline}
	func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddUint64(&p.panics, 1)
				stack := string(debug.Stack())
				p.log.Error("job panicked", logx.String("task", it.fut.name), logx.Any("panic", r), logx.String("stack", stack))
				res.Err = &PanicError{Value: r, Stack: stack}
			}
		}()
		ctx := p.runCtx
		if inline {
			ctx = context.WithValue(ctx, inlineKey{}, true)
		}
		res.Err = it.job(ctx)
	}()
	res.Finished = p.clock.Now()
	atomic.AddUint64(&p.completed, 1)
	it.fut.settle(res)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx ends first the run context is cancelled and ctx.Err is
// returned; workers keep draining in the background.
func (p *Pool) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.q)
	}
	p.mu.Unlock()

	// Workers return nil once the queue is drained, which ends GoRestart.
	select {
	case <-p.sup.Done():
		p.runCancel()
		p.log.Debug("pool stopped")
		return nil
	case <-ctx.Done():
		p.runCancel()
		p.log.Warn("pool shutdown timed out; cancelling running jobs", logx.Int("in_flight", int(atomic.LoadInt32(&p.inFlight))))
		return ctx.Err()
	}
}

// Cancel signals running jobs without closing the pool.
func (p *Pool) Cancel() { p.runCancel() }

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	return Snapshot{
		Workers:   p.cfg.Workers,
		Overload:  p.cfg.Overload.String(),
		InFlight:  int(atomic.LoadInt32(&p.inFlight)),
		QueueLen:  len(p.q),
		QueueCap:  cap(p.q),
		Stopped:   stopped,
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Inline:    atomic.LoadUint64(&p.inline),
		Rejected:  atomic.LoadUint64(&p.rejected),
		Panics:    atomic.LoadUint64(&p.panics),
	}
}
