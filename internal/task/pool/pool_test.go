package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSubmitRunsOnWorker(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 2, QueueSize: 4})
	defer p.Shutdown(context.Background())

	boom := errors.New("boom")
	f, err := p.Submit("job", func(context.Context) error { return boom })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("res.Err=%v", res.Err)
	}
	if res.Inline || f.Inline() {
		t.Fatalf("queued job reported inline")
	}
	if res.Finished.Before(res.Started) {
		t.Fatalf("finished before started")
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 1, QueueSize: 1})
	defer p.Shutdown(context.Background())

	f, err := p.Submit("bad", func(context.Context) error { panic("kaboom") })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, _ := f.Wait(context.Background())
	var pe *PanicError
	if !errors.As(res.Err, &pe) || pe.Value != "kaboom" {
		t.Fatalf("err=%v", res.Err)
	}

	// The worker survives.
	f, _ = p.Submit("ok", func(context.Context) error { return nil })
	if res, _ := f.Wait(context.Background()); res.Err != nil {
		t.Fatalf("second job: %v", res.Err)
	}
	if p.Snapshot().Panics != 1 {
		t.Fatalf("panics=%d", p.Snapshot().Panics)
	}
}

// fill occupies the single worker and the single queue slot.
func fill(t *testing.T, p *Pool, release <-chan struct{}) {
	t.Helper()
	var started atomic.Bool
	if _, err := p.Submit("busy", func(ctx context.Context) error {
		if RanInline(ctx) {
			t.Errorf("worker job context marked inline")
		}
		started.Store(true)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	waitFor(t, "worker busy", started.Load)
	if _, err := p.Submit("queued", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}
}

func TestCallerRunsWhenSaturated(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 1, QueueSize: 1, Overload: CallerRuns})
	release := make(chan struct{})
	fill(t, p, release)

	ran, marked := false, false
	f, err := p.Submit("overflow", func(ctx context.Context) error {
		ran, marked = true, RanInline(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ran {
		t.Fatalf("caller-runs should execute before Submit returns")
	}
	if !marked {
		t.Fatalf("inline job context not marked")
	}
	res, ok := f.Result()
	if !ok || !res.Inline || !f.Inline() {
		t.Fatalf("future not settled inline: ok=%v res=%+v", ok, res)
	}
	if got := p.Snapshot().Inline; got != 1 {
		t.Fatalf("inline=%d", got)
	}

	close(release)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRejectWhenSaturated(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 1, QueueSize: 1, Overload: Reject})
	release := make(chan struct{})
	fill(t, p, release)

	if _, err := p.Submit("overflow", func(context.Context) error { return nil }); !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("err=%v", err)
	}
	snap := p.Snapshot()
	if snap.Rejected != 1 || snap.QueueLen != 1 || snap.InFlight != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	close(release)
	_ = p.Shutdown(context.Background())
}

func TestShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 1, QueueSize: 8})
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		if _, err := p.Submit("job", func(context.Context) error { n.Add(1); return nil }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n.Load() != 5 {
		t.Fatalf("ran %d jobs, want 5", n.Load())
	}
	if _, err := p.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("err=%v", err)
	}
	if !p.Snapshot().Stopped {
		t.Fatalf("snapshot not stopped")
	}
}

func TestShutdownDeadlineCancelsRunContext(t *testing.T) {
	t.Parallel()

	p := New(context.Background(), Config{Workers: 1, QueueSize: 1})
	cancelled := make(chan struct{})
	var started atomic.Bool
	_, _ = p.Submit("slow", func(ctx context.Context) error {
		started.Store(true)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	waitFor(t, "job start", started.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err=%v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("job context was not cancelled")
	}
}

func TestParseOverload(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Overload{"": CallerRuns, "caller_runs": CallerRuns, "Reject": Reject} {
		got, err := ParseOverload(in)
		if err != nil || got != want {
			t.Fatalf("ParseOverload(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseOverload("block"); err == nil {
		t.Fatalf("expected error")
	}
}
