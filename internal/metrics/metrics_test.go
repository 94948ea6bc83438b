package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tickwork/internal/eventbus"
	"tickwork/internal/task/pool"
)

func run(typ, task string, d time.Duration) eventbus.Event {
	return eventbus.Event{Type: typ, Data: eventbus.RunEvent{Task: task, Duration: d}}
}

func TestCollectorObserve(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := New(reg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Observe(run(eventbus.TaskFinished, "a", 250*time.Millisecond))
	c.Observe(run(eventbus.TaskFinished, "a", 50*time.Millisecond))
	c.Observe(run(eventbus.TaskFailed, "a", time.Second))
	c.Observe(run(eventbus.TaskStarted, "a", 0))
	c.Observe(eventbus.Event{Type: eventbus.TaskSkipped, Data: eventbus.RunEvent{Task: "a", Reason: "overlap", Missed: 3}})
	c.Observe(eventbus.Event{Type: eventbus.TaskSkipped, Data: eventbus.RunEvent{Task: "a", Reason: "saturated"}})
	c.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: "not a run"})

	if got := testutil.ToFloat64(c.runs.WithLabelValues("a", "ok")); got != 2 {
		t.Fatalf("ok runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("a", "error")); got != 1 {
		t.Fatalf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.skips.WithLabelValues("a", "overlap")); got != 3 {
		t.Fatalf("overlap skips = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.skips.WithLabelValues("a", "saturated")); got != 1 {
		t.Fatalf("saturated skips = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.duration, "tickwork_task_duration_seconds"); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestCollectorAlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := New(reg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(reg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	first.Observe(run(eventbus.TaskFinished, "a", 0))
	second.Observe(run(eventbus.TaskFinished, "a", 0))
	if got := testutil.ToFloat64(first.runs.WithLabelValues("a", "ok")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestCollectorRunStopsOnClose(t *testing.T) {
	c, err := New(prom.NewRegistry(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	bus.Publish(run(eventbus.TaskFinished, "b", 0))

	done := make(chan struct{})
	go func() {
		_ = c.Run(context.Background(), ch)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.runs.WithLabelValues("b", "ok")) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("event not observed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	unsub()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after unsubscribe")
	}
}

func TestRegisterPool(t *testing.T) {
	reg := prom.NewRegistry()
	snap := pool.Snapshot{InFlight: 2, QueueLen: 5, Inline: 7, Rejected: 1}
	if err := RegisterPool(reg, func() pool.Snapshot { return snap }); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}

	want := `
# HELP tickwork_pool_queue_length Jobs waiting in the pool backlog.
# TYPE tickwork_pool_queue_length gauge
tickwork_pool_queue_length 5
# HELP tickwork_pool_rejected_total Jobs rejected because the pool was saturated.
# TYPE tickwork_pool_rejected_total counter
tickwork_pool_rejected_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "tickwork_pool_queue_length", "tickwork_pool_rejected_total"); err != nil {
		t.Fatal(err)
	}

	snap.InFlight = 3
	n, err := testutil.GatherAndCount(reg, "tickwork_pool_in_flight", "tickwork_pool_inline_total")
	if err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}

	if err := RegisterPool(reg, func() pool.Snapshot { return snap }); err == nil {
		t.Fatalf("second RegisterPool should fail on duplicate collectors")
	}
}

func TestNewRegistryGathers(t *testing.T) {
	reg := NewRegistry()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected runtime metrics")
	}
}
