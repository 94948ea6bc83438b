// Package metrics exposes scheduler and pool activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tickwork/internal/eventbus"
	"tickwork/internal/task/pool"
)

const namespace = "tickwork"

// Options controls collector configuration.
type Options struct {
	DurationBuckets []float64
}

// Collector turns task.* bus events into counters and a duration histogram.
type Collector struct {
	runs     *prom.CounterVec
	skips    *prom.CounterVec
	duration *prom.HistogramVec
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates and registers the task collectors. Registering twice against the
// same registry reuses the existing collectors.
func New(reg prom.Registerer, opts Options) (*Collector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	runs := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_runs_total",
		Help:      "Completed task runs by result.",
	}, []string{"task", "result"})
	skips := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_skips_total",
		Help:      "Skipped task fires by reason.",
	}, []string{"task", "reason"})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task run duration in seconds.",
		Buckets:   buckets,
	}, []string{"task"})

	var err error
	if runs, err = registerCollector(reg, runs); err != nil {
		return nil, err
	}
	if skips, err = registerCollector(reg, skips); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	return &Collector{runs: runs, skips: skips, duration: duration}, nil
}

// Observe records one bus event. Events that are not run outcomes are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	if c == nil {
		return
	}
	ev, ok := e.Data.(eventbus.RunEvent)
	if !ok {
		return
	}
	task := normalizeLabel(ev.Task, "unknown")
	switch e.Type {
	case eventbus.TaskFinished:
		c.runs.WithLabelValues(task, "ok").Inc()
		c.duration.WithLabelValues(task).Observe(ev.Duration.Seconds())
	case eventbus.TaskFailed:
		c.runs.WithLabelValues(task, "error").Inc()
		c.duration.WithLabelValues(task).Observe(ev.Duration.Seconds())
	case eventbus.TaskSkipped:
		n := ev.Missed
		if n < 1 {
			n = 1
		}
		c.skips.WithLabelValues(task, normalizeLabel(ev.Reason, "unknown")).Add(float64(n))
	}
}

// Run consumes events until ctx is done or events is closed.
func (c *Collector) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// RegisterPool exposes pool gauges and counters read from snap at scrape time.
func RegisterPool(reg prom.Registerer, snap func() pool.Snapshot) error {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	fns := []prom.Collector{
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace, Name: "pool_in_flight",
			Help: "Jobs currently running on pool workers or inline.",
		}, func() float64 { return float64(snap().InFlight) }),
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace, Name: "pool_queue_length",
			Help: "Jobs waiting in the pool backlog.",
		}, func() float64 { return float64(snap().QueueLen) }),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "pool_inline_total",
			Help: "Jobs run on the submitting goroutine because the pool was saturated.",
		}, func() float64 { return float64(snap().Inline) }),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "pool_rejected_total",
			Help: "Jobs rejected because the pool was saturated.",
		}, func() float64 { return float64(snap().Rejected) }),
	}
	for _, c := range fns {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register pool metrics: %w", err)
		}
	}
	return nil
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
