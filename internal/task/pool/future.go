package pool

import "context"

// Future settles once its job has run.
type Future struct {
	name   string
	inline bool
	done   chan struct{}
	res    Result
}

func newFuture(name string, inline bool) *Future {
	return &Future{name: name, inline: inline, done: make(chan struct{})}
}

func (f *Future) settle(r Result) {
	f.res = r
	close(f.done)
}

func (f *Future) Name() string { return f.name }

// Inline reports whether the job ran on the submitting goroutine.
func (f *Future) Inline() bool { return f.inline }

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job settles or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the settled result; ok is false while the job is pending.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result{}, false
	}
}
