package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"tickwork/internal/eventbus"
	"tickwork/internal/task/clock"
	"tickwork/internal/task/pool"
	"tickwork/internal/task/trigger"
	logx "tickwork/pkg/logx"
)

func (s *Scheduler) loop(ctx context.Context) error {
	for {
		// Stop may abandon a loop stuck in an inline run; it exits here once
		// that run returns.
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		if s.state != StateRunning {
			s.mu.Unlock()
			return nil
		}
		due := s.earliestLocked()
		s.mu.Unlock()

		if s.clock.SleepUntil(ctx, due, s.wake) == clock.Interrupted {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.fireDue(ctx)
	}
}

// earliestLocked returns the minimum nextDue across armed tasks, or the zero
// time when nothing is armed.
func (s *Scheduler) earliestLocked() time.Time {
	var earliest time.Time
	for _, h := range s.order {
		if !h.armed {
			continue
		}
		if earliest.IsZero() || h.nextDue.Before(earliest) {
			earliest = h.nextDue
		}
	}
	return earliest
}

// fireDue fires every task due at the current instant, earliest due first,
// ties broken by registration order.
func (s *Scheduler) fireDue(ctx context.Context) {
	type dueTask struct {
		h   *handle
		due time.Time
	}
	now := s.clock.Now()
	s.mu.Lock()
	var batch []dueTask
	for _, h := range s.order {
		if h.armed && !h.nextDue.After(now) {
			batch = append(batch, dueTask{h: h, due: h.nextDue})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].due.Equal(batch[j].due) {
			return batch[i].due.Before(batch[j].due)
		}
		return batch[i].h.seq < batch[j].h.seq
	})
	for _, d := range batch {
		if ctx.Err() != nil {
			return
		}
		s.attemptRun(d.h)
	}
}

// attemptRun fires h if it is still due. Serialized runs complete before it
// returns (Ran); Concurrent runs are handed to the pool (Started).
func (s *Scheduler) attemptRun(h *handle) Outcome {
	s.mu.Lock()
	now := s.clock.Now()
	if s.state != StateRunning || h.cancelled || !h.armed || h.nextDue.After(now) {
		s.mu.Unlock()
		return Outcome{Kind: Skipped}
	}
	due := h.nextDue
	runID := s.newID()

	if h.mode == Serialized && h.running > 0 {
		h.skips++
		s.rearmLocked(h, now)
		s.mu.Unlock()
		s.publishSkip(h, runID, due, SkipOverlap, 1)
		return Outcome{Kind: Skipped, Reason: SkipOverlap, RunID: runID, Missed: 1, Err: ErrOverlap}
	}

	h.running++
	h.lastScheduled = due
	h.lastStarted = now
	h.armed = false
	var late int
	if h.rearmAtDispatch() {
		late = h.trig.Missed(now, h.history())
		s.rearmLocked(h, now)
	}
	mode := h.mode
	if mode == Serialized {
		s.serialRun = true
	}
	s.mu.Unlock()

	if late > 0 {
		s.publishSkip(h, runID, due, SkipLate, late)
	}
	s.publish(eventbus.TaskStarted, eventbus.RunEvent{
		RunID: runID, Task: h.name, Mode: mode.String(), ScheduledAt: due, StartedAt: now,
	})

	if mode == Serialized {
		err := s.invoke(s.runContext(), h)
		finished := s.clock.Now()
		s.complete(h, runID, due, now, finished, err, false)
		return Outcome{Kind: Ran, RunID: runID, Duration: finished.Sub(now), Err: err}
	}
	return s.submit(h, runID, due, now)
}

func (s *Scheduler) submit(h *handle, runID string, due, started time.Time) Outcome {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	fut, err := s.pool.Submit(h.name, func(ctx context.Context) error {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.concurrentContext(), cancel)
		defer stop()

		begin := s.clock.Now()
		err := s.invoke(runCtx, h)
		s.complete(h, runID, due, begin, s.clock.Now(), err, pool.RanInline(ctx))
		s.settle()
		return err
	})
	if err == nil {
		if fut.Inline() {
			res, _ := fut.Result()
			return Outcome{Kind: Ran, RunID: runID, Duration: res.Duration(), Err: res.Err}
		}
		return Outcome{Kind: Started, RunID: runID}
	}

	s.settle()
	now := s.clock.Now()
	s.mu.Lock()
	h.running--
	h.skips++
	if !h.armed && !h.cancelled && s.state == StateRunning {
		// Nothing completed; the next fixed-delay fire is measured from now.
		hist := h.history()
		hist.LastCompleted = now
		s.armLocked(h, now, hist)
	}
	s.mu.Unlock()

	reason := SkipSaturated
	if errors.Is(err, pool.ErrPoolStopped) {
		reason = SkipNone
	}
	s.publishSkipErr(h, runID, due, reason, err)
	return Outcome{Kind: Skipped, Reason: reason, RunID: runID, Err: err}
}

func (s *Scheduler) settle() {
	s.mu.Lock()
	s.pending--
	if s.pending <= 0 {
		s.pending = 0
		if s.drained != nil {
			close(s.drained)
			s.drained = nil
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *Scheduler) concurrentContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.concCtx == nil {
		return context.Background()
	}
	return s.concCtx
}

// invoke runs the action, converting errors and panics into *ActionFailure.
func (s *Scheduler) invoke(ctx context.Context, h *handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", h.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = &ActionFailure{Task: h.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if e := h.action(ctx); e != nil {
		return &ActionFailure{Task: h.name, Err: e}
	}
	return nil
}

// complete records a finished run and re-arms the task when its next instant
// depends on completion. inline marks a Concurrent run the pool executed on
// the dispatch goroutine.
func (s *Scheduler) complete(h *handle, runID string, due, started, finished time.Time, err error, inline bool) {
	s.mu.Lock()
	h.running--
	if h.mode == Serialized {
		s.serialRun = false
	}
	h.lastCompleted = finished
	h.lastErr = err
	h.runs++
	if err != nil {
		h.failures++
	}
	var missed int
	if !h.rearmAtDispatch() && !h.cancelled && s.state == StateRunning {
		if h.mode == Serialized {
			missed = h.trig.Missed(finished, h.history())
			h.skips += uint64(missed)
		}
		s.rearmLocked(h, finished)
	}
	s.mu.Unlock()

	if h.mode == Concurrent {
		s.signal()
	}

	ev := eventbus.RunEvent{
		RunID:       runID,
		Task:        h.name,
		Mode:        h.mode.String(),
		ScheduledAt: due,
		StartedAt:   started,
		Duration:    finished.Sub(started),
		Inline:      inline,
	}
	if err != nil {
		ev.Error = err.Error()
		s.publish(eventbus.TaskFailed, ev)
		s.warn.Warn(s.log, "fail:"+h.name, "task failed", logx.String("task", h.name), logx.String("run_id", runID), logx.Err(err))
	} else {
		s.publish(eventbus.TaskFinished, ev)
		s.log.Debug("task ran", logx.String("task", h.name), logx.Duration("dur", ev.Duration))
	}
	if missed > 0 {
		s.publishSkip(h, runID, due, SkipOverlap, missed)
	}
}

func (s *Scheduler) rearmLocked(h *handle, now time.Time) {
	s.armLocked(h, now, h.history())
}

// armLocked computes the next due instant. A computed instant that does not
// move past its reference is pushed forward by one quantum, except for the
// first fire of an interval policy with no initial delay.
func (s *Scheduler) armLocked(h *handle, now time.Time, hist trigger.History) {
	first := h.trig.First(hist)
	next, ref := h.trig.Next(now, hist)
	if next.IsZero() {
		h.armed = false
		if !h.dormant {
			h.dormant = true
			s.log.Info("task has no further occurrences", logx.String("task", h.name))
		}
		return
	}
	if !first && !next.After(ref) {
		next = ref.Add(s.cfg.Quantum)
	}
	h.nextDue = next
	h.armed = true
	h.dormant = false
}
