package scheduler

import (
	"time"

	"tickwork/internal/eventbus"
	logx "tickwork/pkg/logx"
)

func (s *Scheduler) publish(typ string, ev eventbus.RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}

func (s *Scheduler) publishSkip(h *handle, runID string, due time.Time, reason SkipReason, missed int) {
	s.publish(eventbus.TaskSkipped, eventbus.RunEvent{
		RunID:       runID,
		Task:        h.name,
		Mode:        h.mode.String(),
		ScheduledAt: due,
		Reason:      reason.String(),
		Missed:      missed,
	})
	s.warn.Warn(s.log, "skip:"+h.name, "task fire skipped",
		logx.String("task", h.name),
		logx.String("reason", reason.String()),
		logx.Int("missed", missed),
	)
}

func (s *Scheduler) publishSkipErr(h *handle, runID string, due time.Time, reason SkipReason, err error) {
	ev := eventbus.RunEvent{
		RunID:       runID,
		Task:        h.name,
		Mode:        h.mode.String(),
		ScheduledAt: due,
		Reason:      reason.String(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publish(eventbus.TaskSkipped, ev)
	s.warn.Warn(s.log, "skip:"+h.name, "task fire skipped", logx.String("task", h.name), logx.Err(err))
}
