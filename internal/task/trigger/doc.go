// Package trigger computes when a periodic task should fire next.
//
// A Policy describes the schedule (fixed rate, fixed delay, cron). Compile
// validates it once, at registration time, and returns a Trigger whose Next
// method is pure: given the current time and the task's run history it returns
// the next instant. The package owns no goroutines and no clocks.
package trigger
