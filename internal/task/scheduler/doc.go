// Package scheduler runs registered tasks on their trigger policies.
//
// One dispatch goroutine owns due-time bookkeeping. It sleeps on the Clock
// until the earliest due instant (or a wake signal from Register, Cancel or a
// concurrent completion) and then fires every due task, ordered by due instant
// and registration order:
//   - Serialized tasks run inline on the dispatch goroutine and never overlap.
//   - Concurrent tasks are submitted to the executor pool.
//
// Run outcomes are published on the event bus; nothing here persists state.
package scheduler
