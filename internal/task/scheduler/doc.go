// Package scheduler runs named handlers on a step-based cadence, gated on how
// long the user has been idle.
//
// Each handler pairs a TimeSpec (never, every step, every N steps, or daily at
// HH:MM) with an IdleSpec (don't care, immediately idle, or idle for N steps).
// The Scheduler owns at most one timer per handler. Any registry change tears
// the whole timer table down and re-arms it; the idle gate is the only place a
// timer is replaced without a reconciliation.
//
// Timers never run callbacks themselves. A fire decides what to do under the
// scheduler lock and hands the invocation to the dispatch engine, whose single
// worker runs callbacks one at a time. Fires that land together run in
// registration order.
//
// Callbacks are not interrupted. A callback that never returns blocks every
// later invocation; the dispatch engine stays wedged until it does.
package scheduler
