// Package storage keeps the run journal: one record per finished handler
// invocation, queryable for recent history.
//
// The journal is history only. Nothing in it is read back to restore timers;
// schedules always start fresh.
package storage
