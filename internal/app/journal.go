package app

import (
	"context"

	"idlesched/internal/storage"
	"idlesched/internal/task/scheduler"
)

// journal records scheduler runs in the run store.
type journal struct {
	store storage.Store
}

func (j journal) RecordRun(ctx context.Context, r scheduler.Run) error {
	return j.store.AppendRun(ctx, storage.RunRecord{
		Handler:    r.Handler,
		Trigger:    string(r.Trigger),
		Started:    r.Started,
		DurationMS: r.Duration.Milliseconds(),
		Error:      r.Error,
	})
}
