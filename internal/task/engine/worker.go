package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"idlesched/internal/eventbus"
	logx "idlesched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case first, ok := <-queue:
			if !ok {
				return
			}
			batch := drain(first, queue)
			for _, qt := range batch {
				select {
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				default:
				}
				s.execOne(ctx, qt)
			}
		}
	}
}

// drain collects whatever is already queued behind first and orders the batch
// by due time, then registration sequence.
func drain(first queuedTask, queue chan queuedTask) []queuedTask {
	batch := []queuedTask{first}
	for n := len(queue); n > 0; n-- {
		select {
		case qt, ok := <-queue:
			if !ok {
				n = 0
				continue
			}
			batch = append(batch, qt)
		default:
			n = 0
		}
	}
	if len(batch) > 1 {
		sort.SliceStable(batch, func(i, j int) bool {
			a, b := batch[i].task, batch[j].task
			if !a.Due.Equal(b.Due) {
				return a.Due.Before(b.Due)
			}
			return a.Seq < b.Seq
		})
	}
	return batch
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	slow := s.cfg.SlowTask
	s.mu.Unlock()

	s.log.Trace("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}})
	}

	s.inFlight.Store(true)
	var err error
	// Guard against panics: one bad task must not kill the dispatch point.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = qt.task.Run(ctx)
	}()
	s.inFlight.Store(false)
	atomic.AddUint64(&s.executed, 1)

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, QueueDelay: queueDelay}
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		item.Error = err.Error()
		// Task owners report failures themselves; keep this quiet.
		s.log.Debug("task.failed", logx.String("task", qt.task.Name), logx.Any("err", err), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: time.Now(), Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error}})
		}
	} else {
		if dur >= slow {
			s.log.Info("task.completed (slow)", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			s.log.Trace("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}})
		}
	}

	s.appendHistory(item)
}
