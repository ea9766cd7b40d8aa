package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"idlesched/internal/eventbus"
	"idlesched/internal/task/engine"
	logx "idlesched/pkg/logx"
)

const (
	failLogEvery = 10 * time.Second
	failLogBurst = 3
)

type failThrottle struct {
	lim        *rate.Limiter
	suppressed int
}

// invokeLocked hands one invocation of e to the dispatch engine. The engine
// orders a batch by due, then by registration sequence.
func (s *Scheduler) invokeLocked(e *entry, trigger Trigger, due time.Time) {
	if s.eng == nil {
		return
	}
	id, seq := e.ID, e.seq
	err := s.eng.Enqueue(engine.Task{
		Name: "handler:" + id,
		Due:  due,
		Seq:  seq,
		Run:  func(ctx context.Context) error { return s.run(ctx, id, seq, trigger) },
	})
	if err != nil {
		s.reportEnqueueError(id, err)
	}
}

// run executes the callback on the dispatch worker, without s.mu held. An
// invocation whose handler was removed or replaced since the fire is skipped.
func (s *Scheduler) run(ctx context.Context, id string, seq uint64, trigger Trigger) error {
	s.mu.Lock()
	e, ok := s.reg.get(id)
	running := s.running
	s.mu.Unlock()
	if !running || !ok || e.seq != seq {
		s.log.Trace("stale invocation skipped", logx.String("handler", id))
		return nil
	}

	started := s.clk.Now()
	t0 := time.Now()
	err := call(ctx, e, trigger)
	r := Run{Handler: id, Trigger: trigger, Started: started, Duration: time.Since(t0)}

	var fail *CallbackFailure
	if err != nil {
		fail = err.(*CallbackFailure)
		r.Error = err.Error()
		s.reportFailure(fail)
	}
	s.obs.HandlerInvoked(r)
	s.record(ctx, r)

	s.publish(eventbus.HandlerFired, r)
	if fail != nil {
		s.publish(eventbus.HandlerFailed, r)
		return fail
	}
	return nil
}

// call runs the callback, converting errors and panics to *CallbackFailure.
func call(ctx context.Context, e *entry, trigger Trigger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CallbackFailure{ID: e.ID, Trigger: trigger, Panic: p, Stack: string(debug.Stack())}
		}
	}()
	if cbErr := e.Callback(ctx); cbErr != nil {
		return &CallbackFailure{ID: e.ID, Trigger: trigger, Err: cbErr}
	}
	return nil
}

// reportFailure logs at most failLogBurst failures per handler per
// failLogEvery; the next allowed line carries the suppressed count.
func (s *Scheduler) reportFailure(f *CallbackFailure) {
	s.failMu.Lock()
	ft := s.fail[f.ID]
	if ft == nil {
		ft = &failThrottle{lim: rate.NewLimiter(rate.Every(failLogEvery), failLogBurst)}
		s.fail[f.ID] = ft
	}
	allow := ft.lim.Allow()
	suppressed := ft.suppressed
	if allow {
		ft.suppressed = 0
	} else {
		ft.suppressed++
	}
	s.failMu.Unlock()

	if !allow {
		return
	}
	fields := []logx.Field{
		logx.String("handler", f.ID),
		logx.String("trigger", string(f.Trigger)),
		logx.String("err", f.Error()),
	}
	if suppressed > 0 {
		fields = append(fields, logx.Int("suppressed", suppressed))
	}
	if f.Stack != "" {
		fields = append(fields, logx.Stack(f.Stack))
	}
	s.log.Warn("handler callback failed", fields...)
}

func (s *Scheduler) record(ctx context.Context, r Run) {
	if s.rec == nil {
		return
	}
	if err := s.rec.RecordRun(ctx, r); err != nil {
		s.log.Warn("run journal write failed", logx.String("handler", r.Handler), logx.Err(err))
	}
}
