package scheduler

import (
	"errors"
	"time"

	"idlesched/internal/task/engine"
	logx "idlesched/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Scheduler) reportEnqueueError(id string, err error) {
	if err == nil {
		return
	}
	// Fires racing a shutdown are expected.
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("invocation not enqueued", logx.String("handler", id), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	s.enqMu.Unlock()

	s.log.Warn("handler invocation dropped", logx.String("handler", id), logx.Err(err))
}
