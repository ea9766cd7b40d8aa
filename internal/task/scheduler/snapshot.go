package scheduler

const previewRuns = 3

// Snapshot lists handlers in registration order with their active timer.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	now := s.clk.Now()
	snap := Snapshot{
		Running:  s.running,
		Step:     cfg.Step,
		Timezone: loc.String(),
		Timers:   len(s.active),
	}
	for _, e := range s.reg.list() {
		hi := HandlerInfo{
			ID:   e.ID,
			Seq:  e.seq,
			Time: e.Time.String(),
			Idle: e.Idle.String(),
			Kind: "none",
			Next: NextRuns(e.Time, cfg.Step, loc, now, previewRuns),
		}
		if at := s.active[e.ID]; at != nil {
			hi.Kind = at.kind.String()
			hi.Due = at.due
			hi.Period = at.period
			hi.Threshold = at.threshold
			hi.Special = at.kind == KindSpecialPeriodic
			hi.Gen = at.gen
		}
		snap.Handlers = append(snap.Handlers, hi)
	}
	eng := s.eng
	s.mu.Unlock()

	if eng != nil {
		snap.Dispatch = eng.Snapshot()
	}
	return snap
}
