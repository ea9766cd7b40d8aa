package scheduler

// entry is a registered handler. seq grows with every Add, so ordering by seq
// is registration order.
type entry struct {
	Entry
	seq uint64
}

// registry is the ordered id -> entry mapping. Call with Scheduler.mu held.
type registry struct {
	entries []*entry
	nextSeq uint64
}

func (r *registry) get(id string) (*entry, bool) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// add replaces any entry for the same id and appends the new one.
func (r *registry) add(e Entry) *entry {
	r.remove(e.ID)
	r.nextSeq++
	ne := &entry{Entry: e, seq: r.nextSeq}
	r.entries = append(r.entries, ne)
	return ne
}

func (r *registry) remove(id string) bool {
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry) reset() { r.entries = nil }

func (r *registry) list() []*entry {
	out := make([]*entry, len(r.entries))
	copy(out, r.entries)
	return out
}
