package realtime

// Roster is the set of peers known to be online, kept in arrival order.
// It is not safe for concurrent use; the Manager guards it.
type Roster struct {
	ids   []string
	index map[string]struct{}
}

// Replace swaps the whole roster for ids, dropping duplicates.
func (r *Roster) Replace(ids []string) {
	r.ids = make([]string, 0, len(ids))
	r.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r.add(id)
	}
}

// Apply adds or removes exactly the peer named by the change.
func (r *Roster) Apply(change StatusChange) {
	if change.UserID == "" {
		return
	}
	if change.Status == PresenceOnline {
		r.add(change.UserID)
		return
	}
	r.remove(change.UserID)
}

func (r *Roster) add(id string) {
	if id == "" {
		return
	}
	if r.index == nil {
		r.index = make(map[string]struct{})
	}
	if _, ok := r.index[id]; ok {
		return
	}
	r.index[id] = struct{}{}
	r.ids = append(r.ids, id)
}

func (r *Roster) remove(id string) {
	if _, ok := r.index[id]; !ok {
		return
	}
	delete(r.index, id)
	for i, existing := range r.ids {
		if existing == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}
}

// Contains reports whether id is online.
func (r *Roster) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Snapshot returns a copy of the roster.
func (r *Roster) Snapshot() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
