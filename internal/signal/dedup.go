package signal

// seenSet is a bounded set of correlation IDs with oldest-first eviction.
// When the set grows past its capacity the oldest half is dropped, keeping
// eviction cheap while retaining the IDs most likely to reappear.
type seenSet struct {
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// add records id, evicting the oldest half when over capacity. Returns
// false if the id was already present.
func (s *seenSet) add(id string) bool {
	if s.contains(id) {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.capacity {
		keep := s.order[len(s.order)-s.capacity/2:]
		evicted := s.order[:len(s.order)-len(keep)]
		for _, old := range evicted {
			delete(s.ids, old)
		}
		s.order = append([]string(nil), keep...)
	}
	return true
}
