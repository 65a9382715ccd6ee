package poller

// seenSet remembers processed message ids. Once it holds more than max ids
// the oldest are dropped until keep remain.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	max   int
	keep  int
}

func newSeenSet(max, keep int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}), max: max, keep: keep}
}

func (s *seenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) Add(id string) {
	if s.Has(id) {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.max {
		drop := len(s.order) - s.keep
		for _, old := range s.order[:drop] {
			delete(s.ids, old)
		}
		s.order = append([]string(nil), s.order[drop:]...)
	}
}

func (s *seenSet) Len() int { return len(s.order) }
