package patient

// OrderedSet is a string set that remembers insertion order.
// Not safe for concurrent use; callers hold the session lock.
type OrderedSet struct {
	items []string
	index map[string]int
}

func NewOrderedSet(items ...string) *OrderedSet {
	s := &OrderedSet{index: make(map[string]int)}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v if absent. Re-adding keeps the original position.
func (s *OrderedSet) Add(v string) {
	if _, ok := s.index[v]; ok {
		return
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
}

func (s *OrderedSet) Remove(v string) {
	pos, ok := s.index[v]
	if !ok {
		return
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, v)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i]] = i
	}
}

func (s *OrderedSet) Has(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s *OrderedSet) Len() int { return len(s.items) }

// Items returns a copy in insertion order; never nil.
func (s *OrderedSet) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

func (s *OrderedSet) Clone() *OrderedSet {
	return NewOrderedSet(s.items...)
}
