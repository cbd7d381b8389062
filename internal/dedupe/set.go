package dedupe

// Set holds accession IDs already recorded in the ledger.
// It is not safe for concurrent use; a run is single-threaded.
type Set struct {
	items map[string]struct{}
}

// NewSet creates a set seeded with the given keys.
func NewSet(keys ...string) Set {
	s := Set{items: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Has reports whether key was recorded. The zero Set is empty.
func (s Set) Has(key string) bool {
	_, ok := s.items[key]
	return ok
}

// Add records key and returns false when it was already present.
func (s *Set) Add(key string) bool {
	if s.items == nil {
		s.items = make(map[string]struct{})
	}
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Len returns the number of recorded keys.
func (s Set) Len() int {
	return len(s.items)
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := Set{items: make(map[string]struct{}, len(s.items))}
	for k := range s.items {
		out.items[k] = struct{}{}
	}
	return out
}
