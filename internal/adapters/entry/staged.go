package entry

// Lookup returns the committed value of key.
type Lookup func(key string) (Value, bool, error)

// Staged is the ordered set of writes a handle has not committed yet.
// The latest write to a key wins.
type Staged struct {
	values map[string]Value
	order  []string
}

// NewStaged returns an empty set.
func NewStaged() *Staged {
	return &Staged{values: make(map[string]Value)}
}

// Put stages key=v.
func (s *Staged) Put(key string, v Value) {
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = v
}

// Get returns the staged value of key.
func (s *Staged) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the staged keys in first-write order.
func (s *Staged) Keys() []string {
	return s.order
}

// Len returns the number of staged keys.
func (s *Staged) Len() int {
	return len(s.order)
}

// Reset drops every staged write.
func (s *Staged) Reset() {
	s.values = make(map[string]Value)
	s.order = s.order[:0]
}

// Delta returns how many entries committing the staged writes plus the
// optional extra write would add to the partition usage. Overwritten
// committed values give back their entries.
func (s *Staged) Delta(entrySize int, committed Lookup, extra *Pending) (int, error) {
	delta := 0
	add := func(key string, v Value) error {
		old, ok, err := committed(key)
		if err != nil {
			return err
		}
		if ok {
			delta -= old.Entries(entrySize)
		}
		delta += v.Entries(entrySize)
		return nil
	}
	for _, k := range s.order {
		if extra != nil && extra.Key == k {
			continue
		}
		if err := add(k, s.values[k]); err != nil {
			return 0, err
		}
	}
	if extra != nil {
		if err := add(extra.Key, extra.Value); err != nil {
			return 0, err
		}
	}
	return delta, nil
}

// Pending is a write about to be staged.
type Pending struct {
	Key   string
	Value Value
}
