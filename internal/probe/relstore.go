package probe

import "sync"

// RelKey identifies one relation object inside one traced process. The
// address is only meaningful within that process's address space.
type RelKey struct {
	PID     uint32
	RelAddr uint64
}

// RelMeta is the stable identity recorded for a relation object: its
// position in the query's range table and the catalog identifier of the
// table it references.
type RelMeta struct {
	Index uint32
	OID   uint32
}

// RelStore correlates relation-object addresses observed by the
// registration probe with lookups performed by the other two probes. It
// models the in-kernel hash map: bounded capacity, last write per key wins,
// entries are never expired. Address reuse within a process is accepted as
// a known limitation; consumers corroborate lookups with the table index
// read directly from the object before trusting them.
//
// The kernel map needs no locking because conflicting writes only occur for
// the same key from the same single-threaded process. The Go model is
// shared by test goroutines, so it carries a mutex.
type RelStore struct {
	mu  sync.RWMutex
	max int
	m   map[RelKey]RelMeta
}

// NewRelStore returns a store bounded to capacity entries. A capacity of 0
// or less uses RelStoreCapacity.
func NewRelStore(capacity int) *RelStore {
	if capacity <= 0 {
		capacity = RelStoreCapacity
	}
	return &RelStore{max: capacity, m: make(map[RelKey]RelMeta)}
}

// Put records meta for key, overwriting any previous entry. Inserts beyond
// capacity are dropped, matching the kernel map's behavior when full.
func (s *RelStore) Put(key RelKey, meta RelMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok && len(s.m) >= s.max {
		return
	}
	s.m[key] = meta
}

// Lookup returns the recorded identity for key, if any.
func (s *RelStore) Lookup(key RelKey) (RelMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.m[key]
	return meta, ok
}

// Len reports the number of live entries.
func (s *RelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
