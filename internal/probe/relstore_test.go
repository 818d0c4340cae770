package probe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelStorePutLookup(t *testing.T) {
	s := NewRelStore(0)
	key := RelKey{PID: 1, RelAddr: 0x1000}

	_, ok := s.Lookup(key)
	assert.False(t, ok)

	s.Put(key, RelMeta{Index: 1, OID: 16384})
	meta, ok := s.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, RelMeta{Index: 1, OID: 16384}, meta)

	// Same address in another process is a different entry.
	_, ok = s.Lookup(RelKey{PID: 2, RelAddr: 0x1000})
	assert.False(t, ok)
}

func TestRelStoreCapacityBound(t *testing.T) {
	s := NewRelStore(2)
	s.Put(RelKey{PID: 1, RelAddr: 0x1000}, RelMeta{Index: 1})
	s.Put(RelKey{PID: 1, RelAddr: 0x2000}, RelMeta{Index: 2})

	// A new key past capacity is dropped, like a full kernel map.
	s.Put(RelKey{PID: 1, RelAddr: 0x3000}, RelMeta{Index: 3})
	assert.Equal(t, 2, s.Len())
	_, ok := s.Lookup(RelKey{PID: 1, RelAddr: 0x3000})
	assert.False(t, ok)

	// Updating an existing key still works at capacity.
	s.Put(RelKey{PID: 1, RelAddr: 0x1000}, RelMeta{Index: 9, OID: 5})
	meta, ok := s.Lookup(RelKey{PID: 1, RelAddr: 0x1000})
	require.True(t, ok)
	assert.Equal(t, RelMeta{Index: 9, OID: 5}, meta)
}

func TestRelStoreDefaultCapacity(t *testing.T) {
	s := NewRelStore(0)
	assert.Equal(t, 0, s.Len())
	s.Put(RelKey{PID: 1, RelAddr: 1}, RelMeta{Index: 1})
	assert.Equal(t, 1, s.Len())
}

func TestRelStoreConcurrentAccess(t *testing.T) {
	s := NewRelStore(0)
	var wg sync.WaitGroup
	for pid := uint32(1); pid <= 8; pid++ {
		wg.Add(1)
		go func(pid uint32) {
			defer wg.Done()
			for i := uint64(0); i < 200; i++ {
				key := RelKey{PID: pid, RelAddr: i}
				s.Put(key, RelMeta{Index: uint32(i), OID: pid})
				if meta, ok := s.Lookup(key); ok {
					assert.Equal(t, pid, meta.OID)
				}
			}
		}(pid)
	}
	wg.Wait()
	assert.Equal(t, 8*200, s.Len())
}
