package store

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// StripedLocks serializes the per-canonical-id critical section of entity
// resolution. Two workers creating the same new entity land on the same
// stripe and serialize on the insert; the loser observes the winner on its
// database re-read. The database unique constraint remains the correctness
// backstop for workers in other processes.
type StripedLocks struct {
	mus [lockStripes]sync.Mutex
}

// NewStripedLocks creates the lock set.
func NewStripedLocks() *StripedLocks {
	return &StripedLocks{}
}

// ForKey returns the mutex guarding the stripe the key hashes into.
func (s *StripedLocks) ForKey(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.mus[h.Sum32()%lockStripes]
}
