package kafka

import "sync"

// offsetState is the per-partition last-committed read position. Owned
// exclusively by the driver; advanced only when a completed generation is
// committed.
type offsetState struct {
	mu        sync.Mutex
	committed map[int32]int64
}

func newOffsetState() *offsetState {
	return &offsetState{committed: make(map[int32]int64)}
}

// advance records next as partition p's committed position. Returns false
// when next would move the position backwards, which callers treat as
// already-committed.
func (s *offsetState) advance(p int32, next int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.committed[p]; ok && next <= cur {
		return false
	}
	s.committed[p] = next
	return true
}

func (s *offsetState) snapshot() map[int32]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]int64, len(s.committed))
	for p, off := range s.committed {
		out[p] = off
	}
	return out
}
