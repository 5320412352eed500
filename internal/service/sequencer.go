package service

// sequencer restores capture order for results that finish out of order.
// Push hands back every result that is now ready, in sequence order. Each
// sequence number must be pushed exactly once.
type sequencer[T any] struct {
	next    uint64
	pending map[uint64]T
}

func newSequencer[T any]() *sequencer[T] {
	return &sequencer[T]{pending: make(map[uint64]T)}
}

func (s *sequencer[T]) Push(seq uint64, v T) []T {
	if seq < s.next {
		return nil
	}
	s.pending[seq] = v

	var ready []T
	for {
		r, ok := s.pending[s.next]
		if !ok {
			return ready
		}
		delete(s.pending, s.next)
		ready = append(ready, r)
		s.next++
	}
}

// Waiting returns how many results are held back by a gap.
func (s *sequencer[T]) Waiting() int {
	return len(s.pending)
}
