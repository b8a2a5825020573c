package obs

import (
	"sync/atomic"
)

// Sequencer hands out monotonically increasing ingestion sequence numbers.
type Sequencer struct {
	next uint64
}

// NewSequencer returns a sequencer whose first Next() is after+1.
func NewSequencer(after uint64) *Sequencer {
	return &Sequencer{next: after}
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	if s == nil {
		return 0
	}
	return atomic.AddUint64(&s.next, 1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	if s == nil {
		return 0
	}
	return atomic.LoadUint64(&s.next)
}

// Advance moves the sequencer forward to at least seq; it never moves back.
func (s *Sequencer) Advance(seq uint64) {
	if s == nil {
		return
	}
	for {
		cur := atomic.LoadUint64(&s.next)
		if seq <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.next, cur, seq) {
			return
		}
	}
}
