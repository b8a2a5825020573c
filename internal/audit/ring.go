package audit

import "github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"

// ring keeps the newest envelopes; pushing into a full ring evicts the oldest.
// It is not safe for concurrent use.
type ring struct {
	buf  []schema.Envelope
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]schema.Envelope, capacity)}
}

func (r *ring) push(env schema.Envelope) {
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = env
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

// last returns up to n of the newest entries, oldest first.
func (r *ring) last(n int) []schema.Envelope {
	if n <= 0 {
		return []schema.Envelope{}
	}
	if n > r.size {
		n = r.size
	}
	out := make([]schema.Envelope, n)
	start := r.head + r.size - n
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.size }
