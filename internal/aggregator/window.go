package aggregator

import "time"

// window is a fixed-capacity FIFO of float samples that tracks the sum and
// sum of squares of its contents.
type window struct {
	buf   []float64
	head  int
	size  int
	sum   float64
	sumSq float64
}

func newWindow(capacity int) *window {
	return &window{buf: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	if w.size == len(w.buf) {
		old := w.buf[w.head]
		w.sum -= old
		w.sumSq -= old * old
		w.buf[w.head] = v
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.buf[(w.head+w.size)%len(w.buf)] = v
		w.size++
	}
	w.sum += v
	w.sumSq += v * v
}

func (w *window) len() int { return w.size }

// values copies the samples, oldest first.
func (w *window) values() []float64 {
	out := make([]float64, w.size)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// EquityPoint is one equity sample.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

type equityWindow struct {
	buf  []EquityPoint
	head int
	size int
}

func newEquityWindow(capacity int) *equityWindow {
	return &equityWindow{buf: make([]EquityPoint, capacity)}
}

func (w *equityWindow) push(p EquityPoint) {
	if w.size == len(w.buf) {
		w.buf[w.head] = p
		w.head = (w.head + 1) % len(w.buf)
		return
	}
	w.buf[(w.head+w.size)%len(w.buf)] = p
	w.size++
}

func (w *equityWindow) last() (EquityPoint, bool) {
	if w.size == 0 {
		return EquityPoint{}, false
	}
	return w.buf[(w.head+w.size-1)%len(w.buf)], true
}

func (w *equityWindow) points() []EquityPoint {
	out := make([]EquityPoint, w.size)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}
