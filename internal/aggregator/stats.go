package aggregator

import (
	"math"
	"sort"
)

// Rolling variance below either floor is treated as zero: the running sums
// leave rounding residue proportional to the mean square.
const (
	varianceFloor         = 1e-20
	relativeVarianceFloor = 1e-10
)

// percentile interpolates linearly between the closest ranks of sorted.
// p is in [0, 100].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// LatencySummary describes the latency window in milliseconds.
type LatencySummary struct {
	Count       int    `json:"count"`
	P50         Value  `json:"p50_ms"`
	P95         Value  `json:"p95_ms"`
	P99         Value  `json:"p99_ms"`
	Max         Value  `json:"max_ms"`
	Mean        Value  `json:"mean_ms"`
	SLABreaches uint64 `json:"sla_breaches"`
}

func summarizeLatency(w *window) LatencySummary {
	s := LatencySummary{Count: w.len()}
	if w.len() == 0 {
		return s
	}
	sorted := w.values()
	sort.Float64s(sorted)
	s.P50 = Some(percentile(sorted, 50))
	s.P95 = Some(percentile(sorted, 95))
	s.P99 = Some(percentile(sorted, 99))
	s.Max = Some(sorted[len(sorted)-1])
	s.Mean = Some(w.sum / float64(w.len()))
	return s
}

// sharpe annualizes the mean over sample standard deviation of the window.
func sharpe(w *window, periodsPerYear float64) Value {
	n := float64(w.len())
	if w.len() < 2 {
		return Value{}
	}
	mean := w.sum / n
	variance := (w.sumSq - n*mean*mean) / (n - 1)
	if variance < varianceFloor || variance < relativeVarianceFloor*w.sumSq/n {
		return Value{}
	}
	return Some(mean / math.Sqrt(variance) * math.Sqrt(periodsPerYear))
}

func ratio(num, den float64) Value {
	if den == 0 {
		return Value{}
	}
	return Some(num / den)
}

// profitFactor is gross profit over gross loss; a book with profits and no
// losses has an infinite factor.
func profitFactor(grossProfit, grossLoss float64) Value {
	switch {
	case grossLoss > 0:
		return Some(grossProfit / grossLoss)
	case grossProfit > 0:
		return Some(math.Inf(1))
	default:
		return Value{}
	}
}
