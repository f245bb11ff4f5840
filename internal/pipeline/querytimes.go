package pipeline

import (
	"slices"
	"time"
)

// QueryTimes summarizes per-query latency of a cross-join.
type QueryTimes struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P90    time.Duration `json:"p90"`
}

// Summarize computes the mean and the 50th and 90th percentiles of d, with
// linear interpolation between closest ranks.
func Summarize(d []time.Duration) QueryTimes {
	if len(d) == 0 {
		return QueryTimes{}
	}
	sorted := slices.Clone(d)
	slices.Sort(sorted)
	var total time.Duration
	for _, v := range sorted {
		total += v
	}
	return QueryTimes{
		Count:  len(sorted),
		Mean:   total / time.Duration(len(sorted)),
		Median: percentile(sorted, 50),
		P90:    percentile(sorted, 90),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}
