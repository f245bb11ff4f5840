// Package verifier turns prefix-index hits into verified similar pairs. It
// gathers candidates for a probing set, prunes them with the position filter
// and computes exact similarity for the survivors.
package verifier

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
)

// Lookuper is the read side of a prefix index.
type Lookuper interface {
	Lookup(token uint32) index.PostingList
}

// Stats counts the work done while probing. The zero value is ready to use.
type Stats struct {
	Probes      int64 `json:"probes"`
	Occurrences int64 `json:"occurrences"`
	Pruned      int64 `json:"pruned"`
	Candidates  int64 `json:"candidates"`
	Verified    int64 `json:"verified"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Probes += other.Probes
	s.Occurrences += other.Occurrences
	s.Pruned += other.Pruned
	s.Candidates += other.Candidates
	s.Verified += other.Verified
}

type Verifier struct {
	measure   similarity.Measure
	threshold float64
}

func New(measure similarity.Measure, threshold float64) *Verifier {
	return &Verifier{
		measure:   measure,
		threshold: threshold,
	}
}

func (v *Verifier) Measure() similarity.Measure { return v.measure }

func (v *Verifier) Threshold() float64 { return v.threshold }

// Candidates returns the ids of indexed sets that share a prefix token with
// the probing set and pass the position filter for at least one of those
// shared tokens. probeSize is the size of the probing set; sizeOf returns the
// size of an indexed set.
func (v *Verifier) Candidates(prefix []uint32, probeSize int, ix Lookuper, sizeOf func(uint32) int, stats *Stats) *roaring.Bitmap {
	candidates := roaring.New()
	stats.Probes++
	for p1, token := range prefix {
		for _, posting := range ix.Lookup(token) {
			stats.Occurrences++
			if candidates.Contains(posting.SetID) {
				continue
			}
			if v.measure.PositionFilter(probeSize, sizeOf(posting.SetID), p1, posting.Position, v.threshold) {
				candidates.Add(posting.SetID)
			} else {
				stats.Pruned++
			}
		}
	}
	stats.Candidates += int64(candidates.GetCardinality())
	return candidates
}

// Verify computes the exact similarity between the probing set and a
// candidate and reports whether it reaches the threshold (inclusive).
func (v *Verifier) Verify(probe []uint32, probeSize int, candidate []uint32, stats *Stats) (float64, bool) {
	score := v.measure.Score(similarity.Overlap(probe, candidate), probeSize, len(candidate))
	if score < v.threshold {
		return score, false
	}
	stats.Verified++
	return score, true
}
