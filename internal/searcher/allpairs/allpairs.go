// Package allpairs implements the All-Pairs-Binary self-join with the
// position-filter enhancement: sets are processed in ascending size order,
// each set probes a prefix index holding only the sets processed before it,
// and is inserted into that index afterwards.
package allpairs

import (
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/order"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/verifier"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
)

// Pair is one join result. X and Y are positions in the input slice; X was
// processed after Y.
type Pair struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Similarity float64 `json:"similarity"`
}

// Join is a prepared self-join. Its Pairs sequence can be consumed once.
type Join struct {
	measure   similarity.Measure
	threshold float64
	sets      [][]uint32
	order     []int
	tokens    int
	verifier  *verifier.Verifier
	consumed  atomic.Bool
	stats     verifier.Stats
	emitted   int64
	logger    *slog.Logger
}

// New validates the parameters, applies the frequency-order transform and
// fixes the processing order. Only symmetric measures are accepted.
func New[T comparable](sets [][]T, measure similarity.Measure, threshold float64) (*Join, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: sets must be a non-empty list", apperrors.ErrInvalidInput)
	}
	if !measure.Valid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedMeasure, measure)
	}
	if err := similarity.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if !measure.Symmetric() {
		return nil, fmt.Errorf("%w: self-join needs a symmetric measure (jaccard, cosine, containment_min), got %s",
			apperrors.ErrUnsupportedMeasureForOperation, measure)
	}

	encoded, ord := order.Transform(sets)
	processing := make([]int, len(encoded))
	for i := range processing {
		processing[i] = i
	}
	// Stable: equal-size sets keep input order, which decides who is "later".
	sort.SliceStable(processing, func(a, b int) bool {
		return len(encoded[processing[a]]) < len(encoded[processing[b]])
	})

	return &Join{
		measure:   measure,
		threshold: threshold,
		sets:      encoded,
		order:     processing,
		tokens:    ord.Len(),
		verifier:  verifier.New(measure, threshold),
		logger:    slog.Default().With("component", "all-pairs", "measure", measure.String()),
	}, nil
}

// AllPairs is New with the measure given by name, returning the pair stream
// directly.
func AllPairs[T comparable](sets [][]T, measureName string, threshold float64) (iter.Seq[Pair], error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: sets must be a non-empty list", apperrors.ErrInvalidInput)
	}
	measure, err := similarity.ParseMeasure(measureName)
	if err != nil {
		return nil, err
	}
	j, err := New(sets, measure, threshold)
	if err != nil {
		return nil, err
	}
	return j.Pairs(), nil
}

// Pairs returns the lazy result stream. Only the first iteration produces
// pairs; later ones yield nothing. Stopping early leaves the remaining sets
// unprocessed.
func (j *Join) Pairs() iter.Seq[Pair] {
	return func(yield func(Pair) bool) {
		if !j.consumed.CompareAndSwap(false, true) {
			j.logger.Warn("pair stream already consumed")
			return
		}
		j.logger.Debug("finding all pairs",
			"sets", len(j.sets),
			"tokens", j.tokens,
			"threshold", j.threshold,
		)

		ix := index.NewPrefixIndex()
		sizeOf := func(id uint32) int { return len(j.sets[id]) }
		defer func() {
			ix.Seal()
			j.logger.Debug("all pairs done",
				"pairs", j.emitted,
				"candidates", j.stats.Candidates,
				"pruned", j.stats.Pruned,
			)
		}()

		for _, x1 := range j.order {
			s1 := j.sets[x1]
			prefix := s1[:similarity.PrefixLength(len(s1), j.measure.OverlapThreshold(len(s1), j.threshold))]

			candidates := j.verifier.Candidates(prefix, len(s1), ix, sizeOf, &j.stats)
			it := candidates.Iterator()
			for it.HasNext() {
				x2 := it.Next()
				score, ok := j.verifier.Verify(s1, len(s1), j.sets[x2], &j.stats)
				if !ok {
					continue
				}
				j.emitted++
				if !yield(Pair{X: x1, Y: int(x2), Similarity: score}) {
					return
				}
			}
			ix.Insert(uint32(x1), prefix)
		}
	}
}

// Len is the number of input sets.
func (j *Join) Len() int { return len(j.sets) }

// Size returns the number of distinct tokens of input set i.
func (j *Join) Size(i int) int { return len(j.sets[i]) }

// Stats reports the work done by the pair stream so far. It is meant to be
// read after iteration finishes.
func (j *Join) Stats() verifier.Stats { return j.stats }

// Emitted is the number of pairs yielded so far.
func (j *Join) Emitted() int64 { return j.emitted }
