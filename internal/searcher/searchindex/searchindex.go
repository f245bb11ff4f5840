// Package searchindex builds a read-only prefix-filter index over a corpus of
// sets and answers similarity queries against it. Cross-collection joins are
// a sequence of independent queries against one index.
package searchindex

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/order"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/verifier"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
)

// minSetsPerWorker keeps tiny corpora on a single builder.
const minSetsPerWorker = 1024

// Result is one query match: the position of the indexed set and its score.
type Result struct {
	ID         int     `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Pair is one cross-collection join result: X is the position of the query
// set, Y the position of the indexed set.
type Pair struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Similarity float64 `json:"similarity"`
}

// Stats describes a built index and the query work done against it.
type Stats struct {
	Sets          int            `json:"sets"`
	Tokens        int            `json:"tokens"`
	IndexedTokens int            `json:"indexed_tokens"`
	Postings      int            `json:"postings"`
	BuildDuration time.Duration  `json:"build_duration"`
	Queries       verifier.Stats `json:"queries"`
}

type buildOptions struct {
	workers int
}

// Option configures Build.
type Option func(*buildOptions)

// WithWorkers builds the index with up to n concurrent partition builders.
// The result is identical to a sequential build.
func WithWorkers(n int) Option {
	return func(o *buildOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// Index is a sealed search index over one corpus of T-valued sets. It is
// safe for concurrent queries.
type Index[T comparable] struct {
	measure   similarity.Measure
	threshold float64
	sets      [][]uint32
	order     *order.Order[T]
	prefixes  *index.PrefixIndex
	verifier  *verifier.Verifier
	built     time.Duration
	logger    *slog.Logger

	statsMu sync.Mutex
	stats   verifier.Stats
}

// Build validates the parameters, applies the frequency-order transform and
// indexes every set's prefix using the measure's index-side threshold.
func Build[T comparable](sets [][]T, measure similarity.Measure, threshold float64, opts ...Option) (*Index[T], error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: sets must be a non-empty list", apperrors.ErrInvalidInput)
	}
	if !measure.Valid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedMeasure, measure)
	}
	if err := similarity.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	o := buildOptions{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	logger := slog.Default().With("component", "search-index", "measure", measure.String())
	logger.Debug("building search index", "sets", len(sets), "workers", o.workers)

	encoded, ord := order.Transform(sets)
	ix := &Index[T]{
		measure:   measure,
		threshold: threshold,
		sets:      encoded,
		order:     ord,
		verifier:  verifier.New(measure, threshold),
		logger:    logger,
	}
	ix.prefixes = ix.buildPrefixIndex(o.workers)
	ix.prefixes.Seal()
	ix.built = time.Since(start)

	logger.Debug("search index built",
		"tokens", ord.Len(),
		"postings", ix.prefixes.Stats().Postings,
		"duration", ix.built,
	)
	return ix, nil
}

// BuildByName is Build with the measure given by name.
func BuildByName[T comparable](sets [][]T, measureName string, threshold float64, opts ...Option) (*Index[T], error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: sets must be a non-empty list", apperrors.ErrInvalidInput)
	}
	measure, err := similarity.ParseMeasure(measureName)
	if err != nil {
		return nil, err
	}
	return Build(sets, measure, threshold, opts...)
}

func (ix *Index[T]) indexPrefix(s []uint32) []uint32 {
	return s[:similarity.PrefixLength(len(s), ix.measure.IndexOverlapThreshold(len(s), ix.threshold))]
}

// buildPrefixIndex splits the corpus into contiguous partitions, indexes
// them concurrently and merges them in partition order.
func (ix *Index[T]) buildPrefixIndex(workers int) *index.PrefixIndex {
	n := len(ix.sets)
	parts := min(workers, max(1, n/minSetsPerWorker))
	if parts <= 1 {
		p := index.NewPrefixIndex()
		for i, s := range ix.sets {
			p.Insert(uint32(i), ix.indexPrefix(s))
		}
		return p
	}

	partials := make([]*index.PrefixIndex, parts)
	chunk := (n + parts - 1) / parts
	var wg sync.WaitGroup
	for w := range parts {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := index.NewPrefixIndex()
			for i := lo; i < hi; i++ {
				p.Insert(uint32(i), ix.indexPrefix(ix.sets[i]))
			}
			partials[w] = p
		}()
	}
	wg.Wait()

	merged := index.NewPrefixIndex()
	for _, p := range partials {
		merged.Merge(p)
	}
	return merged
}

// Query returns every indexed set whose similarity with set reaches the
// threshold, ordered by id. Tokens the corpus never saw cannot produce
// candidates, but still count towards the size of the query set.
func (ix *Index[T]) Query(set []T) []Result {
	probe, size := ix.order.Encode(set)
	var stats verifier.Stats
	results := ix.query(probe, size, &stats)
	ix.statsMu.Lock()
	ix.stats.Add(stats)
	ix.statsMu.Unlock()
	ix.logger.Debug("query done",
		"tokens", size,
		"known_tokens", len(probe),
		"candidates", stats.Candidates,
		"results", len(results),
	)
	return results
}

func (ix *Index[T]) query(probe []uint32, size int, stats *verifier.Stats) []Result {
	prefix := probe[:similarity.PrefixLength(len(probe), ix.measure.OverlapThreshold(len(probe), ix.threshold))]
	sizeOf := func(id uint32) int { return len(ix.sets[id]) }
	candidates := ix.verifier.Candidates(prefix, size, ix.prefixes, sizeOf, stats)

	results := make([]Result, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		score, ok := ix.verifier.Verify(probe, size, ix.sets[id], stats)
		if !ok {
			continue
		}
		results = append(results, Result{ID: int(id), Similarity: score})
	}
	return results
}

// QueryAll runs one query per set with up to workers queries in flight. The
// i-th result slice belongs to sets[i].
func (ix *Index[T]) QueryAll(ctx context.Context, sets [][]T, workers int) ([][]Result, error) {
	return ix.queryAll(ctx, sets, workers, nil)
}

func (ix *Index[T]) queryAll(ctx context.Context, sets [][]T, workers int, observe func(int, time.Duration)) ([][]Result, error) {
	out := make([][]Result, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i := range sets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			out[i] = ix.Query(sets[i])
			if observe != nil {
				observe(i, time.Since(start))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("querying %d sets: %w", len(sets), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("querying %d sets: %w", len(sets), err)
	}
	return out, nil
}

type joinOptions struct {
	observe func(int, time.Duration)
}

// JoinOption configures CrossJoin.
type JoinOption func(*joinOptions)

// ObserveQueries calls fn with the position and duration of every query.
// fn is called concurrently from the query workers.
func ObserveQueries(fn func(query int, elapsed time.Duration)) JoinOption {
	return func(o *joinOptions) { o.observe = fn }
}

// CrossJoin queries the index with every set in queries and streams the
// matches as pairs, batch by batch in query order. Each batch of queries is
// evaluated concurrently by up to workers goroutines.
func CrossJoin[T comparable](ctx context.Context, ix *Index[T], queries [][]T, workers int, opts ...JoinOption) iter.Seq2[Pair, error] {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(Pair, error) bool) {
		batch := max(1, workers) * 64
		for lo := 0; lo < len(queries); lo += batch {
			hi := min(lo+batch, len(queries))
			var observe func(int, time.Duration)
			if o.observe != nil {
				observe = func(i int, d time.Duration) { o.observe(lo+i, d) }
			}
			results, err := ix.queryAll(ctx, queries[lo:hi], workers, observe)
			if err != nil {
				yield(Pair{}, err)
				return
			}
			for k, matches := range results {
				for _, r := range matches {
					if !yield(Pair{X: lo + k, Y: r.ID, Similarity: r.Similarity}, nil) {
						return
					}
				}
			}
		}
	}
}

// Len is the number of indexed sets.
func (ix *Index[T]) Len() int { return len(ix.sets) }

// Size returns the number of distinct tokens of indexed set i.
func (ix *Index[T]) Size(i int) int { return len(ix.sets[i]) }

func (ix *Index[T]) Measure() similarity.Measure { return ix.measure }

func (ix *Index[T]) Threshold() float64 { return ix.threshold }

func (ix *Index[T]) Stats() Stats {
	ps := ix.prefixes.Stats()
	ix.statsMu.Lock()
	queries := ix.stats
	ix.statsMu.Unlock()
	return Stats{
		Sets:          len(ix.sets),
		Tokens:        ix.order.Len(),
		IndexedTokens: ps.Tokens,
		Postings:      ps.Postings,
		BuildDuration: ix.built,
		Queries:       queries,
	}
}
