// Package pipeline runs a complete join: it takes collections produced by the
// reader, finds every similar pair (self-join for one collection, index and
// query for two) and hands the pairs to a sink together with the external set
// ids and sizes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/reader"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/allpairs"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/verifier"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/tracing"
)

const (
	KindSelf  = "self"
	KindCross = "cross"
)

// Params are the similarity parameters of a run. An empty RunID gets a
// fresh UUID.
type Params struct {
	RunID     string
	Measure   similarity.Measure
	Threshold float64
	Workers   int
}

// Summary describes a finished run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Kind       string         `json:"kind"`
	Sets       int            `json:"sets"`
	QuerySets  int            `json:"query_sets,omitempty"`
	Pairs      int64          `json:"pairs"`
	Duration   time.Duration  `json:"duration"`
	Work       verifier.Stats `json:"work"`
	QueryTimes *QueryTimes    `json:"query_times,omitempty"`
}

// Runner executes joins and reports them to metrics. A nil Metrics disables
// reporting.
type Runner struct {
	metrics  *metrics.Metrics
	logSpans bool
	logger   *slog.Logger
}

type Option func(*Runner)

// WithSpanLogging logs the span tree of every run at debug level.
func WithSpanLogging(enabled bool) Option {
	return func(r *Runner) { r.logSpans = enabled }
}

func New(m *metrics.Metrics, opts ...Option) *Runner {
	r := &Runner{
		metrics: m,
		logger:  slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) start(ctx context.Context, p Params, kind, name string) (context.Context, *tracing.Span, *slog.Logger, func()) {
	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := r.logger.With("run_id", runID, "kind", kind)
	ctx, root := tracing.StartSpan(ctx, name, runID)
	return ctx, root, logger, func() {
		root.End()
		if r.logSpans {
			root.Log(logger)
		}
	}
}

// SelfJoin writes every pair of similar sets within coll to out.
func (r *Runner) SelfJoin(ctx context.Context, coll *reader.Collection, p Params, out sink.Sink) (*Summary, error) {
	ctx, root, logger, end := r.start(ctx, p, KindSelf, "self-join")
	defer end()

	start := time.Now()
	_, prep := tracing.StartChildSpan(ctx, "transform")
	join, err := allpairs.New(coll.Sets, p.Measure, p.Threshold)
	prep.End()
	if err != nil {
		r.countRun(KindSelf, "invalid")
		return nil, err
	}
	logger.Info("finding pairs", "sets", coll.Len(), "measure", p.Measure.String(), "threshold", p.Threshold)

	_, joinSpan := tracing.StartChildSpan(ctx, "join")
	var pairs int64
	for pair := range join.Pairs() {
		if err := ctx.Err(); err != nil {
			joinSpan.End()
			r.countRun(KindSelf, "cancelled")
			return nil, fmt.Errorf("self-join: %w", err)
		}
		rec := sink.Record{
			XID:        coll.IDs[pair.X],
			YID:        coll.IDs[pair.Y],
			XSize:      join.Size(pair.X),
			YSize:      join.Size(pair.Y),
			Similarity: pair.Similarity,
		}
		if err := r.write(ctx, out, rec); err != nil {
			joinSpan.End()
			r.countRun(KindSelf, "error")
			return nil, err
		}
		pairs++
	}
	joinSpan.SetAttr("pairs", pairs)
	joinSpan.End()

	if err := r.flush(ctx, out); err != nil {
		r.countRun(KindSelf, "error")
		return nil, err
	}

	summary := &Summary{
		RunID:    root.TraceID,
		Kind:     KindSelf,
		Sets:     coll.Len(),
		Pairs:    pairs,
		Duration: time.Since(start),
		Work:     join.Stats(),
	}
	r.report(summary, p.Measure)
	logger.Info("found pairs", "pairs", pairs, "duration", summary.Duration)
	return summary, nil
}

// CrossJoin indexes the indexed collection and queries it with every set of
// queries. Records name the query set first.
func (r *Runner) CrossJoin(ctx context.Context, indexed, queries *reader.Collection, p Params, out sink.Sink) (*Summary, error) {
	ctx, root, logger, end := r.start(ctx, p, KindCross, "cross-join")
	defer end()

	start := time.Now()
	logger.Info("building search index", "sets", indexed.Len())
	_, build := tracing.StartChildSpan(ctx, "build")
	ix, err := searchindex.Build(indexed.Sets, p.Measure, p.Threshold, searchindex.WithWorkers(p.Workers))
	build.End()
	if err != nil {
		r.countRun(KindCross, "invalid")
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.IndexBuildDuration.Observe(ix.Stats().BuildDuration.Seconds())
	}
	logger.Info("finished building search index", "duration", ix.Stats().BuildDuration)

	var mu sync.Mutex
	elapsed := make([]time.Duration, len(queries.Sets))
	observe := searchindex.ObserveQueries(func(q int, d time.Duration) {
		mu.Lock()
		elapsed[q] = d
		mu.Unlock()
	})

	_, joinSpan := tracing.StartChildSpan(ctx, "query")
	var pairs int64
	for pair, err := range searchindex.CrossJoin(ctx, ix, queries.Sets, p.Workers, observe) {
		if err != nil {
			joinSpan.End()
			r.countRun(KindCross, "cancelled")
			return nil, fmt.Errorf("cross-join: %w", err)
		}
		rec := sink.Record{
			XID:        queries.IDs[pair.X],
			YID:        indexed.IDs[pair.Y],
			XSize:      distinct(queries.Sets[pair.X]),
			YSize:      ix.Size(pair.Y),
			Similarity: pair.Similarity,
		}
		if err := r.write(ctx, out, rec); err != nil {
			joinSpan.End()
			r.countRun(KindCross, "error")
			return nil, err
		}
		pairs++
	}
	joinSpan.SetAttr("pairs", pairs)
	joinSpan.End()

	if err := r.flush(ctx, out); err != nil {
		r.countRun(KindCross, "error")
		return nil, err
	}

	times := Summarize(elapsed)
	summary := &Summary{
		RunID:      root.TraceID,
		Kind:       KindCross,
		Sets:       indexed.Len(),
		QuerySets:  queries.Len(),
		Pairs:      pairs,
		Duration:   time.Since(start),
		Work:       ix.Stats().Queries,
		QueryTimes: &times,
	}
	r.report(summary, p.Measure)
	logger.Info("found pairs", "pairs", pairs, "duration", summary.Duration)
	logger.Info("query times",
		"mean", times.Mean,
		"median", times.Median,
		"p90", times.P90,
	)
	return summary, nil
}

func (r *Runner) write(ctx context.Context, out sink.Sink, rec sink.Record) error {
	if err := out.Write(ctx, rec); err != nil {
		r.countSink(out.Name(), "error")
		return fmt.Errorf("writing pair to %s sink: %w", out.Name(), err)
	}
	r.countSink(out.Name(), "ok")
	return nil
}

func (r *Runner) flush(ctx context.Context, out sink.Sink) error {
	if err := out.Flush(ctx); err != nil {
		return fmt.Errorf("flushing %s sink: %w", out.Name(), err)
	}
	return nil
}

func (r *Runner) countRun(kind, status string) {
	if r.metrics != nil {
		r.metrics.JoinRunsTotal.WithLabelValues(kind, status).Inc()
	}
}

func (r *Runner) countSink(name, status string) {
	if r.metrics != nil {
		r.metrics.SinkWritesTotal.WithLabelValues(name, status).Inc()
	}
}

func (r *Runner) report(s *Summary, m similarity.Measure) {
	if r.metrics == nil {
		return
	}
	r.metrics.JoinRunsTotal.WithLabelValues(s.Kind, "ok").Inc()
	r.metrics.JoinPairsTotal.WithLabelValues(s.Kind, m.String()).Add(float64(s.Pairs))
	r.metrics.JoinCandidatesTotal.WithLabelValues(s.Kind, m.String()).Add(float64(s.Work.Candidates))
	r.metrics.JoinPrunedTotal.WithLabelValues(s.Kind, m.String()).Add(float64(s.Work.Pruned))
}

func distinct(set []string) int {
	seen := make(map[string]struct{}, len(set))
	for _, token := range set {
		seen[token] = struct{}{}
	}
	return len(seen)
}
