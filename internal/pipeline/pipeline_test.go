package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/reader"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
)

type memorySink struct {
	records []sink.Record
	flushes int
	failAt  int
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, r sink.Record) error {
	if m.failAt > 0 && len(m.records)+1 == m.failAt {
		return errors.New("disk full")
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memorySink) Flush(context.Context) error { m.flushes++; return nil }
func (m *memorySink) Close() error                { return nil }

func corpus() *reader.Collection {
	return &reader.Collection{
		IDs:  []string{"a", "b", "c", "d"},
		Sets: [][]string{{"1", "2", "3"}, {"3", "4", "5"}, {"2", "3", "4"}, {"5", "6", "7"}},
	}
}

func TestSelfJoin(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	out := &memorySink{}
	summary, err := New(m, WithSpanLogging(true)).SelfJoin(context.Background(), corpus(), Params{Measure: similarity.Jaccard, Threshold: 0.5}, out)
	require.NoError(t, err)

	assert.ElementsMatch(t, []sink.Record{
		{XID: "c", YID: "a", XSize: 3, YSize: 3, Similarity: 0.5},
		{XID: "c", YID: "b", XSize: 3, YSize: 3, Similarity: 0.5},
	}, out.records)
	assert.Equal(t, 1, out.flushes)
	assert.Equal(t, int64(2), summary.Pairs)
	assert.Equal(t, KindSelf, summary.Kind)
	assert.NotEmpty(t, summary.RunID)
	assert.Nil(t, summary.QueryTimes)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JoinPairsTotal.WithLabelValues(KindSelf, "jaccard")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkWritesTotal.WithLabelValues("memory", "ok")))
}

func TestSelfJoinRejectsContainment(t *testing.T) {
	_, err := New(nil).SelfJoin(context.Background(), corpus(), Params{Measure: similarity.Containment, Threshold: 0.5}, &memorySink{})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedMeasureForOperation)
}

func TestSelfJoinSinkError(t *testing.T) {
	_, err := New(nil).SelfJoin(context.Background(), corpus(), Params{Measure: similarity.Jaccard, Threshold: 0.1}, &memorySink{failAt: 2})
	assert.ErrorContains(t, err, "disk full")
}

func TestCrossJoin(t *testing.T) {
	queries := &reader.Collection{
		IDs:  []string{"q1", "q2"},
		Sets: [][]string{{"3", "5", "4", "4"}, {"x"}},
	}
	out := &memorySink{}
	summary, err := New(nil).CrossJoin(context.Background(), corpus(), queries,
		Params{RunID: "run-1", Measure: similarity.Containment, Threshold: 0.5, Workers: 2}, out)
	require.NoError(t, err)

	require.Len(t, out.records, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, []string{out.records[0].YID, out.records[1].YID})
	for _, rec := range out.records {
		assert.Equal(t, "q1", rec.XID)
		assert.Equal(t, 3, rec.XSize)
	}
	assert.Equal(t, "run-1", summary.RunID)
	require.NotNil(t, summary.QueryTimes)
	assert.Equal(t, 2, summary.QueryTimes.Count)
	assert.Equal(t, 2, summary.QuerySets)
	assert.Equal(t, 4, summary.Sets)
}

func TestCrossJoinCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).CrossJoin(ctx, corpus(), corpus(), Params{Measure: similarity.Jaccard, Threshold: 0.5, Workers: 1}, &memorySink{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	d := []time.Duration{4, 1, 3, 2, 5, 6, 7, 8, 9, 10}
	got := Summarize(d)
	assert.Equal(t, 10, got.Count)
	assert.Equal(t, time.Duration(5), got.Mean)
	assert.Equal(t, time.Duration(5), got.Median) // 5.5 truncated
	assert.Equal(t, time.Duration(9), got.P90)    // 9.1 truncated
	assert.Equal(t, QueryTimes{}, Summarize(nil))
	assert.Equal(t, time.Duration(7), Summarize([]time.Duration{7}).P90)
}
