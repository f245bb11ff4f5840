package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

var fastRetry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestCSV(t *testing.T) {
	out := &bufCloser{}
	s, err := NewCSV(out)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, Record{XID: "b", YID: "a", XSize: 3, YSize: 3, Similarity: 0.5}))
	require.NoError(t, s.Write(ctx, Record{XID: "x,y", YID: "a", XSize: 1, YSize: 3, Similarity: 1.0 / 3.0}))
	require.NoError(t, s.Close())

	assert.True(t, out.closed)
	assert.Equal(t,
		"set_ID_x,set_ID_y,set_size_x,set_size_y,similarity\n"+
			"b,a,3,3,0.5\n"+
			"\"x,y\",a,1,3,0.3333333333333333\n",
		out.String())
}

type fakePublisher struct {
	batches [][]kafka.Event
	fail    int
	closed  bool
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("leader not available")
	}
	f.batches = append(f.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestKafkaBatches(t *testing.T) {
	pub := &fakePublisher{fail: 1}
	s := NewKafka(pub, "run-1", 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(ctx, Record{XID: "x", YID: "y", Similarity: 1}))
	}
	require.Len(t, pub.batches, 1, "first batch published after one retry")
	require.NoError(t, s.Close())
	require.Len(t, pub.batches, 2)
	assert.Len(t, pub.batches[1], 1)
	assert.True(t, pub.closed)

	data, err := json.Marshal(pub.batches[0][0].Value)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"run_id":"run-1","set_id_x":"x","set_id_y":"y","set_size_x":0,"set_size_y":0,"similarity":1}`,
		string(data))
}

func TestKafkaDropsBatchAfterRetries(t *testing.T) {
	pub := &fakePublisher{fail: 2}
	s := NewKafka(pub, "run-1", 10)
	s.retry = fastRetry
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, Record{XID: "x", YID: "y"}))

	err := s.Flush(ctx)
	assert.ErrorContains(t, err, "flushing 1 pairs to kafka")
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, s.Close())
	assert.Empty(t, pub.batches)
	assert.True(t, pub.closed)
}

func TestPostgresBatches(t *testing.T) {
	s := NewPostgres(nil, "run-1", 2)
	var copied [][]Record
	s.copyFn = func(_ context.Context, batch []Record) error {
		copied = append(copied, append([]Record(nil), batch...))
		return nil
	}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Write(ctx, Record{XID: id}))
	}
	require.Len(t, copied, 1)
	require.NoError(t, s.Close())
	require.Len(t, copied, 2)
	assert.Equal(t, []Record{{XID: "c"}}, copied[1])
}

func TestPostgresDropsBatchAfterRetries(t *testing.T) {
	s := NewPostgres(nil, "run-1", 10)
	s.retry = fastRetry
	attempts := 0
	s.copyFn = func(context.Context, []Record) error {
		attempts++
		return errors.New("connection reset")
	}
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, Record{XID: "a"}))

	assert.ErrorContains(t, s.Flush(ctx), "copying 1 pairs to postgres")
	assert.Equal(t, 2, attempts)

	require.NoError(t, s.Close())
	assert.Equal(t, 2, attempts)
}

func TestOpenCSVFile(t *testing.T) {
	cfg := &config.Config{Sink: config.SinkConfig{Type: "csv", Path: filepath.Join(t.TempDir(), "pairs.csv")}}
	s, err := Open(context.Background(), cfg, "run")
	require.NoError(t, err)
	assert.Equal(t, "csv", s.Name())
	require.NoError(t, s.Close())

	data, err := os.ReadFile(cfg.Sink.Path)
	require.NoError(t, err)
	assert.Equal(t, "set_ID_x,set_ID_y,set_size_x,set_size_y,similarity\n", string(data))
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Sink: config.SinkConfig{Type: "s3"}}, "run")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
