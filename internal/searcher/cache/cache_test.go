package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	data, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (m *memStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

var cfg = config.RedisConfig{CacheTTL: time.Minute, LRUSize: 16}

const corpusID = "corpus-1"

var sample = []searchindex.Result{{ID: 1, Similarity: 1}, {ID: 2, Similarity: 0.5}}

func TestRemoteRoundTrip(t *testing.T) {
	store := newMemStore()
	c := New(store, cfg, "jaccard-0.5", nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, corpusID, []string{"a", "b"}, 10)
	assert.False(t, ok)

	c.Set(ctx, corpusID, []string{"b", "a", "a"}, 10, sample)
	got, ok := c.Get(ctx, corpusID, []string{"a", "b"}, 10)
	require.True(t, ok)
	assert.Equal(t, sample, got)
	assert.Equal(t, 1, store.len())

	_, ok = c.Get(ctx, corpusID, []string{"a", "b"}, 5)
	assert.False(t, ok, "limit is part of the key")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, "redis", stats.Backend)
	assert.Zero(t, stats.LocalEntries)
}

func TestLocalOnly(t *testing.T) {
	c := New(nil, cfg, "cosine-0.8", nil)
	ctx := context.Background()
	c.Set(ctx, corpusID, []string{"x"}, 3, sample)
	got, ok := c.Get(ctx, corpusID, []string{"x"}, 3)
	require.True(t, ok)
	assert.Equal(t, sample, got)
	assert.Equal(t, "local", c.Stats().Backend)
}

func TestFallsBackWhenRemoteFails(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	breaker := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := New(store, cfg, "ns", breaker)
	ctx := context.Background()

	c.Set(ctx, corpusID, []string{"x"}, 3, sample)
	assert.Equal(t, resilience.StateOpen, breaker.GetState())

	got, ok := c.Get(ctx, corpusID, []string{"x"}, 3)
	require.True(t, ok)
	assert.Equal(t, sample, got)
	assert.Equal(t, int64(1), c.Stats().RemoteErrors)
	assert.Equal(t, "open", c.Stats().CircuitState)
}

func TestGetOrComputeDeduplicates(t *testing.T) {
	c := New(newMemStore(), cfg, "ns", nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrCompute(context.Background(), corpusID, []string{"q"}, 10, func() ([]searchindex.Result, error) {
				calls.Add(1)
				<-release
				return sample, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, sample, got)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	got, cached, err := c.GetOrCompute(context.Background(), corpusID, []string{"q"}, 10, func() ([]searchindex.Result, error) {
		t.Fatal("should be cached")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, sample, got)
}

func TestGetOrComputeError(t *testing.T) {
	c := New(nil, cfg, "ns", nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), corpusID, []string{"q"}, 1, func() ([]searchindex.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), corpusID, []string{"q"}, 1)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	store.data["other:key"] = []byte("1")
	c := New(store, cfg, "ns", nil)
	ctx := context.Background()
	c.Set(ctx, corpusID, []string{"a"}, 1, sample)
	c.Set(ctx, corpusID, []string{"b"}, 1, sample)

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, store.len())
}

func TestCorpusIsPartOfKey(t *testing.T) {
	store := newMemStore()
	c := New(store, cfg, "ns", nil)
	ctx := context.Background()

	c.Set(ctx, "old", []string{"a"}, 1, sample)
	_, ok := c.Get(ctx, "new", []string{"a"}, 1)
	assert.False(t, ok)
	got, ok := c.Get(ctx, "old", []string{"a"}, 1)
	require.True(t, ok)
	assert.Equal(t, sample, got)
}

func TestPurgeLocal(t *testing.T) {
	c := New(nil, cfg, "ns", nil)
	ctx := context.Background()
	c.Set(ctx, corpusID, []string{"a"}, 1, sample)
	c.Set(ctx, corpusID, []string{"b"}, 1, sample)

	assert.Equal(t, 2, c.PurgeLocal())
	_, ok := c.Get(ctx, corpusID, []string{"a"}, 1)
	assert.False(t, ok)
}
