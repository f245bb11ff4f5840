// Package cache memoises similarity query results. Results live in Redis
// when it is configured and healthy; otherwise, or while the Redis circuit is
// open, an in-process expiring LRU takes over.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

const (
	keyPrefix     = "setsim:query:"
	remoteTimeout = 250 * time.Millisecond
)

// Store is the remote key-value store. *redis.Client implements it.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	RemoteErrors int64  `json:"remote_errors"`
	LocalEntries int    `json:"local_entries"`
	Backend      string `json:"backend"`
	CircuitState string `json:"circuit_state,omitempty"`
}

type QueryCache struct {
	remote    Store
	local     *expirable.LRU[string, []searchindex.Result]
	breaker   *resilience.CircuitBreaker
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	logger    *slog.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	remoteErrors atomic.Int64
}

// New creates a QueryCache. remote may be nil, in which case only the local
// LRU is used. namespace separates indexes built with different parameters.
func New(remote Store, cfg config.RedisConfig, namespace string, breaker *resilience.CircuitBreaker) *QueryCache {
	size := cfg.LRUSize
	if size <= 0 {
		size = 1024
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{})
	}
	return &QueryCache{
		remote:    remote,
		local:     expirable.NewLRU[string, []searchindex.Result](size, nil, cfg.CacheTTL),
		breaker:   breaker,
		ttl:       cfg.CacheTTL,
		namespace: namespace,
		logger:    slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) useRemote() bool {
	return c.remote != nil && c.breaker.Allow()
}

// Get looks up the cached results for a query against the corpus identified
// by corpusID.
func (c *QueryCache) Get(ctx context.Context, corpusID string, tokens []string, limit int) ([]searchindex.Result, bool) {
	key := c.buildKey(corpusID, tokens, limit)
	if c.useRemote() {
		var results []searchindex.Result
		var found bool
		err := c.breaker.Execute(func() error {
			var err error
			found, err = resilience.Call(ctx, remoteTimeout, "cache-get", func(ctx context.Context) (bool, error) {
				return c.remote.GetJSON(ctx, key, &results)
			})
			return err
		})
		if err == nil {
			if found {
				c.hits.Add(1)
				return results, true
			}
			c.misses.Add(1)
			return nil, false
		}
		c.remoteErrors.Add(1)
		c.logger.Warn("remote cache get failed, using local cache", "key", key, "error", err)
	}
	if results, ok := c.local.Get(key); ok {
		c.hits.Add(1)
		return results, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores results for a query.
func (c *QueryCache) Set(ctx context.Context, corpusID string, tokens []string, limit int, results []searchindex.Result) {
	key := c.buildKey(corpusID, tokens, limit)
	if c.useRemote() {
		err := c.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, remoteTimeout, "cache-set", func(ctx context.Context) error {
				return c.remote.SetJSON(ctx, key, results, c.ttl)
			})
		})
		if err == nil {
			return
		}
		c.remoteErrors.Add(1)
		c.logger.Warn("remote cache set failed, using local cache", "key", key, "error", err)
	}
	c.local.Add(key, results)
}

// GetOrCompute returns cached results or computes them once per key, even
// under concurrent identical queries. cached reports whether the results came
// from the cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	corpusID string,
	tokens []string,
	limit int,
	computeFn func() ([]searchindex.Result, error),
) (results []searchindex.Result, cached bool, err error) {
	if results, ok := c.Get(ctx, corpusID, tokens, limit); ok {
		return results, true, nil
	}
	key := c.buildKey(corpusID, tokens, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		results, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, corpusID, tokens, limit, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]searchindex.Result), false, nil
}

// Invalidate drops every cached query of this namespace.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted := int64(c.local.Len())
	c.local.Purge()
	if c.remote != nil {
		n, err := c.remote.FlushByPattern(ctx, keyPrefix+c.namespace+":*")
		if err != nil {
			return deleted, fmt.Errorf("invalidating cache: %w", err)
		}
		deleted += n
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		RemoteErrors: c.remoteErrors.Load(),
		LocalEntries: c.local.Len(),
		Backend:      "local",
	}
	if c.remote != nil {
		s.Backend = "redis"
		s.CircuitState = c.breaker.GetState().String()
	}
	return s
}

// PurgeLocal drops every entry of the in-process cache. Remote entries are
// left to expire.
func (c *QueryCache) PurgeLocal() int {
	n := c.local.Len()
	c.local.Purge()
	return n
}

// buildKey hashes the normalized token set, so token order and repetition do
// not matter. Results hold corpus positions, so the corpus id is part of the
// key.
func (c *QueryCache) buildKey(corpusID string, tokens []string, limit int) string {
	normalized := slices.Clone(tokens)
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	raw := fmt.Sprintf("%s:limit=%d", strings.Join(normalized, "\x00"), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, c.namespace, corpusID, hash[:16])
}
