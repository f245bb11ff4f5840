package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/middleware"
)

const corpusTuples = `# set token
a 1
a 2
a 3
b 3
b 4
b 5
c 2
c 3
c 4
d 5
d 6
d 7
`

type service struct {
	cfg     *config.Config
	handler *handler.Handler
	metrics *metrics.Metrics
	server  *httptest.Server
}

func newService(t *testing.T) *service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(corpusTuples), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Search.CorpusPath = path
	cfg.Join.Measure = "jaccard"
	cfg.Join.Threshold = 0.5
	cfg.Join.InputFormat = "tuples"

	m := metrics.New(prometheus.NewRegistry())
	h := handler.New(cache.New(nil, cfg.Redis, cacheNamespace(cfg), nil), m, 10, 100, 1)
	checker := health.NewChecker()
	checker.Register("search_index", health.Probe(func(context.Context) error { return h.Ready() }, false))

	srv := httptest.NewServer(routes(h, checker, m, time.Second))
	t.Cleanup(srv.Close)
	return &service{cfg: cfg, handler: h, metrics: m, server: srv}
}

func TestReadinessFollowsIndexBuild(t *testing.T) {
	svc := newService(t)

	resp, err := http.Get(svc.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(svc.server.URL + "/api/v1/query?q=1+2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))

	resp, err = http.Get(svc.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.0, testutil.ToFloat64(svc.metrics.IndexedSets))
}

func TestQueryThroughMiddleware(t *testing.T) {
	svc := newService(t)
	require.NoError(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))

	req, err := http.NewRequest(http.MethodPost, svc.server.URL+"/api/v1/query",
		strings.NewReader(`{"tokens":["2","3","4"],"limit":5}`))
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(middleware.RequestIDHeader))

	var body handler.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, []handler.Match{
		{SetID: "c", Size: 3, Similarity: 1},
		{SetID: "a", Size: 3, Similarity: 0.5},
		{SetID: "b", Size: 3, Similarity: 0.5},
	}, body.Results)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		svc.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/query", "200")))
}

func query(t *testing.T, svc *service, q string) handler.QueryResponse {
	t.Helper()
	resp, err := http.Get(svc.server.URL + "/api/v1/query?q=" + q)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body handler.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestReloadCorpusDropsCachedResults(t *testing.T) {
	svc := newService(t)
	require.NoError(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))
	assert.Len(t, query(t, svc, "2+3+4").Results, 3)
	assert.True(t, query(t, svc, "2+3+4").Cached)

	// Reloading the same file keeps the cache.
	require.NoError(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))
	assert.True(t, query(t, svc, "2+3+4").Cached)

	require.NoError(t, os.WriteFile(svc.cfg.Search.CorpusPath, []byte("z 2\nz 3\nz 4\n"), 0o644))
	require.NoError(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))

	body := query(t, svc, "2+3+4")
	assert.False(t, body.Cached)
	assert.Equal(t, []handler.Match{{SetID: "z", Size: 3, Similarity: 1}}, body.Results)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.IndexedSets))
}

func TestUnknownRoute(t *testing.T) {
	svc := newService(t)
	resp, err := http.Get(svc.server.URL + "/api/v1/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		svc.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "other", "404")))
}

func TestLoadCorpusMissingFile(t *testing.T) {
	svc := newService(t)
	svc.cfg.Search.CorpusPath = filepath.Join(t.TempDir(), "missing.txt")
	assert.Error(t, loadCorpus(svc.cfg, svc.handler, svc.metrics))
	assert.Error(t, svc.handler.Ready())
}
