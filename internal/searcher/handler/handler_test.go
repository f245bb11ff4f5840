package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
)

func newCorpus(t *testing.T) *Corpus {
	t.Helper()
	sets := [][]string{{"1", "2", "3"}, {"3", "4", "5"}, {"2", "3", "4"}, {"5", "6", "7"}, {"cat", "dog"}}
	ix, err := searchindex.Build(sets, similarity.Jaccard, 0.5)
	require.NoError(t, err)
	return &Corpus{Index: ix, IDs: []string{"a", "b", "c", "d", "pets"}}
}

func newHandler(t *testing.T, withCache bool) (*Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(nil, config.RedisConfig{CacheTTL: time.Minute, LRUSize: 16}, "test", nil)
	}
	h := New(qc, m, 10, 3, 1)
	h.SetCorpus(newCorpus(t))
	return h, m
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) QueryResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp QueryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestQueryGet(t *testing.T) {
	h, m := newHandler(t, false)
	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=2+3+4&limit=2", nil))

	resp := decode(t, rec)
	assert.Equal(t, "jaccard", resp.Measure)
	assert.Equal(t, 0.5, resp.Threshold)
	assert.Equal(t, []Match{
		{SetID: "c", Size: 3, Similarity: 1},
		{SetID: "a", Size: 3, Similarity: 0.5},
	}, resp.Results)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("miss")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IndexedSets))
}

func TestQueryPostText(t *testing.T) {
	h, _ := newHandler(t, false)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"text":"cats and dogs"}`)
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", body))

	resp := decode(t, rec)
	assert.Equal(t, 2, resp.Tokens)
	assert.Equal(t, []Match{{SetID: "pets", Size: 2, Similarity: 1}}, resp.Results)
}

func TestQueryLimitClamped(t *testing.T) {
	h, _ := newHandler(t, false)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"tokens":["1","2","3","4","5"],"limit":50}`)
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", body))

	// a, b and c all score 0.6; maxResults is 3.
	resp := decode(t, rec)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a", resp.Results[0].SetID)
}

func TestQueryZeroResults(t *testing.T) {
	h, m := newHandler(t, false)
	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=unknown", nil))

	resp := decode(t, rec)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("zero_result")))
}

func TestQueryBadRequests(t *testing.T) {
	h, _ := newHandler(t, false)
	tests := map[string]*http.Request{
		"empty get":       httptest.NewRequest(http.MethodGet, "/api/v1/query", nil),
		"bad limit":       httptest.NewRequest(http.MethodGet, "/api/v1/query?q=1&limit=x", nil),
		"negative limit":  httptest.NewRequest(http.MethodGet, "/api/v1/query?q=1&limit=-1", nil),
		"malformed json":  httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{`)),
		"unknown field":   httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"set":["1"]}`)),
		"tokens and text": httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"tokens":["1"],"text":"cat"}`)),
		"only stopwords":  httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"text":"the of a"}`)),
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Query(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestQueryBeforeIndexReady(t *testing.T) {
	h := New(nil, nil, 10, 100, 1)
	require.Error(t, h.Ready())

	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.IndexStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetCorpus(newCorpus(t))
	assert.NoError(t, h.Ready())
}

func TestQueryCached(t *testing.T) {
	h, m := newHandler(t, true)
	for range 2 {
		h.Query(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/query?q=4+3+2", nil))
	}
	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=2+3+4+4", nil))
	resp := decode(t, rec)
	assert.True(t, resp.Cached)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))

	rec = httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "local", stats["backend"])
	assert.EqualValues(t, 2, stats["hits"])

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys_deleted":1`)
}

func TestQueryAfterCorpusSwap(t *testing.T) {
	h, _ := newHandler(t, true)
	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=cat+dog", nil))
	assert.Equal(t, []Match{{SetID: "pets", Size: 2, Similarity: 1}}, decode(t, rec).Results)

	ix, err := searchindex.Build([][]string{{"cat", "dog", "fish"}}, similarity.Jaccard, 0.5)
	require.NoError(t, err)
	h.SetCorpus(&Corpus{Index: ix, IDs: []string{"zoo"}})

	rec = httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=cat+dog", nil))
	resp := decode(t, rec)
	assert.False(t, resp.Cached)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "zoo", resp.Results[0].SetID)
	assert.InDelta(t, 2.0/3.0, resp.Results[0].Similarity, 1e-9)

	rec = httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats["local_entries"])
}

type staleIndex struct{ *searchindex.Index[string] }

func (staleIndex) Query([]string) []searchindex.Result {
	return []searchindex.Result{{ID: 7, Similarity: 1}}
}

func TestQueryResultOutsideCorpus(t *testing.T) {
	h, _ := newHandler(t, false)
	ix, err := searchindex.Build([][]string{{"1", "2"}}, similarity.Jaccard, 0.5)
	require.NoError(t, err)
	h.SetCorpus(&Corpus{Index: staleIndex{ix}, IDs: []string{"a"}})

	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query?q=1+2", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCacheEndpointsDisabled(t *testing.T) {
	h, _ := newHandler(t, false)
	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexStats(t *testing.T) {
	h, _ := newHandler(t, false)
	rec := httptest.NewRecorder()
	h.IndexStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.EqualValues(t, 5, stats["sets"])
	assert.Equal(t, "jaccard", stats["measure"])
}
