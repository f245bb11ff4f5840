package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/middleware"
)

const maxBodyBytes = 1 << 20

// Searcher is the read side of a built search index.
type Searcher interface {
	Query(set []string) []searchindex.Result
	Size(i int) int
	Len() int
	Measure() similarity.Measure
	Threshold() float64
	Stats() searchindex.Stats
}

// Corpus is a served index together with the external ids of its sets. ID
// identifies the corpus contents in cache keys; SetCorpus assigns a random one
// when it is empty.
type Corpus struct {
	ID    string
	Index Searcher
	IDs   []string
}

// Match is one result in a query response.
type Match struct {
	SetID      string  `json:"set_id"`
	Size       int     `json:"size"`
	Similarity float64 `json:"similarity"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Tokens    int     `json:"tokens"`
	Measure   string  `json:"measure"`
	Threshold float64 `json:"threshold"`
	Results   []Match `json:"results"`
	Cached    bool    `json:"cached"`
	TookMs    int64   `json:"took_ms"`
	RequestID string  `json:"request_id,omitempty"`
}

// QueryRequest is the body of POST /api/v1/query. Exactly one of Tokens and
// Text must be set.
type QueryRequest struct {
	Tokens []string `json:"tokens"`
	Text   string   `json:"text"`
	Limit  int      `json:"limit"`
}

type Handler struct {
	corpus       atomic.Pointer[Corpus]
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	shingleSize  int
	logger       *slog.Logger
}

// New creates a Handler. The cache and metrics may be nil. Queries fail with
// 503 until SetCorpus is called.
func New(queryCache *cache.QueryCache, m *metrics.Metrics, defaultLimit, maxResults, shingleSize int) *Handler {
	return &Handler{
		cache:        queryCache,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		shingleSize:  shingleSize,
		logger:       logger.WithComponent("search-handler"),
	}
}

// SetCorpus starts serving c. Cached results of the previous corpus are
// dropped from the local cache and no longer addressed in the remote one.
func (h *Handler) SetCorpus(c *Corpus) {
	if c.ID == "" {
		withID := *c
		withID.ID = uuid.NewString()
		c = &withID
	}
	prev := h.corpus.Swap(c)
	if h.cache != nil && prev != nil && prev.ID != c.ID {
		purged := h.cache.PurgeLocal()
		h.logger.Info("corpus replaced", "previous", prev.ID, "current", c.ID, "purged_entries", purged)
	}
	if h.metrics != nil {
		h.metrics.IndexedSets.Set(float64(c.Index.Len()))
	}
}

// Ready reports whether a corpus is being served.
func (h *Handler) Ready() error {
	if h.corpus.Load() == nil {
		return apperrors.ErrIndexNotReady
	}
	return nil
}

// Query serves GET /api/v1/query?q=a+b+c&limit=n and POST /api/v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	switch r.Method {
	case http.MethodGet:
		req.Tokens = strings.Fields(r.URL.Query().Get("q"))
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
				return
			}
			req.Limit = parsed
		}
	default:
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
			return
		}
	}

	tokens, limit, err := h.normalize(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.query(r, tokens, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) normalize(req QueryRequest) ([]string, int, error) {
	if len(req.Tokens) > 0 && req.Text != "" {
		return nil, 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "set either tokens or text, not both")
	}
	tokens := req.Tokens
	if req.Text != "" {
		tokens = tokenizer.Shingles(req.Text, h.shingleSize)
	}
	if len(tokens) == 0 {
		return nil, 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query set must not be empty")
	}
	limit := req.Limit
	switch {
	case limit < 0:
		return nil, 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	case limit == 0:
		limit = h.defaultLimit
	case limit > h.maxResults:
		limit = h.maxResults
	}
	return tokens, limit, nil
}

func (h *Handler) query(r *http.Request, tokens []string, limit int) (*QueryResponse, error) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	corpus := h.corpus.Load()
	if corpus == nil {
		h.countQuery("error")
		return nil, apperrors.New(apperrors.ErrIndexNotReady, http.StatusServiceUnavailable, "index is still building")
	}

	compute := func() ([]searchindex.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return merger.TopK([][]searchindex.Result{corpus.Index.Query(tokens)}, limit), nil
	}

	var results []searchindex.Result
	var cached bool
	var err error
	if h.cache != nil {
		results, cached, err = h.cache.GetOrCompute(ctx, corpus.ID, tokens, limit, compute)
	} else {
		results, err = compute()
	}
	if err != nil {
		h.countQuery("error")
		log.Error("query failed", "tokens", len(tokens), "error", err)
		return nil, err
	}

	resp := &QueryResponse{
		Tokens:    len(tokens),
		Measure:   corpus.Index.Measure().String(),
		Threshold: corpus.Index.Threshold(),
		Results:   make([]Match, 0, len(results)),
		Cached:    cached,
		TookMs:    time.Since(start).Milliseconds(),
		RequestID: middleware.GetRequestID(ctx),
	}
	for _, res := range results {
		if res.ID < 0 || res.ID >= len(corpus.IDs) {
			h.countQuery("error")
			log.Error("result outside corpus", "set", res.ID, "sets", len(corpus.IDs), "corpus", corpus.ID)
			return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError, "result %d outside corpus", res.ID)
		}
		resp.Results = append(resp.Results, Match{
			SetID:      corpus.IDs[res.ID],
			Size:       corpus.Index.Size(res.ID),
			Similarity: res.Similarity,
		})
	}
	h.observe(cached, len(results), time.Since(start))

	log.Info("query completed",
		"tokens", len(tokens),
		"returned", len(resp.Results),
		"cache_hit", cached,
		"latency_ms", resp.TookMs,
	)
	return resp, nil
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	corpus := h.corpus.Load()
	if corpus == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrIndexNotReady, http.StatusServiceUnavailable, "index is still building"))
		return
	}
	stats := corpus.Index.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"measure":           corpus.Index.Measure().String(),
		"threshold":         corpus.Index.Threshold(),
		"sets":              stats.Sets,
		"tokens":            stats.Tokens,
		"indexed_tokens":    stats.IndexedTokens,
		"postings":          stats.Postings,
		"build_duration_ms": stats.BuildDuration.Milliseconds(),
		"queries":           stats.Queries,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"total":         total,
		"hit_rate":      fmt.Sprintf("%.1f%%", hitRate),
		"backend":       stats.Backend,
		"local_entries": stats.LocalEntries,
		"remote_errors": stats.RemoteErrors,
		"circuit_state": stats.CircuitState,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed"))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.QueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) observe(cached bool, n int, took time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	if cached {
		status = "hit"
		h.metrics.CacheHitsTotal.Inc()
	} else if h.cache != nil {
		h.metrics.CacheMissesTotal.Inc()
	}
	resultType := status
	if n == 0 {
		resultType = "zero_result"
	}
	h.metrics.QueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.QueryLatency.WithLabelValues(status).Observe(took.Seconds())
	h.metrics.QueryResultsCount.Observe(float64(n))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Warn("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
