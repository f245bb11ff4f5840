package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/reader"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	corpusPath := flag.String("corpus", "", "corpus file to index (overrides search.corpusPath)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *corpusPath != "" {
		cfg.Search.CorpusPath = *corpusPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Search.CorpusPath == "" {
		fmt.Fprintln(os.Stderr, "search.corpusPath or -corpus is required")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"corpus", cfg.Search.CorpusPath,
		"measure", cfg.Join.Measure,
		"threshold", cfg.Join.Threshold,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, using in-process query cache only", "error", err)
		queryCache = cache.New(nil, cfg.Redis, cacheNamespace(cfg), nil)
	} else {
		defer redisClient.Close()
		breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		queryCache = cache.New(redisClient, cfg.Redis, cacheNamespace(cfg), breaker)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	h := handler.New(queryCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults, cfg.Join.ShingleSize)
	go func() {
		if err := loadCorpus(cfg, h, m); err != nil {
			slog.Error("failed to build search index", "error", err)
			os.Exit(1)
		}
	}()

	checker := health.NewChecker()
	checker.Register("search_index", health.Probe(func(context.Context) error { return h.Ready() }, false))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.Probe(redisClient.Ping, true)(ctx)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      routes(h, checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

func routes(h *handler.Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/query", h.Query)
	mux.HandleFunc("POST /api/v1/query", h.Query)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}

func loadCorpus(cfg *config.Config, h *handler.Handler, m *metrics.Metrics) error {
	coll, err := reader.ReadFile(cfg.Search.CorpusPath, cfg.Join.InputFormat, reader.Options{
		Reversed:    cfg.Join.ReversedTuples,
		ShingleSize: cfg.Join.ShingleSize,
	})
	if err != nil {
		return err
	}
	slog.Info("building search index", "sets", coll.Len())

	ix, err := searchindex.BuildByName(coll.Sets, cfg.Join.Measure, cfg.Join.Threshold,
		searchindex.WithWorkers(cfg.Search.QueryWorkers))
	if err != nil {
		return err
	}
	stats := ix.Stats()
	m.IndexBuildDuration.Observe(stats.BuildDuration.Seconds())
	corpusID := coll.Fingerprint()
	h.SetCorpus(&handler.Corpus{ID: corpusID, Index: ix, IDs: coll.IDs})

	slog.Info("search index ready",
		"corpus", corpusID,
		"sets", stats.Sets,
		"tokens", stats.Tokens,
		"postings", stats.Postings,
		"duration", stats.BuildDuration,
	)
	return nil
}

func cacheNamespace(cfg *config.Config) string {
	return fmt.Sprintf("%s:%g", cfg.Join.Measure, cfg.Join.Threshold)
}
