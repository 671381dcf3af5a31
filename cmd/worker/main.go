// Command worker consumes scoring run dispatches from the Redpanda queue and
// executes the extraction and scoring pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	aiadapter "github.com/talentsift/screener/internal/adapter/ai"
	"github.com/talentsift/screener/internal/adapter/ai/openrouter"
	"github.com/talentsift/screener/internal/adapter/ai/stub"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/adapter/queue/redpanda"
	"github.com/talentsift/screener/internal/adapter/repo/postgres"
	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
	"github.com/talentsift/screener/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated endpoint for scraping.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	pool, err := postgres.NewPool(context.Background(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	runRepo := postgres.NewRunRepo(pool)
	candRepo := postgres.NewCandidateRepo(pool)
	scoreRepo := postgres.NewScoreRepo(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	cache := aiadapter.NewRedisCache(rdb, cfg.CacheTTL)

	// Without a provider key the dev environment falls back to the
	// deterministic stub so the pipeline stays runnable locally.
	var aicl domain.AIClient
	if cfg.OpenRouterAPIKey == "" && cfg.IsDev() {
		slog.Warn("no OpenRouter API key; using stub AI client")
		aicl = stub.New()
	} else {
		aicl = openrouter.New(cfg)
	}

	weights, err := scoring.LoadWeights(cfg.WeightsPath)
	if err != nil {
		slog.Warn("weights load failed; using defaults",
			slog.String("path", cfg.WeightsPath), slog.Any("error", err))
		weights = scoring.DefaultWeights()
	}

	extractor := usecase.NewExtractionService(aicl, cache, cfg.OpenRouterModel,
		cfg.ExtractMaxAttempts, cfg.ExtractMaxTokens, cfg.PromptTokenBudget)
	aiScorer := usecase.NewAIScoreService(aicl, cache, cfg.ExtractMaxAttempts, cfg.ScoreMaxTokens)
	pipeline := usecase.NewPipeline(runRepo, candRepo, scoreRepo, extractor, aiScorer, weights,
		cfg.BatchSize, cfg.PipelineWorkers)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "screener-workers", runRepo, pipeline)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
