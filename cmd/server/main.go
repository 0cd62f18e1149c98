// Command server wires every collaborator and internal package
// together and runs the HTTP listener. Grounded on the teacher's
// app/cmd/main.go: env loading, a goroutine running the server, and a
// signal channel driving graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hr-knowledge-base/rag-core/internal/chat"
	"github.com/hr-knowledge-base/rag-core/internal/clock"
	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
	"github.com/hr-knowledge-base/rag-core/internal/config"
	"github.com/hr-knowledge-base/rag-core/internal/httpserver"
	"github.com/hr-knowledge-base/rag-core/internal/metrics"
	"github.com/hr-knowledge-base/rag-core/internal/ratelimit"
	redislimiter "github.com/hr-knowledge-base/rag-core/internal/ratelimit/redis"
	"github.com/hr-knowledge-base/rag-core/internal/reqlog"
	"github.com/hr-knowledge-base/rag-core/internal/retrieval"
)

// Exit codes per spec section 6.4: 0 normal shutdown, 1 configuration
// error, 2 bind failure.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	logger := reqlog.New(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := collaborators.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return exitConfigError
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	embedder := collaborators.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.OpenAIAPIKey, httpClient)
	// No client-wide Timeout for the LLM: it would cap the whole streamed
	// response body, while streaming is bounded by the chat idle timer.
	llm := collaborators.NewHTTPStreamingLLM(cfg.LLMBaseURL, cfg.OpenAIAPIKey, cfg.LLMModel, &http.Client{})

	limiter, err := buildLimiter(cfg)
	if err != nil {
		logger.Error("failed to build rate limiter", "error", err)
		return exitConfigError
	}

	registry := metrics.NewRegistryWithClock(clock.Real{}, cfg.MetricsRetention)
	engine := retrieval.NewEngine(embedder, store, logger)
	orchestrator := chat.NewOrchestrator(engine, llm, logger)

	srv := httpserver.New(httpserver.Deps{
		Config:       cfg,
		Limiter:      limiter,
		Metrics:      registry,
		Logger:       logger,
		Engine:       engine,
		Orchestrator: orchestrator,
		Store:        store,
		Embedder:     embedder,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Listen(cfg.ListenAddr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("failed to bind listener", "error", err, "addr", cfg.ListenAddr)
		return exitBindFailure
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	return exitOK
}

// buildLimiter selects the configured ratelimit.Limiter backend.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	switch cfg.RateLimitBackend {
	case config.RateLimitRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		return redislimiter.New(client), nil
	default:
		return ratelimit.NewMemory(), nil
	}
}
