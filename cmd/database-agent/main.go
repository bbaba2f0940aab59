package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/database-ai/internal/auth"
	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/memory"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/server"
	"github.com/seanankenbruck/database-ai/internal/session"
	"github.com/seanankenbruck/database-ai/internal/store"
	"github.com/seanankenbruck/database-ai/internal/trace"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.NewDefaultLoader().MustLoad(ctx)
	gin.SetMode(cfg.Server.GinMode)

	logger := observability.NewLogger("main")

	// Initialize LLM client behind a circuit breaker so a Claude outage
	// fails fast instead of holding requests for the full timeout
	claudeClient, err := llm.NewClaudeClient(cfg.Claude.APIKey, cfg.Claude.Model)
	if err != nil {
		log.Fatal("Failed to initialize LLM client:", err)
	}
	llmClient := llm.NewCircuitBreakerClient(claudeClient, "claude", llm.DefaultCircuitBreakerConfig)

	// Initialize data stores. Either backend may be absent; the service
	// serves whatever connected and reports the rest through /ready.
	var relational store.Relational
	pg, err := store.NewPostgres(cfg.Postgres, cfg.Safety.QueryTimeout)
	if err != nil {
		log.Printf("Warning: PostgreSQL store unavailable: %v", err)
	} else {
		relational = pg
	}

	var document store.Document
	if cfg.Mongo.Configured() {
		mg, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Safety.MaxQueryRows)
		if err != nil {
			log.Printf("Warning: MongoDB store unavailable: %v", err)
		} else {
			document = mg
		}
	}

	if relational == nil && document == nil {
		log.Fatal("No data stores available; check POSTGRES_* and MONGODB_* settings")
	}

	dispatcher := store.NewDispatcher(relational, document, cfg.Safety.BlockedSQLKeywords)

	// Initialize query memory. The agent works without it, so a missing
	// pgvector setup degrades to memory-free prompts instead of failing.
	var mem *memory.Store
	if relational != nil {
		mem, err = memory.New(cfg.Postgres)
		if err != nil {
			log.Printf("Warning: query memory unavailable: %v", err)
			mem = nil
		}
	}

	tracer := trace.NewTracer(cfg.Langfuse, observability.NewLogger("trace"))

	// Initialize Redis client for sessions and the suggestion cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sessions := session.NewManager(rdb, cfg.Auth.SessionExpiry)

	authenticator := auth.New(cfg.Auth)

	// Register health checks
	healthChecker := observability.NewHealthChecker()
	if relational != nil {
		healthChecker.Register("postgresql", observability.StoreHealthCheck("postgresql", func(ctx context.Context) error {
			return dispatcher.Ping(ctx, store.KindPostgres)
		}))
	}
	if document != nil {
		healthChecker.Register("mongodb", observability.StoreHealthCheck("mongodb", func(ctx context.Context) error {
			return dispatcher.Ping(ctx, store.KindMongo)
		}))
	}
	healthChecker.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	// The breaker state stands in for a live probe; pinging the API on
	// every health check would spend tokens.
	healthChecker.Register("llm", observability.LLMHealthCheck(func(ctx context.Context) error {
		if state := llmClient.State(); state == gobreaker.StateOpen {
			return fmt.Errorf("circuit breaker is %s", state)
		}
		return nil
	}))
	if mem != nil {
		healthChecker.Register("query_memory", observability.StoreHealthCheck("query_memory", func(ctx context.Context) error {
			return mem.Ping(ctx)
		}))
	}

	serverCfg := server.Config{
		Dispatcher:       dispatcher,
		LLM:              llmClient,
		Tracer:           tracer,
		Auth:             authenticator,
		Sessions:         sessions,
		Health:           healthChecker,
		MaxRows:          cfg.Safety.MaxQueryRows,
		BlockedSQL:       cfg.Safety.BlockedSQLKeywords,
		AgentIdleTimeout: cfg.Server.AgentIdleTimeout,
	}
	// Assign the concrete store only when it exists; a nil *memory.Store
	// inside the interface would pass the agent's nil checks.
	if mem != nil {
		serverCfg.Memory = mem
	}

	srv := server.New(serverCfg)
	router := srv.SetupRoutes()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info(ctx, "Database agent starting", map[string]interface{}{
			"port":         cfg.Server.Port,
			"stores":       dispatcher.Available(ctx),
			"query_memory": mem != nil,
			"tracing":      tracer.Enabled(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info(context.Background(), "Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Server shutdown failed", err, nil)
	}
	if err := tracer.Close(); err != nil {
		logger.Error(shutdownCtx, "Trace exporter shutdown failed", err, nil)
	}
	if mem != nil {
		if err := mem.Close(); err != nil {
			logger.Error(shutdownCtx, "Query memory close failed", err, nil)
		}
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Store shutdown failed", err, nil)
	}
	if err := rdb.Close(); err != nil {
		logger.Error(shutdownCtx, "Redis close failed", err, nil)
	}

	logger.Info(context.Background(), "Shutdown complete", nil)
}
