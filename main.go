package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/config"
	"chirpfeed/internal/handlers"
	"chirpfeed/internal/logging"
	"chirpfeed/internal/middleware"
	"chirpfeed/internal/ranking"
	"chirpfeed/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

const initRetryDelay = 30 * time.Second

type ServiceBundle struct {
	Store       storage.Store
	Engine      *ranking.Engine
	FeedHandler *handlers.FeedHandler
	Redis       *goredis.Client
	Config      *config.Config
}

func loadConfig() *config.Config {
	// Load and validate configuration with retry
	for {
		cfg, err := config.Load()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			slog.Error("Invalid configuration, retrying in 30s", "error", err)
			time.Sleep(initRetryDelay)
			continue
		}
		return cfg
	}
}

func initializeServices(cfg *config.Config) *ServiceBundle {
	slog.Info("Initializing services...")

	// Initialize content store with retry
	var pg *storage.PostgresStore
	for {
		var err error
		pg, err = storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to initialize content store, retrying in 30s", "error", err)
			time.Sleep(initRetryDelay)
			continue
		}
		break
	}

	// Guard the store with a circuit breaker
	breakerCfg := storage.DefaultBreakerConfig()
	breakerCfg.FailureRatio = cfg.Breaker.FailureRatio
	breakerCfg.Timeout = cfg.Breaker.Timeout
	store := storage.NewBreakerStore(pg, breakerCfg)

	// Initialize ranking engine from feed configuration
	engine := ranking.NewEngine(store, ranking.Options{
		Weights: ranking.Weights{
			Content:             cfg.Feed.WeightContent,
			Author:              cfg.Feed.WeightAuthor,
			Following:           cfg.Feed.WeightFollowing,
			Recency:             cfg.Feed.WeightRecency,
			Reaction:            cfg.Feed.WeightReaction,
			ReactionMatchFactor: ranking.DefaultWeights().ReactionMatchFactor,
		},
		CandidatePoolSize: cfg.Feed.CandidatePool,
		DefaultPageSize:   cfg.Feed.DefaultPageSize,
		MaxPageSize:       cfg.Feed.MaxPageSize,
		Timeout:           cfg.Feed.RankingTimeout,
	})

	bundle := &ServiceBundle{Store: store, Engine: engine, Config: cfg}

	// The cache is optional; the feed is served uncached when Redis is down.
	var feedCache handlers.FeedCache
	if cfg.CacheEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			slog.Warn("Feed cache disabled", "error", err)
		} else {
			bundle.Redis = client
			feedCache = cache.NewRedisFeedCache(client, cfg.Feed.CacheTTL)
		}
	}

	bundle.FeedHandler = handlers.NewFeedHandler(engine, feedCache)

	slog.Info("All services initialized successfully",
		slog.Bool("feed_cache", feedCache != nil),
		slog.Duration("ranking_timeout", cfg.Feed.RankingTimeout))

	return bundle
}

func newRouter(services *ServiceBundle, limiter *middleware.ClientLimiter) *mux.Router {
	router := mux.NewRouter()

	// Add middleware
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	// API routes with rate limiting
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(limiter.Middleware)
	apiRouter.HandleFunc("/feed", services.FeedHandler.HandleFeed).Methods("GET")

	// System routes
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Readiness pings the store and, when configured, Redis
	deps := []handlers.Pinger{services.Store}
	if services.Redis != nil {
		client := services.Redis
		deps = append(deps, handlers.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	router.HandleFunc("/ready", handlers.ReadinessHandler(deps...)).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

func main() {
	// Bootstrap logger until configuration is known.
	logging.SetupLogger("INFO", "text")

	// Setup structured logging
	cfg := loadConfig()
	logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting chirpfeed", slog.String("version", "1.0.0"), slog.String("environment", cfg.Environment))

	// Initialize all services with retry logic
	services := initializeServices(cfg)

	// Start rate limiter cleanup
	limiter := middleware.FeedRateLimiter()
	done := make(chan struct{})
	go limiter.CleanupLoop(time.Minute, 10*time.Minute, done)

	// Setup HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(services, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")
	close(done)

	// Shutdown server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Close connections
	if services.Redis != nil {
		if err := services.Redis.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
	if err := services.Store.Close(); err != nil {
		slog.Error("Failed to close content store", "error", err)
	}

	slog.Info("Server exited gracefully")
}
