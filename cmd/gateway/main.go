package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/breaker"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/handlers"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/keypool"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/monitor"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/providers"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/quota"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/ratelimit"
	"github.com/SmartGenzAI1/Aii-sub000/internal/gateway/router"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/config"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/database"
	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting GenZ AI gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres is optional; without it request logs and provider status
	// history are simply not persisted.
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("✓ Connected to PostgreSQL")
	} else {
		log.Println("! DATABASE_URL not set, running without request logs")
	}

	// Redis is optional too; without it rate and quota state live in
	// process memory, which is fine for a single instance.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✓ Connected to Redis")
	} else {
		log.Println("! REDIS_URL not set, using in-memory rate and quota state")
	}

	var limiter ratelimit.Store
	var quotaTracker quota.Tracker
	if redisClient != nil {
		limiter = ratelimit.NewRedisStore(redisClient, cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		quotaTracker = quota.NewRedisTracker(redisClient, cfg.UserDailyQuota)
	} else {
		memLimiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		defer memLimiter.Stop()
		limiter = memLimiter
		quotaTracker = quota.NewMemoryTracker(cfg.UserDailyQuota)
	}

	// API key rotation and circuit breakers
	keysByProvider := cfg.APIKeysByProvider()
	keys := keypool.New(cfg.KeyCooldown, keysByProvider)
	circuits := breaker.New(cfg.CircuitFailureThreshold, cfg.CircuitOpenTimeout)

	totalKeys := 0
	for _, list := range keysByProvider {
		totalKeys += len(list)
	}
	log.Printf("✓ Loaded %d API keys across %d providers", totalKeys, len(keysByProvider))

	// Only build clients for providers that have usable keys
	clients := make(map[string]providers.Client)
	var clientList []providers.Client
	for _, name := range []string{"groq", "openrouter", "huggingface"} {
		if len(keysByProvider[name]) == 0 {
			continue
		}
		var client providers.Client
		switch name {
		case "groq":
			client = providers.NewGroqProvider(cfg.RequestTimeout)
		case "openrouter":
			client = providers.NewOpenRouterProvider(cfg.AppURL, cfg.RequestTimeout)
		case "huggingface":
			client = providers.NewHuggingFaceProvider(cfg.RequestTimeout)
		}
		clients[name] = client
		clientList = append(clientList, client)
	}
	log.Printf("✓ Initialized %d AI providers", len(clients))

	// Background health monitor. Interval 0 disables probing in this
	// instance; /api/v1/status then serves the snapshot persisted by an
	// instance that does probe.
	var mon *monitor.Monitor
	if cfg.HealthCheckInterval > 0 {
		mon = monitor.New(clientList, cfg.HealthCheckInterval, db)
		mon.Start()
		defer mon.Stop()
		log.Println("✓ Started provider health monitor")
	} else {
		log.Println("! HEALTH_CHECK_INTERVAL_SECONDS=0, provider health probing disabled")
	}

	// Request router
	rt := router.New(router.Deps{
		Plan:       cfg.RoutePlan,
		Clients:    clients,
		Limiter:    limiter,
		Quota:      quotaTracker,
		Keys:       keys,
		Breaker:    circuits,
		Monitor:    mon,
		RateWindow: cfg.RateLimitWindow,
	})

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(rt, db)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(5 * time.Minute))
	r.Use(handlers.CORSMiddleware)
	r.Use(handlers.RequestIDMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", chatHandler.HandleChat)
		r.Get("/quota", chatHandler.HandleQuota)
		r.Get("/status", chatHandler.HandleStatus)
	})

	// HTTP server. The write timeout is generous because chat responses
	// stream over SSE.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST /api/v1/chat   - Chat (SSE stream)")
		log.Println("   GET  /api/v1/quota  - Daily quota for a user")
		log.Println("   GET  /api/v1/status - Provider health")
		log.Println("   GET  /health        - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
