package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	httpapi "returns-credit-backend/internal/api/http"
	"returns-credit-backend/internal/cache"
	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/repository"
	"returns-credit-backend/internal/repository/memory"
	"returns-credit-backend/internal/repository/postgres"
	"returns-credit-backend/internal/security"
	"returns-credit-backend/internal/service"
	"returns-credit-backend/internal/shipping"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Returns Credit Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format, "env", cfg.Server.Env)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())

	// Initialize store
	var store repository.Provider
	switch cfg.Database.Driver {
	case "memory":
		db := memory.New()
		demo := memory.SeedDemo(db)
		logger.Warn("Using in-memory store; data is lost on restart",
			"demo_customer", demo.CustomerAuthID, "demo_order", demo.OrderID, "demo_guest_order", demo.GuestOrderID)
		store = db
	default:
		logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
		db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		// Test database connection
		if err := db.Ping(); err != nil {
			logger.Error("Failed to ping database", "error", err)
			log.Fatalf("Failed to ping database: %v", err)
		}
		logger.Info("Database connection established")
		store = postgres.NewProvider(db, cfg.Database.RLSRole)
	}

	// Initialize webhook de-duplication
	dedupTTL := time.Duration(cfg.Redis.DedupTTLMinutes) * time.Minute
	var dedup cache.Deduper
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to redis", "error", err, "addr", cfg.Redis.Addr)
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		logger.Info("Redis connection established", "addr", cfg.Redis.Addr)
		dedup = cache.NewRedisDeduper(client, dedupTTL)
	} else {
		logger.Warn("Redis not configured, webhook de-duplication is per process")
		dedup = cache.NewLocalDeduper(dedupTTL)
	}

	// Initialize carrier client
	var carrier service.PickupScheduler
	if cfg.Shiprocket.Email != "" && cfg.Shiprocket.Password != "" {
		carrier = shipping.NewClient(cfg.Shiprocket)
		logger.Info("Shiprocket client configured", "base_url", cfg.Shiprocket.BaseURL)
	} else {
		carrier = shipping.OfflineClient{}
	}

	// Initialize Services
	notifier := service.NewNotifier(cfg.SendGrid)
	services := httpapi.Services{
		Returns:  service.NewReturnService(store, carrier, notifier),
		Wallets:  service.NewWalletService(store, cfg.Wallet),
		Audit:    service.NewAuditService(store),
		Webhooks: service.NewPickupWebhookService(store, dedup, cfg.Webhook.ShiprocketSecret, cfg.Webhook.MaxPickupRetries),
	}

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.JWT.Secret)

	router := httpapi.NewServer(services, tokenManager, cfg.IsProduction()).Router()
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	// Graceful shutdown
	logger.Info("Shutting down HTTP server...", "signal", sig.String())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	logger.Info("HTTP server stopped. Goodbye!")
}
