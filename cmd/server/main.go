package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/gateway"
	"github.com/persona-chat-go/internal/handlers"
	"github.com/persona-chat-go/internal/middleware"
	"github.com/persona-chat-go/internal/services/conversation"
	"github.com/persona-chat-go/internal/services/ocr"
	"github.com/persona-chat-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting persona chat server...")

	// Database and conversation store
	db, err := conversation.Open(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}

	metrics := middleware.NewMetrics()
	store := conversation.NewGormStore(db, metrics, log)

	// Gateway collaborators
	registry := gateway.NewRegistry(&cfg.Providers, log)
	compiler := gateway.NewPersonaCompiler()
	limiter := gateway.NewWindowLimiter(cfg.RateLimit.Gateway.Window, cfg.RateLimit.Gateway.MaxCalls, log)

	cache, err := gateway.NewResponseCache(&cfg.Cache, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize response cache")
	}

	stats := gateway.NewUsageStats()
	client := gateway.NewProviderClient(cfg.Providers.Timeout, log)

	gw := gateway.New(registry, compiler, limiter, cache, stats, client, metrics, log,
		cfg.Providers.Temperature, cfg.Providers.MaxTokens)

	interpreter := ocr.NewInterpreter(gw, metrics, log)
	httpLimiter := middleware.NewCallerRateLimiter(&cfg.RateLimit.HTTP, metrics, log)

	// Metrics server
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// API server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := handlers.NewAPI(cfg, gw, store, interpreter, httpLimiter, log)
	api.Register(engine)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}

	log.Info("Server stopped")
}
