package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"automl-forecast-engine/api"
	"automl-forecast-engine/automl"
	"automl-forecast-engine/config"
	"automl-forecast-engine/dataset"
	"automl-forecast-engine/forecast"
	"automl-forecast-engine/modelstore"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	log.Info("Starting AutoML Forecast Engine...")

	store, err := newModelStore(cfg.ModelStore)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize model store")
	}
	log.WithFields(logrus.Fields{
		"backend": cfg.ModelStore.Backend,
		"path":    cfg.ModelStore.DataPath,
	}).Info("Model store initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	orchestrator := automl.New(automl.Config{
		Workers:          cfg.AutoML.WorkerPoolSize,
		Seed:             cfg.AutoML.Seed,
		FoldSize:         cfg.AutoML.FoldSize,
		DefaultFolds:     cfg.AutoML.DefaultFolds,
		DefaultMaxTrials: cfg.AutoML.DefaultMaxTrials,
		DefaultTimeout:   cfg.AutoML.DefaultTimeout.Duration,
		MaxHorizon:       cfg.AutoML.MaxHorizon,
	}, store, log, automl.NewMetrics(registry))
	log.WithField("workers", cfg.AutoML.WorkerPoolSize).Info("AutoML orchestrator initialized")

	generator := forecast.New(store, newForecastCache(cfg.Cache, log), log, cfg.AutoML.MaxHorizon)

	apiServer := api.NewServer(dataset.NewRegistry(), orchestrator, store, generator, log, api.Options{
		JWTSecret:       cfg.Server.JWTSecret,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		MetricsRegistry: registry,
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.WithField("addr", cfg.Server.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	printStartupInfo(cfg)

	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	// Let in-flight training runs reach a terminal state before exit.
	orchestrator.Wait()
	log.Info("Server gracefully stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func newModelStore(cfg config.ModelStoreConfig) (modelstore.Store, error) {
	if cfg.Backend == "memory" {
		return modelstore.NewMemoryStore(), nil
	}
	return modelstore.NewFileStore(cfg.DataPath)
}

func newForecastCache(cfg config.CacheConfig, log *logrus.Logger) forecast.Cache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Warn("Redis unreachable, falling back to in-memory forecast cache")
			return forecast.NewMemoryCache(cfg.TTL.Duration)
		}
		return forecast.NewRedisCache(client, cfg.TTL.Duration)
	}
	return forecast.NewMemoryCache(cfg.TTL.Duration)
}

func printStartupInfo(cfg *config.Config) {
	port := cfg.Server.Port
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("🚀 AutoML Forecast Engine Started")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("📊 HTTP API: http://localhost%s\n", port)

	fmt.Println("\n🔧 Configuration:")
	fmt.Printf("  AutoML:      workers=%d, folds=%d, max horizon=%d\n",
		cfg.AutoML.WorkerPoolSize, cfg.AutoML.DefaultFolds, cfg.AutoML.MaxHorizon)
	fmt.Printf("  Model Store: %s (%s)\n", cfg.ModelStore.Backend, cfg.ModelStore.DataPath)
	fmt.Printf("  Cache:       %s\n", func() string {
		if !cfg.Cache.Enabled {
			return "disabled"
		}
		return fmt.Sprintf("%s, ttl=%v", cfg.Cache.Backend, cfg.Cache.TTL.Duration)
	}())

	fmt.Println("\n📋 Available Endpoints:")
	fmt.Printf("  POST %s/api/v1/datasets                      - Upload a dataset\n", port)
	fmt.Printf("  POST %s/api/v1/training/automl               - Start an AutoML run\n", port)
	fmt.Printf("  GET  %s/api/v1/training/runs/{id}            - Poll run status\n", port)
	fmt.Printf("  GET  %s/api/v1/training/runs/{id}/comparison - Compare algorithms\n", port)
	fmt.Printf("  POST %s/api/v1/training/backtest             - Backtest a configuration\n", port)
	fmt.Printf("  GET  %s/api/v1/models                        - List trained models\n", port)
	fmt.Printf("  POST %s/api/v1/forecast                      - Generate a forecast\n", port)
	fmt.Printf("  POST %s/api/v1/forecast/batch                - Batch predictions\n", port)
	fmt.Printf("  GET  %s/health                               - Health check\n", port)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("✅ Ready to accept requests!")
	fmt.Println("💡 Press Ctrl+C to gracefully shutdown")
	fmt.Println(strings.Repeat("=", 60) + "\n")
}
