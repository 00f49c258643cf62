package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freightflow/invoice-mapping-service/api"
	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/identify"
	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/ocr"
	"github.com/freightflow/invoice-mapping-service/internal/pipeline"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
	"github.com/freightflow/invoice-mapping-service/internal/routing"
	"github.com/freightflow/invoice-mapping-service/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	config, err := loadConfig(configPath())
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence is optional: without a database the service still
	// extracts and routes, it just cannot store runs or share the queue.
	pool, err := db.Connect(ctx, logger)
	if err != nil {
		if errors.Is(err, db.ErrNoDatabase) {
			logger.Warn("database not configured, running without persistence")
		} else {
			logger.Warn("database unavailable, running without persistence", "error", err)
		}
	} else {
		defer pool.Close()
	}

	archive, err := storage.New(ctx, config.Storage, logger)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			logger.Warn("object storage not configured, documents will not be archived")
		} else {
			logger.Warn("object storage unavailable, documents will not be archived", "error", err)
		}
		archive = nil
	}

	provider, err := ocr.NewProvider(config.OCR, logger)
	if err != nil {
		logger.Error("ocr provider setup failed", "error", err)
		os.Exit(1)
	}
	processor := ocr.NewProcessor(provider, config.OCR, logger)

	deps := pipeline.Deps{
		OCR: processor,
	}
	handlerDeps := api.Deps{}

	var queueStore queue.Store = queue.NewMemStore()
	if pool != nil {
		documents := db.NewDocumentStore(pool)
		forwarders := db.NewForwarderStore(pool)
		rules := db.NewRuleStore(pool)
		extractions := db.NewExtractionStore(pool)
		queueStore = db.NewQueueStore(pool)

		if err := forwarders.Seed(ctx, identify.DefaultForwarders()); err != nil {
			logger.Warn("forwarder seed failed", "error", err)
		}

		deps.Documents = documents
		deps.Forwarders = forwarders
		deps.Rules = rules
		deps.Extractions = extractions

		handlerDeps.Rules = rules
		handlerDeps.Forwarders = forwarders
		handlerDeps.Extractions = extractions
		handlerDeps.Documents = documents
		handlerDeps.Database = pool
		handlerDeps.Stats = db.NewStatsStore(pool)
	}
	if archive != nil {
		deps.Archive = archive
		handlerDeps.Archive = archive
	}

	manager := queue.NewManager(queueStore, logger)
	deps.Queue = manager

	proc, err := pipeline.New(config, deps, logger)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}
	handlerDeps.Pipeline = proc
	handlerDeps.Queue = manager

	// Pending items gain priority as they age; the sweeper keeps the
	// stored numbers in step.
	engine := routing.New(config.Routing)
	sweeper := queue.NewSweeper(queueStore, engine, logger)
	if config.Queue.SweepSchedule != "" {
		if err := sweeper.Start(config.Queue.SweepSchedule); err != nil {
			logger.Error("sweeper setup failed", "error", err)
			os.Exit(1)
		}
		defer sweeper.Stop()
	}

	handler := api.NewHandler(config, handlerDeps, logger)
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// Write timeout covers a full OCR run with retries.
		ReadTimeout:  1 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	logger.Info("server.starting",
		"addr", addr,
		"version", api.Version,
		"ocr_provider", config.OCR.Provider,
		"database", pool != nil,
		"storage", archive != nil,
		"sweep_schedule", config.Queue.SweepSchedule)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	logger.Info("server.stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server.stopped")
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

// loadConfig reads the YAML config over the built-in defaults, then lets
// environment variables have the last word. A missing file is fine; a
// malformed one is not.
func loadConfig(path string) (*models.Config, error) {
	config := models.DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("no config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("bad PORT %q: %w", port, err)
		}
		config.Port = p
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if provider := os.Getenv("OCR_PROVIDER"); provider != "" {
		config.OCR.Provider = provider
	}
	if endpoint := os.Getenv("DOCINTEL_ENDPOINT"); endpoint != "" {
		config.OCR.DocIntel.Endpoint = endpoint
	}
	if apiKey := os.Getenv("DOCINTEL_API_KEY"); apiKey != "" {
		config.OCR.DocIntel.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.OCR.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.OCR.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.OCR.OpenAI.BaseURL = baseURL
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		config.Storage.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		config.Storage.SecretKey = secretKey
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if useSSL := os.Getenv("MINIO_USE_SSL"); useSSL != "" {
		config.Storage.UseSSL = useSSL == "true" || useSSL == "1"
	}

	return config, nil
}
