package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/chunker"
	"github.com/kailas-cloud/ragindex/internal/config"
	dbValkey "github.com/kailas-cloud/ragindex/internal/db/valkey"
	"github.com/kailas-cloud/ragindex/internal/domain"
	logpkg "github.com/kailas-cloud/ragindex/internal/logger"
	"github.com/kailas-cloud/ragindex/internal/metrics"
	"github.com/kailas-cloud/ragindex/internal/repository/embcache"
	vectorrepo "github.com/kailas-cloud/ragindex/internal/repository/vector"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
	chiTransport "github.com/kailas-cloud/ragindex/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/ragindex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/ragindex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragindex/internal/usecase/health"
	ingestionuc "github.com/kailas-cloud/ragindex/internal/usecase/ingestion"
	retrievaluc "github.com/kailas-cloud/ragindex/internal/usecase/retrieval"
	"github.com/kailas-cloud/ragindex/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragindex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbValkey.NewStore(dbValkey.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	metrics.Register()

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", cfg.Embedding.Cache.Enabled),
	)

	vectors, err := vectorrepo.New(store, vectorrepo.Config{
		KeyPrefix:       cfg.Storage.KeyPrefix,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Index.HNSWM,
		HNSWEFConstruct: cfg.Index.HNSWEFConstruct,
		ReadyTimeout:    time.Duration(cfg.Index.ReadyTimeoutSec) * time.Second,
		Retry:           cfg.Database.Retry.Policy(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create vector repository", zap.Error(err))
	}
	// The index is also created lazily on first use; a failure here is not fatal.
	if err := vectors.EnsureIndexReady(ctx); err != nil {
		logger.Warn("Chunk index not ready at startup", zap.String("index", vectors.IndexName()), zap.Error(err))
	}

	split, err := chunker.New(
		chunker.WithChunkSize(cfg.Chunking.ChunkSize),
		chunker.WithOverlap(cfg.Chunking.Overlap),
	)
	if err != nil {
		logger.Fatal("Invalid chunking config", zap.Error(err))
	}

	bus := telemetry.New(telemetry.Config{
		SessionTTL:        time.Duration(cfg.Telemetry.SessionTTLSec) * time.Second,
		SweepInterval:     time.Duration(cfg.Telemetry.SweepIntervalSec) * time.Second,
		KeepAliveInterval: time.Duration(cfg.Telemetry.KeepAliveSec) * time.Second,
		BufferSize:        cfg.Telemetry.BufferSize,
	}, logger.Named("telemetry"))
	defer bus.Close()

	ingestSvc := ingestionuc.New(split, embedder, vectors, logger.Named("ingestion"))
	retrieveSvc := retrievaluc.New(embedder, vectors, bus, retrievaluc.Config{
		MaxDocs:       cfg.Retrieval.MaxDocs,
		Threshold:     *cfg.Retrieval.Threshold,
		SnippetLength: cfg.Retrieval.SnippetLength,
		MaxVariants:   cfg.Retrieval.MaxVariants,
	}, logger.Named("retrieval"))
	healthSvc := healthuc.New(store, vectors, embedder)

	server := chiTransport.NewServer(ingestSvc, retrieveSvc, bus, healthSvc, chiTransport.Config{
		APIKeys:      cfg.Auth.APIKeys,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		StreamBuffer: cfg.Telemetry.BufferSize,
		IndexTimeout: time.Duration(cfg.HTTP.IndexTimeoutSec) * time.Second,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	// SSE streams only end when their clients go away
	bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the chain: OpenAI-compatible provider -> cache -> client
// (truncation, sub-batching, retry, validation).
func buildEmbedder(cfg config.Config, store *dbValkey.Store, logger *zap.Logger) *embeddinguc.Client {
	ec := cfg.Embedding

	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: providerDimensions(ec),
		Provider:   ec.Provider,
		Timeout:    time.Duration(ec.TimeoutSec) * time.Second,
		Logger:     logger.Named("openai"),
	})

	var provider domain.Embedder = base
	if ec.Cache.Enabled {
		provider = embcache.New(base, store, embcache.Options{
			KeyPrefix:  cfg.Storage.KeyPrefix + "emb_cache:",
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			TTL:        time.Duration(ec.Cache.TTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger.Named("embcache"))
	}

	return embeddinguc.NewClient(provider, embeddinguc.Config{
		Provider:       ec.Provider,
		Model:          ec.Model,
		Dimensions:     ec.Dimensions,
		MaxInputTokens: ec.MaxInputTokens,
		BatchSize:      ec.BatchSize,
		BatchDelay:     time.Duration(ec.BatchDelayMs) * time.Millisecond,
		Retry:          ec.Retry.Policy(),
	}, logger.Named("embedding"))
}

// providerDimensions asks OpenAI for reduced dimensions; self-hosted servers
// reject the parameter and always return the model's native size.
func providerDimensions(ec config.EmbeddingConfig) int {
	if ec.Provider == "openai" {
		return ec.Dimensions
	}
	return 0
}
