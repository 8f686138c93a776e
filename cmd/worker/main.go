// Package main runs the video processing worker pool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/inference"
	"github.com/clipsearch/backend/internal/media"
	"github.com/clipsearch/backend/internal/pipeline"
	"github.com/clipsearch/backend/internal/transcripts"
	"github.com/clipsearch/backend/internal/vectorstore"
	"github.com/clipsearch/backend/internal/videos"
	"github.com/clipsearch/backend/internal/worker"
	"github.com/clipsearch/backend/pkg/database"
	"github.com/clipsearch/backend/pkg/queue"
	"github.com/clipsearch/backend/pkg/redis"
	"github.com/clipsearch/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store, err := storage.New(cfg.Storage.Root, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	extractor, err := media.NewExtractor(store, logger)
	if err != nil {
		logger.Fatal("ffmpeg", zap.Error(err))
	}

	siglip := inference.NewSiglipClient(cfg.Inference.SiglipBaseURL, cfg.Inference.ImageBatchSize, cfg.Inference.RequestTimeout, logger)
	openaiProvider := inference.NewOpenAIProvider(inference.OpenAIConfig{
		APIKey:         cfg.Inference.OpenAIAPIKey,
		BaseURL:        cfg.Inference.OpenAIBaseURL,
		EmbeddingModel: cfg.Inference.EmbeddingModel,
		WhisperModel:   cfg.Inference.WhisperModel,
		TextBatchSize:  cfg.Inference.TextBatchSize,
	}, logger)

	index, err := newVectorIndex(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal("vector index", zap.Error(err))
	}
	defer index.Close()
	if err := index.Init(ctx); err != nil {
		logger.Fatal("vector index init", zap.Error(err))
	}

	videoRepo := videos.NewRepository(pool)
	transcriptRepo := transcripts.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	pipe := pipeline.New(videoRepo, transcriptRepo, extractor, siglip, openaiProvider, openaiProvider, index, cfg.Pipeline, logger)
	workers := worker.New(jobQueue, videoRepo, pipe, cfg.Pipeline.WorkerCount, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutdown requested")
		cancel()
	}()

	logger.Info("worker pool started", zap.Int("workers", cfg.Pipeline.WorkerCount))
	workers.Run(workerCtx)
	logger.Info("worker stopped")
}

func newVectorIndex(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.Vector.Backend {
	case "pgvector":
		return vectorstore.NewPgVector(pool, cfg.Vector.VisualEmbeddingDim, cfg.Vector.SpeechEmbeddingDim, logger), nil
	default:
		return vectorstore.NewMilvus(ctx, vectorstore.MilvusConfig{
			Addr:     cfg.Vector.MilvusAddr,
			Username: cfg.Vector.MilvusUsername,
			Password: cfg.Vector.MilvusPassword,
			APIKey:   cfg.Vector.MilvusAPIKey,
		}, cfg.Vector.VisualEmbeddingDim, cfg.Vector.SpeechEmbeddingDim, logger)
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
