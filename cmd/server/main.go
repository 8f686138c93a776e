// Package main runs the video search HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/inference"
	"github.com/clipsearch/backend/internal/media"
	"github.com/clipsearch/backend/internal/middleware"
	"github.com/clipsearch/backend/internal/search"
	"github.com/clipsearch/backend/internal/transcripts"
	"github.com/clipsearch/backend/internal/vectorstore"
	"github.com/clipsearch/backend/internal/videos"
	"github.com/clipsearch/backend/pkg/database"
	"github.com/clipsearch/backend/pkg/queue"
	"github.com/clipsearch/backend/pkg/redis"
	"github.com/clipsearch/backend/pkg/response"
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

	videoHandler := videos.NewHandler(videoRepo, transcriptRepo, store, extractor, index, jobQueue, logger)
	searchEngine := search.NewEngine(siglip, openaiProvider, index, videoRepo, cfg.Search, logger)
	searchHandler := search.NewHandler(searchEngine, cfg.Search, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.MaxMultipartMemory = cfg.Server.MaxUploadSizeBytes

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Extracted keyframes and thumbnails served directly from disk.
	router.Static("/frames", store.FramesRoot())

	api := router.Group("/api")
	{
		videoHandler.RegisterRoutes(api)
		searchHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
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
