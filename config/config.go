package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Vector    VectorConfig
	Inference InferenceConfig
	Pipeline  PipelineConfig
	Search    SearchConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	MaxUploadSizeBytes int64
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/clipsearch?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig holds on-disk artifact locations.
type StorageConfig struct {
	Root string // parent of uploads/, frames/, audio/
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Backend            string // "milvus" or "pgvector"
	MilvusAddr         string
	MilvusUsername     string
	MilvusPassword     string
	MilvusAPIKey       string // for Zilliz Cloud
	VisualEmbeddingDim int
	SpeechEmbeddingDim int
}

// InferenceConfig holds model provider settings.
type InferenceConfig struct {
	// SigLIP model server for images and visual-space text queries.
	SiglipBaseURL string
	// OpenAI-compatible API for speech text embeddings and Whisper transcription.
	OpenAIAPIKey     string
	OpenAIBaseURL    string // optional, for compatible gateways
	EmbeddingModel   string
	WhisperModel     string
	RequestTimeout   time.Duration
	ImageBatchSize   int
	TextBatchSize    int
}

// PipelineConfig holds processing pipeline settings.
type PipelineConfig struct {
	WorkerCount       int
	SceneThreshold    float64 // content-difference sensitivity, 0-100 scale
	AudioSampleRate   int
	ExtractTimeout    time.Duration
	TranscribeTimeout time.Duration
	EmbedTimeout      time.Duration
}

// SearchConfig holds retrieval defaults and score calibration constants.
type SearchConfig struct {
	DefaultLimit     int
	DefaultThreshold float64
	ScoreMidpoint    float64
	ScoreSteepness   float64
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			MaxUploadSizeBytes: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 2048)) << 20,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "clipsearch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Root: getEnv("STORAGE_ROOT", "./data"),
		},
		Vector: VectorConfig{
			Backend:            getEnv("VECTOR_BACKEND", "milvus"),
			MilvusAddr:         getEnv("MILVUS_ADDR", "localhost:19530"),
			MilvusUsername:     getEnv("MILVUS_USERNAME", ""),
			MilvusPassword:     getEnv("MILVUS_PASSWORD", ""),
			MilvusAPIKey:       getEnv("MILVUS_API_KEY", ""),
			VisualEmbeddingDim: getEnvInt("VISUAL_EMBEDDING_DIM", 768),
			SpeechEmbeddingDim: getEnvInt("SPEECH_EMBEDDING_DIM", 1536),
		},
		Inference: InferenceConfig{
			SiglipBaseURL:  getEnv("SIGLIP_BASE_URL", "http://localhost:8100"),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			WhisperModel:   getEnv("WHISPER_MODEL", "whisper-1"),
			RequestTimeout: getEnvDuration("INFERENCE_TIMEOUT_SEC", 120),
			ImageBatchSize: getEnvInt("IMAGE_BATCH_SIZE", 16),
			TextBatchSize:  getEnvInt("TEXT_BATCH_SIZE", 32),
		},
		Pipeline: PipelineConfig{
			WorkerCount:       getEnvInt("PIPELINE_WORKERS", 2),
			SceneThreshold:    getEnvFloat("SCENE_THRESHOLD", 27.0),
			AudioSampleRate:   getEnvInt("AUDIO_SAMPLE_RATE", 16000),
			ExtractTimeout:    getEnvDuration("EXTRACT_TIMEOUT_SEC", 600),
			TranscribeTimeout: getEnvDuration("TRANSCRIBE_TIMEOUT_SEC", 1800),
			EmbedTimeout:      getEnvDuration("EMBED_TIMEOUT_SEC", 900),
		},
		Search: SearchConfig{
			DefaultLimit:     getEnvInt("SEARCH_DEFAULT_LIMIT", 10),
			DefaultThreshold: getEnvFloat("SEARCH_DEFAULT_THRESHOLD", 0.1),
			ScoreMidpoint:    getEnvFloat("SCORE_MIDPOINT", 0.18),
			ScoreSteepness:   getEnvFloat("SCORE_STEEPNESS", 12.0),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
