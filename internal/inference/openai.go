package inference

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/models"
)

// OpenAIProvider supplies speech-space text embeddings and Whisper
// transcription through an OpenAI-compatible API.
type OpenAIProvider struct {
	client         *openai.Client
	embeddingModel string
	whisperModel   string
	textBatchSize  int
	logger         *zap.Logger
}

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // optional, for compatible gateways
	EmbeddingModel string
	WhisperModel   string
	TextBatchSize  int
}

// NewOpenAIProvider creates the provider. The underlying client is safe for
// concurrent use.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	batch := cfg.TextBatchSize
	if batch <= 0 {
		batch = 32
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientConfig),
		embeddingModel: cfg.EmbeddingModel,
		whisperModel:   cfg.WhisperModel,
		textBatchSize:  batch,
		logger:         logger,
	}
}

// EmbedText embeds a single text into the speech vector space.
func (p *OpenAIProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in batches, preserving input order.
func (p *OpenAIProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.textBatchSize {
		end := start + p.textBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(p.embeddingModel),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("embedding request: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			all = append(all, d.Embedding)
		}
	}
	p.logger.Debug("texts embedded", zap.Int("count", len(all)))
	return all, nil
}

// Transcribe runs Whisper over the audio file and returns time-coded
// segments with per-segment confidence (avg_logprob) and detected language.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.whisperModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	segments := make([]models.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:       text,
			StartTime:  seg.Start,
			EndTime:    seg.End,
			Confidence: seg.AvgLogprob,
			Language:   resp.Language,
		})
	}
	p.logger.Info("transcription complete",
		zap.String("audio_path", audioPath),
		zap.String("language", resp.Language),
		zap.Int("segments", len(segments)))
	return segments, nil
}
