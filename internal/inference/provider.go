// Package inference holds the embedding and transcription providers. Models
// are expensive to load, so providers are constructed once at startup and
// shared read-only across concurrent pipeline runs and search requests.
package inference

import (
	"context"

	"github.com/clipsearch/backend/internal/models"
)

// VisualEncoder embeds images and text into the shared visual vector space.
// Image and text vectors are comparable (cross-modal encoder); this is a
// different text encoder from the speech one.
type VisualEncoder interface {
	EmbedImages(ctx context.Context, imagePaths []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// SpeechEncoder embeds text into the speech vector space used for
// transcript segments.
type SpeechEncoder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Transcriber converts an audio file into time-coded speech segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}
