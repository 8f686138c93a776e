// Package vectorstore persists and queries visual and speech embeddings in
// an approximate-nearest-neighbor index. Two backends are provided: Milvus
// (default) and pgvector, selected by configuration.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clipsearch/backend/internal/models"
)

// Collection names, one per modality.
const (
	VisualCollection = "visual_embeddings"
	SpeechCollection = "speech_embeddings"
)

// Modality tags used in point IDs and search results.
const (
	ModalityVisual = "visual"
	ModalitySpeech = "speech"
)

// PointID derives the storage key for a point from stable inputs, so
// reprocessing a video overwrites its points instead of duplicating them.
// This is RFC 4122 uuid5 over "{video_id}_{modality}_{index}" in the DNS
// namespace and must stay bit-compatible with existing indexes.
func PointID(videoID uuid.UUID, index int, modality string) string {
	name := fmt.Sprintf("%s_%s_%d", videoID, modality, index)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// Hit is one similarity-query candidate with its payload fields.
type Hit struct {
	VideoID      string
	Score        float64
	Timestamp    float64
	EndTimestamp float64 // speech only
	FramePath    string  // visual only
	Text         string  // speech only
}

// Index is the ANN store shared by the pipeline and the retrieval engine.
// Query results carry raw cosine similarity scores filtered by the given
// threshold; calibration happens in the search layer.
type Index interface {
	// Init creates missing collections and prepares them for search.
	Init(ctx context.Context) error
	UpsertVisual(ctx context.Context, videoID uuid.UUID, keyframes []models.Keyframe, vectors [][]float32) error
	UpsertSpeech(ctx context.Context, videoID uuid.UUID, segments []models.Segment, vectors [][]float32) error
	QueryVisual(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error)
	QuerySpeech(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error)
	// DeleteVideo removes all points for a video from both collections.
	// There is no foreign key backing this: the deletion path must call it
	// explicitly or points are orphaned.
	DeleteVideo(ctx context.Context, videoID uuid.UUID) error
	Close() error
}
