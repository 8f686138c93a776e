// Package search implements hybrid retrieval over the visual and speech
// vector spaces. The query is embedded separately per modality, both
// collections are queried with a raw score floor, and the merged candidates
// are ranked by raw similarity before display calibration.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/internal/vectorstore"
)

// Search types.
const (
	TypeVisual = "visual"
	TypeSpeech = "speech"
	TypeHybrid = "hybrid"
)

// TextEncoder embeds a query string into one vector space.
type TextEncoder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// VideoLookup resolves video IDs to rows for result enrichment.
type VideoLookup interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Video, error)
}

// Request is a validated search request.
type Request struct {
	Query      string
	SearchType string
	Limit      int
	Threshold  float64
}

// Result is one ranked match.
type Result struct {
	VideoID       string  `json:"video_id"`
	VideoFilename string  `json:"video_filename"`
	Modality      string  `json:"modality"`
	Score         float64 `json:"score"`
	RawScore      float64 `json:"raw_score"`
	Timestamp     float64 `json:"timestamp"`
	EndTimestamp  float64 `json:"end_timestamp,omitempty"`
	FramePath     string  `json:"frame_path,omitempty"`
	Text          string  `json:"text,omitempty"`
}

// Engine runs hybrid retrieval. The visual encoder must be the cross-modal
// one whose text vectors live in the keyframe space; the speech encoder is
// the transcript-segment one. They are not interchangeable.
type Engine struct {
	visual TextEncoder
	speech TextEncoder
	index  vectorstore.Index
	videos VideoLookup
	cfg    config.SearchConfig
	logger *zap.Logger
}

// NewEngine creates a search engine.
func NewEngine(visual, speech TextEncoder, index vectorstore.Index, videos VideoLookup, cfg config.SearchConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{visual: visual, speech: speech, index: index, videos: videos, cfg: cfg, logger: logger}
}

// Search executes the request and returns calibrated, enriched results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	var hits []candidate

	if req.SearchType == TypeVisual || req.SearchType == TypeHybrid {
		visualHits, err := e.queryModality(ctx, e.visual, e.index.QueryVisual, req, vectorstore.ModalityVisual)
		if err != nil {
			return nil, err
		}
		hits = append(hits, visualHits...)
	}
	if req.SearchType == TypeSpeech || req.SearchType == TypeHybrid {
		speechHits, err := e.queryModality(ctx, e.speech, e.index.QuerySpeech, req, vectorstore.ModalitySpeech)
		if err != nil {
			return nil, err
		}
		hits = append(hits, speechHits...)
	}

	// Rank the union by raw similarity and truncate. Visual and speech hits
	// for the same moment are both kept; the modalities answer different
	// questions about the same video.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].hit.Score > hits[j].hit.Score
	})
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	results, err := e.enrich(ctx, hits)
	if err != nil {
		return nil, err
	}
	e.logger.Info("search executed",
		zap.String("type", req.SearchType),
		zap.Int("results", len(results)))
	return results, nil
}

type candidate struct {
	hit      vectorstore.Hit
	modality string
}

type queryFunc func(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]vectorstore.Hit, error)

func (e *Engine) queryModality(ctx context.Context, enc TextEncoder, query queryFunc, req Request, modality string) ([]candidate, error) {
	vector, err := enc.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed %s query: %w", modality, err)
	}
	raw, err := query(ctx, vector, req.Limit, req.Threshold)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", modality, err)
	}
	out := make([]candidate, 0, len(raw))
	for _, h := range raw {
		out = append(out, candidate{hit: h, modality: modality})
	}
	return out, nil
}

// enrich resolves video filenames and applies score calibration. Hits whose
// video row has been deleted are dropped; their points are in-flight garbage
// until the deletion path catches up.
func (e *Engine) enrich(ctx context.Context, hits []candidate) ([]Result, error) {
	ids := make([]uuid.UUID, 0, len(hits))
	seen := make(map[uuid.UUID]bool, len(hits))
	for _, c := range hits {
		id, err := uuid.Parse(c.hit.VideoID)
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	videos, err := e.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve videos: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, c := range hits {
		id, err := uuid.Parse(c.hit.VideoID)
		if err != nil {
			continue
		}
		video, ok := videos[id]
		if !ok {
			continue
		}
		results = append(results, Result{
			VideoID:       c.hit.VideoID,
			VideoFilename: video.Filename,
			Modality:      c.modality,
			Score:         RescaleScore(c.hit.Score, e.cfg.ScoreMidpoint, e.cfg.ScoreSteepness),
			RawScore:      c.hit.Score,
			Timestamp:     c.hit.Timestamp,
			EndTimestamp:  c.hit.EndTimestamp,
			FramePath:     c.hit.FramePath,
			Text:          c.hit.Text,
		})
	}
	return results, nil
}
