package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/internal/vectorstore"
)

type fakeEncoder struct {
	vector []float32
	calls  int
}

func (f *fakeEncoder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

type fakeIndex struct {
	vectorstore.Index

	visual []vectorstore.Hit
	speech []vectorstore.Hit

	gotLimit     int
	gotThreshold float64
}

func (f *fakeIndex) QueryVisual(_ context.Context, _ []float32, limit int, threshold float64) ([]vectorstore.Hit, error) {
	f.gotLimit = limit
	f.gotThreshold = threshold
	return f.visual, nil
}

func (f *fakeIndex) QuerySpeech(_ context.Context, _ []float32, limit int, threshold float64) ([]vectorstore.Hit, error) {
	f.gotLimit = limit
	f.gotThreshold = threshold
	return f.speech, nil
}

type fakeLookup struct {
	videos map[uuid.UUID]*models.Video
}

func (f *fakeLookup) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Video, error) {
	out := map[uuid.UUID]*models.Video{}
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

var testSearchCfg = config.SearchConfig{
	DefaultLimit:     10,
	DefaultThreshold: 0.1,
	ScoreMidpoint:    0.18,
	ScoreSteepness:   12.0,
}

func TestSearchHybridMergesAndRanks(t *testing.T) {
	videoA := uuid.New()
	videoB := uuid.New()

	index := &fakeIndex{
		visual: []vectorstore.Hit{
			{VideoID: videoA.String(), Score: 0.30, Timestamp: 12.5, FramePath: "frames/a.jpg"},
			{VideoID: videoB.String(), Score: 0.15, Timestamp: 3.0, FramePath: "frames/b.jpg"},
		},
		speech: []vectorstore.Hit{
			{VideoID: videoA.String(), Score: 0.22, Timestamp: 10.0, EndTimestamp: 14.0, Text: "hello"},
		},
	}
	lookup := &fakeLookup{videos: map[uuid.UUID]*models.Video{
		videoA: {ID: videoA, Filename: "a.mp4"},
		videoB: {ID: videoB, Filename: "b.mp4"},
	}}
	visualEnc := &fakeEncoder{vector: []float32{1, 0}}
	speechEnc := &fakeEncoder{vector: []float32{0, 1}}

	engine := NewEngine(visualEnc, speechEnc, index, lookup, testSearchCfg, zap.NewNop())
	results, err := engine.Search(context.Background(), Request{
		Query: "hello", SearchType: TypeHybrid, Limit: 10, Threshold: 0.1,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Ranked by raw score descending across modalities.
	assert.Equal(t, []float64{0.30, 0.22, 0.15},
		[]float64{results[0].RawScore, results[1].RawScore, results[2].RawScore})
	assert.Equal(t, "visual", results[0].Modality)
	assert.Equal(t, "speech", results[1].Modality)
	assert.Equal(t, "a.mp4", results[0].VideoFilename)
	assert.Equal(t, "hello", results[1].Text)

	// Both encoders used, one per modality.
	assert.Equal(t, 1, visualEnc.calls)
	assert.Equal(t, 1, speechEnc.calls)

	// Display scores calibrated, raw preserved.
	for _, r := range results {
		assert.InDelta(t, RescaleScore(r.RawScore, 0.18, 12.0), r.Score, 1e-9)
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	videoA := uuid.New()
	index := &fakeIndex{
		visual: []vectorstore.Hit{
			{VideoID: videoA.String(), Score: 0.5},
			{VideoID: videoA.String(), Score: 0.4},
			{VideoID: videoA.String(), Score: 0.3},
		},
		speech: []vectorstore.Hit{
			{VideoID: videoA.String(), Score: 0.45},
		},
	}
	lookup := &fakeLookup{videos: map[uuid.UUID]*models.Video{
		videoA: {ID: videoA, Filename: "a.mp4"},
	}}
	engine := NewEngine(&fakeEncoder{}, &fakeEncoder{}, index, lookup, testSearchCfg, nil)

	results, err := engine.Search(context.Background(), Request{
		Query: "q", SearchType: TypeHybrid, Limit: 2, Threshold: 0,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0.5, results[0].RawScore)
	assert.Equal(t, 0.45, results[1].RawScore)
}

func TestSearchSingleModality(t *testing.T) {
	videoA := uuid.New()
	index := &fakeIndex{
		visual: []vectorstore.Hit{{VideoID: videoA.String(), Score: 0.5}},
		speech: []vectorstore.Hit{{VideoID: videoA.String(), Score: 0.9}},
	}
	lookup := &fakeLookup{videos: map[uuid.UUID]*models.Video{
		videoA: {ID: videoA, Filename: "a.mp4"},
	}}
	visualEnc := &fakeEncoder{}
	speechEnc := &fakeEncoder{}
	engine := NewEngine(visualEnc, speechEnc, index, lookup, testSearchCfg, nil)

	results, err := engine.Search(context.Background(), Request{
		Query: "q", SearchType: TypeVisual, Limit: 10, Threshold: 0.1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "visual", results[0].Modality)
	assert.Equal(t, 1, visualEnc.calls)
	assert.Equal(t, 0, speechEnc.calls)
}

func TestSearchDropsDeletedVideos(t *testing.T) {
	kept := uuid.New()
	deleted := uuid.New()
	index := &fakeIndex{
		visual: []vectorstore.Hit{
			{VideoID: deleted.String(), Score: 0.9},
			{VideoID: kept.String(), Score: 0.5},
		},
	}
	lookup := &fakeLookup{videos: map[uuid.UUID]*models.Video{
		kept: {ID: kept, Filename: "kept.mp4"},
	}}
	engine := NewEngine(&fakeEncoder{}, &fakeEncoder{}, index, lookup, testSearchCfg, nil)

	results, err := engine.Search(context.Background(), Request{
		Query: "q", SearchType: TypeVisual, Limit: 10, Threshold: 0,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, kept.String(), results[0].VideoID)
}

func TestSearchPassesThresholdThrough(t *testing.T) {
	index := &fakeIndex{}
	engine := NewEngine(&fakeEncoder{}, &fakeEncoder{}, index, &fakeLookup{}, testSearchCfg, nil)

	_, err := engine.Search(context.Background(), Request{
		Query: "q", SearchType: TypeVisual, Limit: 7, Threshold: 0.42,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, index.gotLimit)
	assert.Equal(t, 0.42, index.gotThreshold)
}
