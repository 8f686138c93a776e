package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/internal/vectorstore"
)

type fakeVideoStore struct {
	video *models.Video

	statuses      []models.VideoStatus
	frameCount    int
	keyframeCount int
	thumbnail     string
	completed     bool
	failedMsg     string

	countsErrs int // fail UpdateCounts this many times
}

func (f *fakeVideoStore) GetByID(_ context.Context, _ uuid.UUID) (*models.Video, error) {
	return f.video, nil
}

func (f *fakeVideoStore) UpdateStatus(_ context.Context, _ uuid.UUID, status models.VideoStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeVideoStore) UpdateCounts(_ context.Context, _ uuid.UUID, frameCount, keyframeCount int) error {
	if f.countsErrs > 0 {
		f.countsErrs--
		return errors.New("connection reset")
	}
	f.frameCount = frameCount
	f.keyframeCount = keyframeCount
	return nil
}

func (f *fakeVideoStore) UpdateThumbnail(_ context.Context, _ uuid.UUID, path string) error {
	f.thumbnail = path
	return nil
}

func (f *fakeVideoStore) MarkCompleted(_ context.Context, _ uuid.UUID) error {
	f.completed = true
	return nil
}

func (f *fakeVideoStore) MarkFailed(_ context.Context, _ uuid.UUID, msg string) error {
	f.failedMsg = msg
	return nil
}

type fakeTranscriptStore struct {
	replaced [][]models.Segment
}

func (f *fakeTranscriptStore) ReplaceForVideo(_ context.Context, _ uuid.UUID, segments []models.Segment) error {
	f.replaced = append(f.replaced, segments)
	return nil
}

type fakeExtractor struct {
	keyframes   []models.Keyframe
	keyframeErr error
	hasAudio    bool
	audioErr    error
	thumbnail   string
	frameCount  int
}

func (f *fakeExtractor) ExtractKeyframes(_ context.Context, _ string, _ uuid.UUID, _ float64) ([]models.Keyframe, error) {
	return f.keyframes, f.keyframeErr
}

func (f *fakeExtractor) ExtractThumbnail(_ context.Context, _ string, _ uuid.UUID, _ float64) string {
	return f.thumbnail
}

func (f *fakeExtractor) HasAudio(_ context.Context, _ string) (bool, error) {
	return f.hasAudio, nil
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _ string, _ uuid.UUID, _ int) (string, error) {
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return "/data/audio/test/audio.wav", nil
}

func (f *fakeExtractor) CountFrames(_ context.Context, _ string) int {
	return f.frameCount
}

type fakeVisualEncoder struct{}

func (fakeVisualEncoder) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeVisualEncoder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeSpeechEncoder struct{}

func (fakeSpeechEncoder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return []float32{0, 1}, nil
}

func (fakeSpeechEncoder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0, 1}
	}
	return out, nil
}

type fakeTranscriber struct {
	segments []models.Segment
	err      error
	calls    int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) ([]models.Segment, error) {
	f.calls++
	return f.segments, f.err
}

type fakeVectorIndex struct {
	vectorstore.Index

	visualIDs []string
	speechIDs []string
	upsertErr error
}

func (f *fakeVectorIndex) UpsertVisual(_ context.Context, videoID uuid.UUID, keyframes []models.Keyframe, vectors [][]float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if len(keyframes) != len(vectors) {
		return errors.New("count mismatch")
	}
	for i := range keyframes {
		f.visualIDs = append(f.visualIDs, vectorstore.PointID(videoID, i, vectorstore.ModalityVisual))
	}
	return nil
}

func (f *fakeVectorIndex) UpsertSpeech(_ context.Context, videoID uuid.UUID, segments []models.Segment, vectors [][]float32) error {
	if len(segments) != len(vectors) {
		return errors.New("count mismatch")
	}
	for i := range segments {
		f.speechIDs = append(f.speechIDs, vectorstore.PointID(videoID, i, vectorstore.ModalitySpeech))
	}
	return nil
}

var testPipelineCfg = config.PipelineConfig{
	SceneThreshold:    27.0,
	AudioSampleRate:   16000,
	ExtractTimeout:    time.Minute,
	TranscribeTimeout: time.Minute,
	EmbedTimeout:      time.Minute,
}

func claimedVideo() (*models.Video, uuid.UUID) {
	id := uuid.New()
	return &models.Video{ID: id, Filename: "test.mp4", Status: models.StatusExtractingFrames}, id
}

func testKeyframes() []models.Keyframe {
	return []models.Keyframe{
		{FramePath: "frames/f0.jpg", Timestamp: 0, SceneIndex: 0},
		{FramePath: "frames/f1.jpg", Timestamp: 5.2, SceneIndex: 1},
	}
}

func TestProcessFullRun(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video}
	transcriptStore := &fakeTranscriptStore{}
	extractor := &fakeExtractor{
		keyframes:  testKeyframes(),
		hasAudio:   true,
		thumbnail:  "frames/thumbnail.jpg",
		frameCount: 300,
	}
	transcriber := &fakeTranscriber{segments: []models.Segment{
		{Text: "hello world", StartTime: 0, EndTime: 2.5},
		{Text: "goodbye", StartTime: 2.5, EndTime: 4.0},
	}}
	index := &fakeVectorIndex{}

	p := New(store, transcriptStore, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, transcriber, index, testPipelineCfg, nil)
	require.NoError(t, p.Process(context.Background(), id, "/data/uploads/test.mp4"))

	// Every stage transition committed, in order.
	assert.Equal(t, []models.VideoStatus{
		models.StatusExtractingAudio,
		models.StatusTranscribing,
		models.StatusEmbedding,
	}, store.statuses)
	assert.True(t, store.completed)
	assert.Empty(t, store.failedMsg)

	assert.Equal(t, 300, store.frameCount)
	assert.Equal(t, 2, store.keyframeCount)
	assert.Equal(t, "frames/thumbnail.jpg", store.thumbnail)

	require.Len(t, transcriptStore.replaced, 1)
	assert.Len(t, transcriptStore.replaced[0], 2)

	assert.Len(t, index.visualIDs, 2)
	assert.Len(t, index.speechIDs, 2)
}

func TestProcessNoAudioSkipsTranscription(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video}
	transcriptStore := &fakeTranscriptStore{}
	extractor := &fakeExtractor{keyframes: testKeyframes(), hasAudio: false}
	transcriber := &fakeTranscriber{}
	index := &fakeVectorIndex{}

	p := New(store, transcriptStore, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, transcriber, index, testPipelineCfg, nil)
	require.NoError(t, p.Process(context.Background(), id, "/data/uploads/silent.mp4"))

	// extracting_audio goes straight to embedding.
	assert.Equal(t, []models.VideoStatus{
		models.StatusExtractingAudio,
		models.StatusEmbedding,
	}, store.statuses)
	assert.True(t, store.completed)
	assert.Zero(t, transcriber.calls)
	assert.Empty(t, transcriptStore.replaced)
	assert.Len(t, index.visualIDs, 2)
	assert.Empty(t, index.speechIDs)
}

func TestProcessFailureContained(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video}
	extractor := &fakeExtractor{keyframeErr: errors.New("ffmpeg exit 1")}
	index := &fakeVectorIndex{}

	p := New(store, &fakeTranscriptStore{}, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, &fakeTranscriber{}, index, testPipelineCfg, nil)
	err := p.Process(context.Background(), id, "/data/uploads/broken.mp4")
	require.Error(t, err)

	assert.False(t, store.completed)
	assert.Contains(t, store.failedMsg, "ffmpeg exit 1")
	assert.Equal(t, models.StatusFailed, video.Status)
}

func TestProcessTranscribeFailure(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video}
	extractor := &fakeExtractor{keyframes: testKeyframes(), hasAudio: true}
	transcriber := &fakeTranscriber{err: errors.New("api timeout")}
	index := &fakeVectorIndex{}

	p := New(store, &fakeTranscriptStore{}, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, transcriber, index, testPipelineCfg, nil)
	require.Error(t, p.Process(context.Background(), id, "/data/uploads/test.mp4"))

	assert.Contains(t, store.failedMsg, "api timeout")
	// Nothing was written to the index.
	assert.Empty(t, index.visualIDs)
	assert.Empty(t, index.speechIDs)
}

func TestProcessUnclaimedVideoRejected(t *testing.T) {
	id := uuid.New()
	store := &fakeVideoStore{video: &models.Video{ID: id, Status: models.StatusPending}}

	p := New(store, &fakeTranscriptStore{}, &fakeExtractor{}, fakeVisualEncoder{}, fakeSpeechEncoder{}, &fakeTranscriber{}, &fakeVectorIndex{}, testPipelineCfg, nil)
	err := p.Process(context.Background(), id, "/data/uploads/test.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not claimed")
	// Rejection is not a pipeline failure; the row is untouched.
	assert.Empty(t, store.failedMsg)
}

func TestProcessDeletedVideoDropped(t *testing.T) {
	store := &fakeVideoStore{video: nil}
	p := New(store, &fakeTranscriptStore{}, &fakeExtractor{}, fakeVisualEncoder{}, fakeSpeechEncoder{}, &fakeTranscriber{}, &fakeVectorIndex{}, testPipelineCfg, nil)
	assert.NoError(t, p.Process(context.Background(), uuid.New(), "/data/uploads/gone.mp4"))
}

func TestProcessRetriesPersistence(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video, countsErrs: 2}
	extractor := &fakeExtractor{keyframes: testKeyframes(), hasAudio: false, frameCount: 42}
	index := &fakeVectorIndex{}

	p := New(store, &fakeTranscriptStore{}, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, &fakeTranscriber{}, index, testPipelineCfg, nil)
	require.NoError(t, p.Process(context.Background(), id, "/data/uploads/test.mp4"))

	// Two transient write failures are absorbed by the retry.
	assert.True(t, store.completed)
	assert.Equal(t, 42, store.frameCount)
}

func TestProcessIdempotentPointIDs(t *testing.T) {
	video, id := claimedVideo()
	store := &fakeVideoStore{video: video}
	extractor := &fakeExtractor{keyframes: testKeyframes(), hasAudio: false}
	index := &fakeVectorIndex{}
	p := New(store, &fakeTranscriptStore{}, extractor, fakeVisualEncoder{}, fakeSpeechEncoder{}, &fakeTranscriber{}, index, testPipelineCfg, nil)

	require.NoError(t, p.Process(context.Background(), id, "/data/uploads/test.mp4"))
	firstRun := append([]string(nil), index.visualIDs...)

	// Reprocessing writes the same point IDs, so the index is overwritten,
	// not grown.
	video.Status = models.StatusExtractingFrames
	video.ProcessedAt = nil
	index.visualIDs = nil
	require.NoError(t, p.Process(context.Background(), id, "/data/uploads/test.mp4"))
	assert.Equal(t, firstRun, index.visualIDs)
}
