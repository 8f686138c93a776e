// Package pipeline runs the multi-stage video indexing flow: keyframe
// extraction, audio extraction, transcription and embedding. Each stage
// commits its status transition before the next stage starts, so observers
// always see the current stage. A failed run parks the video in the failed
// state with the captured error; it is never requeued automatically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/internal/inference"
	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/internal/vectorstore"
)

const (
	thumbnailPercent = 0.1

	persistAttempts = 3
	persistBackoff  = 500 * time.Millisecond
)

// VideoStore is the video persistence surface the pipeline needs.
type VideoStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error
	UpdateCounts(ctx context.Context, id uuid.UUID, frameCount, keyframeCount int) error
	UpdateThumbnail(ctx context.Context, id uuid.UUID, path string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error
}

// TranscriptStore is the transcript persistence surface the pipeline needs.
type TranscriptStore interface {
	ReplaceForVideo(ctx context.Context, videoID uuid.UUID, segments []models.Segment) error
}

// MediaExtractor is the ffmpeg surface the pipeline needs.
type MediaExtractor interface {
	ExtractKeyframes(ctx context.Context, videoPath string, videoID uuid.UUID, threshold float64) ([]models.Keyframe, error)
	ExtractThumbnail(ctx context.Context, videoPath string, videoID uuid.UUID, timePercent float64) string
	HasAudio(ctx context.Context, videoPath string) (bool, error)
	ExtractAudio(ctx context.Context, videoPath string, videoID uuid.UUID, sampleRate int) (string, error)
	CountFrames(ctx context.Context, videoPath string) int
}

// Pipeline orchestrates the indexing stages for one video at a time. It is
// safe for concurrent use; each Process call owns its video via the queue
// claim that precedes it.
type Pipeline struct {
	videos      VideoStore
	transcripts TranscriptStore
	media       MediaExtractor
	visual      inference.VisualEncoder
	speech      inference.SpeechEncoder
	transcriber inference.Transcriber
	index       vectorstore.Index
	cfg         config.PipelineConfig
	logger      *zap.Logger
}

// New creates a pipeline with all collaborators injected.
func New(
	videos VideoStore,
	transcripts TranscriptStore,
	media MediaExtractor,
	visual inference.VisualEncoder,
	speech inference.SpeechEncoder,
	transcriber inference.Transcriber,
	index vectorstore.Index,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		videos:      videos,
		transcripts: transcripts,
		media:       media,
		visual:      visual,
		speech:      speech,
		transcriber: transcriber,
		index:       index,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process runs the full indexing flow for a claimed video. The video must
// already be in the extracting_frames state (the claim sets it there). Any
// stage failure is contained: the video is marked failed with the error
// message and the error is returned for logging only; callers must not
// requeue on it.
func (p *Pipeline) Process(ctx context.Context, videoID uuid.UUID, videoPath string) error {
	log := p.logger.With(zap.String("video_id", videoID.String()))
	start := time.Now()

	video, err := p.videos.GetByID(ctx, videoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		log.Warn("video deleted before processing started")
		return nil
	}
	if video.Status != models.StatusExtractingFrames {
		return fmt.Errorf("video %s not claimed: status %s", videoID, video.Status)
	}

	if err := p.run(ctx, video, videoPath, log); err != nil {
		log.Error("pipeline failed", zap.String("stage", string(video.Status)), zap.Error(err))
		if ferr := p.fail(ctx, video, err); ferr != nil {
			log.Error("failed to persist failure state", zap.Error(ferr))
		}
		return err
	}

	log.Info("pipeline completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, video *models.Video, videoPath string, log *zap.Logger) error {
	// Stage 1: keyframes.
	keyframes, err := p.extractFrames(ctx, video, videoPath, log)
	if err != nil {
		return err
	}

	// Stage 2: audio. Videos without an audio stream skip straight to embedding.
	if err := p.transition(ctx, video, models.StatusExtractingAudio); err != nil {
		return err
	}
	audioPath, err := p.extractAudio(ctx, video, videoPath, log)
	if err != nil {
		return err
	}

	// Stage 3: transcription, only when audio exists.
	var segments []models.Segment
	if audioPath != "" {
		if err := p.transition(ctx, video, models.StatusTranscribing); err != nil {
			return err
		}
		segments, err = p.transcribe(ctx, video, audioPath, log)
		if err != nil {
			return err
		}
	}

	// Stage 4: embeddings into both vector spaces.
	if err := p.transition(ctx, video, models.StatusEmbedding); err != nil {
		return err
	}
	if err := p.embed(ctx, video, keyframes, segments, log); err != nil {
		return err
	}

	if err := video.MarkCompleted(); err != nil {
		return err
	}
	return p.persist(ctx, func(ctx context.Context) error {
		return p.videos.MarkCompleted(ctx, video.ID)
	})
}

func (p *Pipeline) extractFrames(ctx context.Context, video *models.Video, videoPath string, log *zap.Logger) ([]models.Keyframe, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	keyframes, err := p.media.ExtractKeyframes(stageCtx, videoPath, video.ID, p.cfg.SceneThreshold)
	if err != nil {
		return nil, fmt.Errorf("extract keyframes: %w", err)
	}
	if len(keyframes) == 0 {
		return nil, fmt.Errorf("no keyframes extracted")
	}

	if thumb := p.media.ExtractThumbnail(stageCtx, videoPath, video.ID, thumbnailPercent); thumb != "" {
		video.ThumbnailPath = thumb
		if err := p.persist(ctx, func(ctx context.Context) error {
			return p.videos.UpdateThumbnail(ctx, video.ID, thumb)
		}); err != nil {
			return nil, err
		}
	}

	video.FrameCount = p.media.CountFrames(stageCtx, videoPath)
	video.KeyframeCount = len(keyframes)
	if err := p.persist(ctx, func(ctx context.Context) error {
		return p.videos.UpdateCounts(ctx, video.ID, video.FrameCount, video.KeyframeCount)
	}); err != nil {
		return nil, err
	}
	log.Info("keyframes ready", zap.Int("keyframes", len(keyframes)))
	return keyframes, nil
}

// extractAudio returns the extracted wav path, or "" when the video carries
// no audio stream.
func (p *Pipeline) extractAudio(ctx context.Context, video *models.Video, videoPath string, log *zap.Logger) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	hasAudio, err := p.media.HasAudio(stageCtx, videoPath)
	if err != nil {
		return "", fmt.Errorf("audio probe: %w", err)
	}
	if !hasAudio {
		log.Info("no audio stream, skipping transcription")
		return "", nil
	}
	audioPath, err := p.media.ExtractAudio(stageCtx, videoPath, video.ID, p.cfg.AudioSampleRate)
	if err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return audioPath, nil
}

func (p *Pipeline) transcribe(ctx context.Context, video *models.Video, audioPath string, log *zap.Logger) ([]models.Segment, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	segments, err := p.transcriber.Transcribe(stageCtx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	// Prior rows are purged inside the store, so reprocessing never
	// accumulates duplicate segments.
	if err := p.persist(ctx, func(ctx context.Context) error {
		return p.transcripts.ReplaceForVideo(ctx, video.ID, segments)
	}); err != nil {
		return nil, err
	}
	log.Info("transcript stored", zap.Int("segments", len(segments)))
	return segments, nil
}

func (p *Pipeline) embed(ctx context.Context, video *models.Video, keyframes []models.Keyframe, segments []models.Segment, log *zap.Logger) error {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()

	paths := make([]string, len(keyframes))
	for i, kf := range keyframes {
		paths[i] = kf.FramePath
	}
	visualVectors, err := p.visual.EmbedImages(stageCtx, paths)
	if err != nil {
		return fmt.Errorf("embed keyframes: %w", err)
	}
	if err := p.index.UpsertVisual(stageCtx, video.ID, keyframes, visualVectors); err != nil {
		return fmt.Errorf("store visual embeddings: %w", err)
	}

	if len(segments) > 0 {
		texts := make([]string, len(segments))
		for i, seg := range segments {
			texts[i] = seg.Text
		}
		speechVectors, err := p.speech.EmbedTexts(stageCtx, texts)
		if err != nil {
			return fmt.Errorf("embed transcript: %w", err)
		}
		if err := p.index.UpsertSpeech(stageCtx, video.ID, segments, speechVectors); err != nil {
			return fmt.Errorf("store speech embeddings: %w", err)
		}
	}
	log.Info("embeddings stored",
		zap.Int("visual", len(keyframes)), zap.Int("speech", len(segments)))
	return nil
}

// transition moves the video through the status allow-list and commits the
// new status before the next stage runs.
func (p *Pipeline) transition(ctx context.Context, video *models.Video, next models.VideoStatus) error {
	if err := video.TransitionTo(next); err != nil {
		return err
	}
	return p.persist(ctx, func(ctx context.Context) error {
		return p.videos.UpdateStatus(ctx, video.ID, next)
	})
}

func (p *Pipeline) fail(ctx context.Context, video *models.Video, cause error) error {
	// The terminal write must not depend on the (possibly cancelled)
	// stage context.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}
	msg := cause.Error()
	if err := video.MarkFailed(msg); err != nil {
		var invalid *models.ErrInvalidTransition
		if !errors.As(err, &invalid) {
			return err
		}
	}
	return p.persist(ctx, func(ctx context.Context) error {
		return p.videos.MarkFailed(ctx, video.ID, msg)
	})
}

// persist retries transient persistence failures with a fixed backoff.
// Inference and ffmpeg failures are never retried here; only the writes
// that record already-computed results.
func (p *Pipeline) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < persistAttempts {
			p.logger.Warn("persistence retry",
				zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-time.After(persistBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}
