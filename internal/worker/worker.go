// Package worker consumes the video processing queue and drives the
// indexing pipeline on a bounded pool of goroutines.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/pkg/queue"
)

// VideoClaimer takes ownership of a video before processing starts.
type VideoClaimer interface {
	Claim(ctx context.Context, id uuid.UUID, to models.VideoStatus) (bool, error)
}

// Runner executes the indexing pipeline for a claimed video.
type Runner interface {
	Process(ctx context.Context, videoID uuid.UUID, videoPath string) error
}

// Worker runs pipeline jobs from the queue.
type Worker struct {
	queue    *queue.Queue
	videos   VideoClaimer
	pipeline Runner
	count    int
	logger   *zap.Logger
}

// New creates a worker pool of the given size.
func New(q *queue.Queue, repo VideoClaimer, p Runner, count int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if count < 1 {
		count = 1
	}
	return &Worker{queue: q, videos: repo, pipeline: p, count: count, logger: logger}
}

// Run starts the pool and blocks until ctx is cancelled and all in-flight
// jobs have finished.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.logger.With(zap.Int("worker", id))
	log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping")
				return
			}
			log.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		log.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := w.handle(ctx, job, log); err != nil {
			// Only pre-claim infrastructure failures come back here; they
			// are safe to redeliver because the video is still unclaimed.
			log.Error("job failed before claim", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := w.queue.Retry(ctx, job); reErr != nil {
				log.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}

// handle claims the video and runs the pipeline. A claim miss means the
// video is already in flight, already done, or deleted; the job is dropped.
// Pipeline errors after the claim are recorded on the video row by the
// pipeline itself and never returned for redelivery.
func (w *Worker) handle(ctx context.Context, job *queue.Job, log *zap.Logger) error {
	if job.Type != queue.JobTypeVideoProcess {
		log.Warn("unknown job type dropped", zap.String("type", string(job.Type)))
		return nil
	}
	var payload queue.VideoProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Warn("malformed job payload dropped", zap.Error(err))
		return nil
	}

	claimed, err := w.videos.Claim(ctx, payload.VideoID, models.StatusExtractingFrames)
	if err != nil {
		return fmt.Errorf("claim video %s: %w", payload.VideoID, err)
	}
	if !claimed {
		log.Info("claim missed, job dropped", zap.String("video_id", payload.VideoID.String()))
		return nil
	}

	if err := w.pipeline.Process(ctx, payload.VideoID, payload.VideoPath); err != nil {
		log.Error("pipeline run failed",
			zap.String("video_id", payload.VideoID.String()), zap.Error(err))
	}
	return nil
}
