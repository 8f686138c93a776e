package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/pkg/queue"
)

type fakeClaimer struct {
	claimed  bool
	err      error
	gotID    uuid.UUID
	gotTo    models.VideoStatus
	attempts int
}

func (f *fakeClaimer) Claim(_ context.Context, id uuid.UUID, to models.VideoStatus) (bool, error) {
	f.attempts++
	f.gotID = id
	f.gotTo = to
	return f.claimed, f.err
}

type fakeRunner struct {
	runs []uuid.UUID
	err  error
}

func (f *fakeRunner) Process(_ context.Context, videoID uuid.UUID, _ string) error {
	f.runs = append(f.runs, videoID)
	return f.err
}

func videoJob(t *testing.T, videoID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.VideoProcessPayload{VideoID: videoID, VideoPath: "/data/uploads/test.mp4"})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.New().String(), Type: queue.JobTypeVideoProcess, Payload: payload}
}

func TestHandleClaimsBeforeProcessing(t *testing.T) {
	videoID := uuid.New()
	claimer := &fakeClaimer{claimed: true}
	runner := &fakeRunner{}
	w := New(nil, claimer, runner, 1, zap.NewNop())

	require.NoError(t, w.handle(context.Background(), videoJob(t, videoID), w.logger))

	assert.Equal(t, videoID, claimer.gotID)
	assert.Equal(t, models.StatusExtractingFrames, claimer.gotTo)
	assert.Equal(t, []uuid.UUID{videoID}, runner.runs)
}

func TestHandleDropsUnclaimedJob(t *testing.T) {
	claimer := &fakeClaimer{claimed: false}
	runner := &fakeRunner{}
	w := New(nil, claimer, runner, 1, zap.NewNop())

	require.NoError(t, w.handle(context.Background(), videoJob(t, uuid.New()), w.logger))

	assert.Equal(t, 1, claimer.attempts)
	assert.Empty(t, runner.runs, "unclaimed video must not be processed")
}

func TestHandleClaimInfraErrorIsRetriable(t *testing.T) {
	claimer := &fakeClaimer{err: errors.New("connection refused")}
	runner := &fakeRunner{}
	w := New(nil, claimer, runner, 1, zap.NewNop())

	err := w.handle(context.Background(), videoJob(t, uuid.New()), w.logger)
	require.Error(t, err)
	assert.Empty(t, runner.runs)
}

func TestHandlePipelineErrorNotReturned(t *testing.T) {
	claimer := &fakeClaimer{claimed: true}
	runner := &fakeRunner{err: errors.New("embedding failed")}
	w := New(nil, claimer, runner, 1, zap.NewNop())

	// The failure is recorded on the video row by the pipeline; the job
	// must not be redelivered.
	assert.NoError(t, w.handle(context.Background(), videoJob(t, uuid.New()), w.logger))
	assert.Len(t, runner.runs, 1)
}

func TestHandleDropsMalformedJobs(t *testing.T) {
	claimer := &fakeClaimer{claimed: true}
	runner := &fakeRunner{}
	w := New(nil, claimer, runner, 1, zap.NewNop())

	t.Run("unknown type", func(t *testing.T) {
		job := &queue.Job{ID: "x", Type: "mystery", Payload: []byte(`{}`)}
		assert.NoError(t, w.handle(context.Background(), job, w.logger))
	})
	t.Run("bad payload", func(t *testing.T) {
		job := &queue.Job{ID: "x", Type: queue.JobTypeVideoProcess, Payload: []byte(`not json`)}
		assert.NoError(t, w.handle(context.Background(), job, w.logger))
	})
	assert.Zero(t, claimer.attempts)
	assert.Empty(t, runner.runs)
}
