package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from VideoStatus
		to   VideoStatus
		want bool
	}{
		{"pending to extracting_frames", StatusPending, StatusExtractingFrames, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"extracting_frames to extracting_audio", StatusExtractingFrames, StatusExtractingAudio, true},
		{"extracting_audio to transcribing", StatusExtractingAudio, StatusTranscribing, true},
		{"extracting_audio skips to embedding", StatusExtractingAudio, StatusEmbedding, true},
		{"transcribing to embedding", StatusTranscribing, StatusEmbedding, true},
		{"embedding to completed", StatusEmbedding, StatusCompleted, true},
		{"pending cannot skip to embedding", StatusPending, StatusEmbedding, false},
		{"pending cannot complete", StatusPending, StatusCompleted, false},
		{"no backwards move", StatusEmbedding, StatusExtractingFrames, false},
		{"completed is terminal", StatusCompleted, StatusPending, false},
		{"failed is terminal", StatusFailed, StatusExtractingFrames, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionTo(t *testing.T) {
	v := &Video{Status: StatusPending}
	require.NoError(t, v.TransitionTo(StatusExtractingFrames))
	assert.Equal(t, StatusExtractingFrames, v.Status)

	err := v.TransitionTo(StatusCompleted)
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusExtractingFrames, invalid.From)
	assert.Equal(t, StatusCompleted, invalid.To)
	// The status is unchanged after a rejected move.
	assert.Equal(t, StatusExtractingFrames, v.Status)
}

func TestMarkCompleted(t *testing.T) {
	v := &Video{Status: StatusEmbedding}
	require.NoError(t, v.MarkCompleted())
	assert.Equal(t, StatusCompleted, v.Status)
	require.NotNil(t, v.ProcessedAt)

	// Terminal: nothing moves a completed video.
	assert.Error(t, v.TransitionTo(StatusFailed))
}

func TestMarkFailed(t *testing.T) {
	v := &Video{Status: StatusTranscribing}
	require.NoError(t, v.MarkFailed("transcribe: api timeout"))
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "transcribe: api timeout", v.ErrorMessage)
	assert.Nil(t, v.ProcessedAt)

	assert.Error(t, v.TransitionTo(StatusEmbedding))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusEmbedding.Terminal())
}
