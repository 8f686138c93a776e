package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VideoStatus is the processing lifecycle state of a video.
type VideoStatus string

const (
	StatusPending          VideoStatus = "pending"
	StatusExtractingFrames VideoStatus = "extracting_frames"
	StatusExtractingAudio  VideoStatus = "extracting_audio"
	StatusTranscribing     VideoStatus = "transcribing"
	StatusEmbedding        VideoStatus = "embedding"
	StatusCompleted        VideoStatus = "completed"
	StatusFailed           VideoStatus = "failed"
)

// allowedTransitions is the closed set of legal status moves. Terminal
// states (completed, failed) have no outgoing edges; a failed video is
// re-run by claiming it back through the queue, which resets it to
// extracting_frames via the claim precondition, not through this map.
var allowedTransitions = map[VideoStatus][]VideoStatus{
	StatusPending:          {StatusExtractingFrames, StatusFailed},
	StatusExtractingFrames: {StatusExtractingAudio, StatusFailed},
	StatusExtractingAudio:  {StatusTranscribing, StatusEmbedding, StatusFailed},
	StatusTranscribing:     {StatusEmbedding, StatusFailed},
	StatusEmbedding:        {StatusCompleted, StatusFailed},
}

// ErrInvalidTransition reports an attempted status change outside the allow-list.
type ErrInvalidTransition struct {
	From VideoStatus
	To   VideoStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to VideoStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.
func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Video is an indexed video and its processing state.
type Video struct {
	ID            uuid.UUID   `json:"id"`
	Filename      string      `json:"filename"`
	OriginalPath  string      `json:"original_path"`
	ThumbnailPath string      `json:"thumbnail_path,omitempty"`
	FileSize      int64       `json:"file_size"`
	Duration      float64     `json:"duration"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	FPS           float64     `json:"fps"`
	Status        VideoStatus `json:"status"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	FrameCount    int         `json:"frame_count"`
	KeyframeCount int         `json:"keyframe_count"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// TransitionTo moves the video to the next status, rejecting moves
// outside the allow-list with ErrInvalidTransition.
func (v *Video) TransitionTo(next VideoStatus) error {
	if !CanTransition(v.Status, next) {
		return &ErrInvalidTransition{From: v.Status, To: next}
	}
	v.Status = next
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted sets the terminal completed state and stamps processed_at.
func (v *Video) MarkCompleted() error {
	if err := v.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	v.ProcessedAt = &now
	return nil
}

// MarkFailed sets the terminal failed state with the captured error message.
func (v *Video) MarkFailed(msg string) error {
	if err := v.TransitionTo(StatusFailed); err != nil {
		return err
	}
	v.ErrorMessage = msg
	return nil
}
