package models

import (
	"time"

	"github.com/google/uuid"
)

// Transcript is one persisted speech segment of a video.
type Transcript struct {
	ID         uuid.UUID `json:"id"`
	VideoID    uuid.UUID `json:"video_id"`
	Text       string    `json:"text"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Duration returns the segment length in seconds.
func (t Transcript) Duration() float64 {
	return t.EndTime - t.StartTime
}

// Segment is a transcription result before persistence.
type Segment struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// Keyframe is a representative frame extracted at a scene boundary.
// Keyframes are transient per pipeline run; only their embeddings and
// payload survive, in the vector index.
type Keyframe struct {
	FramePath  string  `json:"frame_path"`
	Timestamp  float64 `json:"timestamp"`
	SceneIndex int     `json:"scene_index"`
}
