// Package media wraps ffmpeg/ffprobe subprocess calls for metadata probing,
// scene-cut keyframe extraction, thumbnail and audio extraction.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/pkg/storage"
)

// Info is basic video metadata from ffprobe.
type Info struct {
	Duration float64 `json:"duration"`
	FileSize int64   `json:"file_size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
}

// Extractor runs ffmpeg/ffprobe against video files. All methods honor the
// passed context; callers are expected to wrap it with a timeout since
// subprocess extraction can hang on damaged input.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	store       *storage.Store
	logger      *zap.Logger
}

// NewExtractor locates ffmpeg and ffprobe in PATH.
func NewExtractor(store *storage.Store, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Extractor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, store: store, logger: logger}, nil
}

// Probe extracts duration, dimensions, fps and file size via ffprobe.
func (e *Extractor) Probe(ctx context.Context, videoPath string) (Info, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", videoPath, err)
	}
	info, err := parseProbeOutput(out)
	if err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output for %s: %w", videoPath, err)
	}
	return info, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

func parseProbeOutput(raw []byte) (Info, error) {
	var probe probeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Info{}, err
	}
	var info Info
	info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	info.FileSize, _ = strconv.ParseInt(probe.Format.Size, 10, 64)
	if info.Duration <= 0 {
		return Info{}, fmt.Errorf("no usable format metadata")
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseFrameRate(s.RFrameRate)
			break
		}
	}
	return info, nil
}

// parseFrameRate parses ffprobe rate strings like "30000/1001" or "25".
func parseFrameRate(s string) float64 {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var showinfoPtsTime = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

// ExtractKeyframes detects scene cuts and extracts one frame per scene
// boundary, plus a mid-scene frame for scenes longer than two seconds.
// threshold is the content-difference sensitivity on a 0-100 scale
// (mapped to ffmpeg's 0-1 scene score). If no cut is detected the video
// is sampled at a fixed interval instead.
func (e *Extractor) ExtractKeyframes(ctx context.Context, videoPath string, videoID uuid.UUID, threshold float64) ([]models.Keyframe, error) {
	info, err := e.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	outputDir, err := e.store.FramesDir(videoID)
	if err != nil {
		return nil, err
	}

	cuts, err := e.detectSceneCuts(ctx, videoPath, threshold/100)
	if err != nil {
		return nil, err
	}
	e.logger.Info("scene cuts detected",
		zap.String("video_id", videoID.String()), zap.Int("count", len(cuts)))

	var timestamps []sceneTimestamp
	if len(cuts) > 0 {
		timestamps = sceneTimestamps(cuts, info.Duration)
	} else {
		timestamps = intervalTimestamps(info.Duration)
		e.logger.Info("no scene cuts, falling back to interval sampling",
			zap.String("video_id", videoID.String()), zap.Int("count", len(timestamps)))
	}

	keyframes := make([]models.Keyframe, 0, len(timestamps))
	for _, ts := range timestamps {
		framePath := filepath.Join(outputDir, fmt.Sprintf("frame_%04d_%.2f.jpg", ts.SceneIndex, ts.Time))
		if err := e.extractFrame(ctx, videoPath, ts.Time, framePath); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("frame extraction failed",
				zap.Float64("timestamp", ts.Time), zap.Error(err))
			continue
		}
		keyframes = append(keyframes, models.Keyframe{
			FramePath:  framePath,
			Timestamp:  ts.Time,
			SceneIndex: ts.SceneIndex,
		})
	}
	e.logger.Info("keyframes extracted",
		zap.String("video_id", videoID.String()), zap.Int("count", len(keyframes)))
	return keyframes, nil
}

// detectSceneCuts returns timestamps where frame-to-frame content difference
// exceeds the threshold (0-1 scale), via the ffmpeg scene filter.
func (e *Extractor) detectSceneCuts(ctx context.Context, videoPath string, sceneScore float64) ([]float64, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", videoPath,
		"-an",
		"-vf", fmt.Sprintf("select='gt(scene,%.4f)',showinfo", sceneScore),
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("scene detection: %w (%s)", err, lastLine(stderr.String()))
	}
	return parseShowinfoTimes(stderr.String()), nil
}

// parseShowinfoTimes pulls pts_time values out of showinfo filter log lines.
func parseShowinfoTimes(ffmpegLog string) []float64 {
	var times []float64
	for _, line := range strings.Split(ffmpegLog, "\n") {
		if !strings.Contains(line, "Parsed_showinfo") {
			continue
		}
		m := showinfoPtsTime.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if t, err := strconv.ParseFloat(m[1], 64); err == nil {
			times = append(times, t)
		}
	}
	return times
}

type sceneTimestamp struct {
	Time       float64
	SceneIndex int
}

// sceneTimestamps converts cut points into per-scene sample times: the scene
// start, plus the scene midpoint for scenes longer than two seconds.
func sceneTimestamps(cuts []float64, duration float64) []sceneTimestamp {
	starts := append([]float64{0}, cuts...)
	var out []sceneTimestamp
	for i, start := range starts {
		end := duration
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		out = append(out, sceneTimestamp{Time: start, SceneIndex: i})
		if end-start > 2.0 {
			out = append(out, sceneTimestamp{Time: start + (end-start)/2, SceneIndex: i})
		}
	}
	return out
}

// intervalTimestamps samples a cut-less video at a fixed interval, one frame
// per ten seconds, at least one and at most twenty.
func intervalTimestamps(duration float64) []sceneTimestamp {
	count := int(duration / 10)
	if count < 1 {
		count = 1
	}
	if count > 20 {
		count = 20
	}
	interval := duration / float64(count+1)
	out := make([]sceneTimestamp, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, sceneTimestamp{Time: interval * float64(i), SceneIndex: i - 1})
	}
	return out
}

func (e *Extractor) extractFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract frame at %.3f: %w (%s)", timestamp, err, lastLine(stderr.String()))
	}
	return nil
}

// ExtractThumbnail grabs a 640px-wide frame a fraction into the video
// (clamped to 0.5-30s). Returns the thumbnail path, or "" on failure;
// a missing thumbnail is never fatal.
func (e *Extractor) ExtractThumbnail(ctx context.Context, videoPath string, videoID uuid.UUID, timePercent float64) string {
	info, err := e.Probe(ctx, videoPath)
	if err != nil {
		e.logger.Warn("thumbnail probe failed", zap.String("video_id", videoID.String()), zap.Error(err))
		return ""
	}
	timestamp := info.Duration * timePercent
	if timestamp < 0.5 {
		timestamp = 0.5
	}
	if timestamp > 30.0 {
		timestamp = 30.0
	}

	outputDir, err := e.store.FramesDir(videoID)
	if err != nil {
		e.logger.Warn("thumbnail dir failed", zap.String("video_id", videoID.String()), zap.Error(err))
		return ""
	}
	thumbnailPath := filepath.Join(outputDir, "thumbnail.jpg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", "scale=640:-1",
		"-q:v", "2",
		"-y",
		thumbnailPath,
	)
	if err := cmd.Run(); err != nil {
		e.logger.Warn("thumbnail extraction failed", zap.String("video_id", videoID.String()), zap.Error(err))
		return ""
	}
	return thumbnailPath
}

// HasAudio reports whether the video contains an audio stream.
func (e *Extractor) HasAudio(ctx context.Context, videoPath string) (bool, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("audio probe %s: %w", videoPath, err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// ExtractAudio writes the audio track as mono 16-bit PCM wav at the given
// sample rate, ready for transcription.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath string, videoID uuid.UUID, sampleRate int) (string, error) {
	outputDir, err := e.store.AudioDir(videoID)
	if err != nil {
		return "", err
	}
	outputPath := filepath.Join(outputDir, "audio.wav")

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-y",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("extract audio: %w (%s)", err, lastLine(stderr.String()))
	}
	e.logger.Info("audio extracted", zap.String("video_id", videoID.String()), zap.String("path", outputPath))
	return outputPath, nil
}

// CountFrames counts decodable frames in the first video stream.
// Returns 0 if counting fails; frame count is informational only.
func (e *Extractor) CountFrames(ctx context.Context, videoPath string) int {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=nokey=1:noprint_wrappers=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return n
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
