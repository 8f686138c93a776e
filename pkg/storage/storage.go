package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store manages the on-disk artifact layout:
//
//	<root>/uploads/            original video files
//	<root>/frames/<video_id>/  extracted keyframes and thumbnail
//	<root>/audio/<video_id>/   extracted audio track
type Store struct {
	root   string
	logger *zap.Logger
}

// New creates the artifact store, creating base directories as needed.
func New(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{root, filepath.Join(root, "uploads"), filepath.Join(root, "frames"), filepath.Join(root, "audio")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// UploadsDir returns the directory holding original uploads.
func (s *Store) UploadsDir() string { return filepath.Join(s.root, "uploads") }

// FramesRoot returns the parent directory of all per-video frame dirs.
func (s *Store) FramesRoot() string { return filepath.Join(s.root, "frames") }

// FramesDir returns (and creates) the frame directory for a video.
func (s *Store) FramesDir(videoID uuid.UUID) (string, error) {
	dir := filepath.Join(s.root, "frames", videoID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create frames dir: %w", err)
	}
	return dir, nil
}

// AudioDir returns (and creates) the audio directory for a video.
func (s *Store) AudioDir(videoID uuid.UUID) (string, error) {
	dir := filepath.Join(s.root, "audio", videoID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	return dir, nil
}

// SaveUpload streams an uploaded file into the uploads directory and
// returns its path. An existing file with the same name is overwritten.
func (s *Store) SaveUpload(filename string, r io.Reader) (string, error) {
	// Strip any client-supplied directory components.
	dst := filepath.Join(s.UploadsDir(), filepath.Base(filename))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return dst, nil
}

// RemoveUpload deletes an uploaded file, used when validation rejects it.
func (s *Store) RemoveUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove upload failed", zap.String("path", path), zap.Error(err))
	}
}

// RemoveArtifacts deletes all per-video artifacts (frames, audio) and the
// original file. Missing paths are not errors.
func (s *Store) RemoveArtifacts(videoID uuid.UUID, originalPath string) error {
	var firstErr error
	for _, dir := range []string{
		filepath.Join(s.root, "frames", videoID.String()),
		filepath.Join(s.root, "audio", videoID.String()),
	} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	if originalPath != "" {
		if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove original: %w", err)
		}
	}
	return firstErr
}
