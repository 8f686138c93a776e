package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/models"
)

// PgVector is the pgvector-backed index, sharing the application's
// PostgreSQL pool. Useful for single-node deployments without a separate
// ANN service; cosine similarity is computed as 1 - cosine distance.
type PgVector struct {
	pool      *pgxpool.Pool
	visualDim int
	speechDim int
	logger    *zap.Logger
}

// NewPgVector creates the pgvector index over an existing pool.
func NewPgVector(pool *pgxpool.Pool, visualDim, speechDim int, logger *zap.Logger) *PgVector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgVector{pool: pool, visualDim: visualDim, speechDim: speechDim, logger: logger}
}

// Init enables the vector extension and creates both embedding tables.
func (p *PgVector) Init(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	visualQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL,
			frame_path TEXT NOT NULL,
			"timestamp" DOUBLE PRECISION NOT NULL,
			scene_index INT NOT NULL DEFAULT 0,
			embedding vector(%d) NOT NULL
		)`, VisualCollection, p.visualDim)
	if _, err := p.pool.Exec(ctx, visualQuery); err != nil {
		return fmt.Errorf("create %s table: %w", VisualCollection, err)
	}
	speechQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL,
			text TEXT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			embedding vector(%d) NOT NULL
		)`, SpeechCollection, p.speechDim)
	if _, err := p.pool.Exec(ctx, speechQuery); err != nil {
		return fmt.Errorf("create %s table: %w", SpeechCollection, err)
	}
	for _, collection := range []string{VisualCollection, SpeechCollection} {
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_video_id ON %s (video_id)", collection, collection)
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create video_id index on %s: %w", collection, err)
		}
	}
	return nil
}

// UpsertVisual stores keyframe embeddings under deterministic point IDs.
func (p *PgVector) UpsertVisual(ctx context.Context, videoID uuid.UUID, keyframes []models.Keyframe, vectors [][]float32) error {
	if len(keyframes) != len(vectors) {
		return fmt.Errorf("keyframe/vector count mismatch: %d != %d", len(keyframes), len(vectors))
	}
	const q = `INSERT INTO visual_embeddings (id, video_id, frame_path, "timestamp", scene_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			frame_path = EXCLUDED.frame_path,
			"timestamp" = EXCLUDED."timestamp",
			scene_index = EXCLUDED.scene_index,
			embedding = EXCLUDED.embedding`
	for i, kf := range keyframes {
		id := PointID(videoID, i, ModalityVisual)
		if _, err := p.pool.Exec(ctx, q, id, videoID, kf.FramePath, kf.Timestamp, kf.SceneIndex, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert visual point %s: %w", id, err)
		}
	}
	p.logger.Info("visual embeddings stored",
		zap.String("video_id", videoID.String()), zap.Int("count", len(keyframes)))
	return nil
}

// UpsertSpeech stores transcript segment embeddings under deterministic point IDs.
func (p *PgVector) UpsertSpeech(ctx context.Context, videoID uuid.UUID, segments []models.Segment, vectors [][]float32) error {
	if len(segments) != len(vectors) {
		return fmt.Errorf("segment/vector count mismatch: %d != %d", len(segments), len(vectors))
	}
	const q = `INSERT INTO speech_embeddings (id, video_id, text, start_time, end_time, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			embedding = EXCLUDED.embedding`
	for i, seg := range segments {
		id := PointID(videoID, i, ModalitySpeech)
		if _, err := p.pool.Exec(ctx, q, id, videoID, seg.Text, seg.StartTime, seg.EndTime, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert speech point %s: %w", id, err)
		}
	}
	p.logger.Info("speech embeddings stored",
		zap.String("video_id", videoID.String()), zap.Int("count", len(segments)))
	return nil
}

// QueryVisual returns nearest visual points with score >= scoreThreshold.
func (p *PgVector) QueryVisual(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	const q = `SELECT video_id, frame_path, "timestamp", 1 - (embedding <=> $1) AS score
		FROM visual_embeddings
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`
	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(vector), scoreThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query visual: %w", err)
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		var videoID uuid.UUID
		if err := rows.Scan(&videoID, &h.FramePath, &h.Timestamp, &h.Score); err != nil {
			return nil, err
		}
		h.VideoID = videoID.String()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// QuerySpeech returns nearest speech points with score >= scoreThreshold.
func (p *PgVector) QuerySpeech(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	const q = `SELECT video_id, text, start_time, end_time, 1 - (embedding <=> $1) AS score
		FROM speech_embeddings
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`
	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(vector), scoreThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query speech: %w", err)
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		var videoID uuid.UUID
		if err := rows.Scan(&videoID, &h.Text, &h.Timestamp, &h.EndTimestamp, &h.Score); err != nil {
			return nil, err
		}
		h.VideoID = videoID.String()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteVideo removes all points for a video from both tables.
func (p *PgVector) DeleteVideo(ctx context.Context, videoID uuid.UUID) error {
	for _, collection := range []string{VisualCollection, SpeechCollection} {
		q := fmt.Sprintf("DELETE FROM %s WHERE video_id = $1", collection)
		if _, err := p.pool.Exec(ctx, q, videoID); err != nil {
			return fmt.Errorf("delete from %s: %w", collection, err)
		}
	}
	p.logger.Info("video embeddings deleted", zap.String("video_id", videoID.String()))
	return nil
}

// Close is a no-op; the shared pool is owned by the caller.
func (p *PgVector) Close() error { return nil }
