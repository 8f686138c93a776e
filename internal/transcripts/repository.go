package transcripts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipsearch/backend/internal/models"
)

// Repository handles transcript persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a transcripts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReplaceForVideo atomically swaps the video's transcript set: prior rows
// are purged and the new segments inserted in one transaction, keeping
// reprocessing idempotent.
func (r *Repository) ReplaceForVideo(ctx context.Context, videoID uuid.UUID, segments []models.Segment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("purge transcripts: %w", err)
	}

	batch := &pgx.Batch{}
	const q = `INSERT INTO transcripts (id, video_id, text, start_time, end_time, confidence, language)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`
	for _, seg := range segments {
		batch.Queue(q, videoID, seg.Text, seg.StartTime, seg.EndTime, seg.Confidence, seg.Language)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert transcripts: %w", err)
	}
	return tx.Commit(ctx)
}

// ListByVideo returns all transcript segments of a video ordered by start time.
func (r *Repository) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]models.Transcript, error) {
	const q = `SELECT id, video_id, text, start_time, end_time, confidence, COALESCE(language,''), created_at
		FROM transcripts WHERE video_id = $1 ORDER BY start_time`
	rows, err := r.pool.Query(ctx, q, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Transcript
	for rows.Next() {
		var t models.Transcript
		if err := rows.Scan(&t.ID, &t.VideoID, &t.Text, &t.StartTime, &t.EndTime, &t.Confidence, &t.Language, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
