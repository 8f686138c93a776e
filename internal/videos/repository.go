package videos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipsearch/backend/internal/models"
)

const videoColumns = `id, filename, original_path, COALESCE(thumbnail_path,''), file_size, duration,
	width, height, fps, status, COALESCE(error_message,''), frame_count, keyframe_count,
	created_at, updated_at, processed_at`

// Repository handles video persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new video in pending state.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (id, filename, original_path, file_size, duration, width, height, fps, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, v.Filename, v.OriginalPath, v.FileSize, v.Duration, v.Width, v.Height, v.FPS, v.Status).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

// GetByID returns a video by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// GetByIDs returns the videos for the given IDs, keyed by ID. Missing IDs
// are simply absent from the map.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Video, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Video{}, nil
	}
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*models.Video, len(ids))
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// List returns one page of videos, newest first, plus the total count.
func (r *Repository) List(ctx context.Context, page, pageSize int) ([]models.Video, int, error) {
	offset := (page - 1) * pageSize
	q := `SELECT ` + videoColumns + ` FROM videos ORDER BY created_at DESC OFFSET $1 LIMIT $2`
	rows, err := r.pool.Query(ctx, q, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Claim atomically takes ownership of a video for processing: the status
// moves to `to` only when the video is currently pending or failed, so a
// concurrent resubmission of an in-flight video is a no-op. Claiming also
// clears any previous error message.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, to models.VideoStatus) (bool, error) {
	const q = `UPDATE videos SET status = $1, error_message = NULL, processed_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`
	tag, err := r.pool.Exec(ctx, q, to, id, models.StatusPending, models.StatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus sets video status. Legality of the transition is enforced by
// the model before this is called.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error {
	const q = `UPDATE videos SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// UpdateCounts persists the extracted frame statistics.
func (r *Repository) UpdateCounts(ctx context.Context, id uuid.UUID, frameCount, keyframeCount int) error {
	const q = `UPDATE videos SET frame_count = $1, keyframe_count = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, frameCount, keyframeCount, id)
	return err
}

// UpdateThumbnail sets the thumbnail path.
func (r *Repository) UpdateThumbnail(ctx context.Context, id uuid.UUID, path string) error {
	const q = `UPDATE videos SET thumbnail_path = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, path, id)
	return err
}

// MarkCompleted sets the terminal completed state and stamps processed_at.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE videos SET status = $1, processed_at = NOW(), updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.StatusCompleted, id)
	return err
}

// MarkFailed sets the terminal failed state with the captured error message.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	const q = `UPDATE videos SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.StatusFailed, msg, id)
	return err
}

// Delete removes the video row; transcripts go with it via ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	return err
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.Filename, &v.OriginalPath, &v.ThumbnailPath, &v.FileSize, &v.Duration,
		&v.Width, &v.Height, &v.FPS, &v.Status, &v.ErrorMessage, &v.FrameCount, &v.KeyframeCount,
		&v.CreatedAt, &v.UpdatedAt, &v.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
