package videos

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/media"
	"github.com/clipsearch/backend/internal/models"
	"github.com/clipsearch/backend/internal/transcripts"
	"github.com/clipsearch/backend/internal/vectorstore"
	"github.com/clipsearch/backend/pkg/queue"
	"github.com/clipsearch/backend/pkg/response"
	"github.com/clipsearch/backend/pkg/storage"
)

const defaultPageSize = 20

// Handler exposes the video management endpoints.
type Handler struct {
	repo        *Repository
	transcripts *transcripts.Repository
	store       *storage.Store
	extractor   *media.Extractor
	index       vectorstore.Index
	queue       *queue.Queue
	logger      *zap.Logger
}

// NewHandler creates a videos handler.
func NewHandler(
	repo *Repository,
	transcriptRepo *transcripts.Repository,
	store *storage.Store,
	extractor *media.Extractor,
	index vectorstore.Index,
	q *queue.Queue,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:        repo,
		transcripts: transcriptRepo,
		store:       store,
		extractor:   extractor,
		index:       index,
		queue:       q,
		logger:      logger,
	}
}

// RegisterRoutes mounts video routes on the API group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/videos", h.Create)
	api.POST("/videos/upload", h.Upload)
	api.GET("/videos", h.List)
	api.GET("/videos/:id", h.Get)
	api.GET("/videos/:id/transcript", h.Transcript)
	api.DELETE("/videos/:id", h.Delete)
}

type createRequest struct {
	FilePath string `json:"file_path" binding:"required"`
}

// Create registers an existing on-disk file for indexing.
// POST /api/videos
func (h *Handler) Create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "file_path is required")
		return
	}
	if _, err := os.Stat(body.FilePath); err != nil {
		response.BadRequest(c, "file not found: "+body.FilePath)
		return
	}
	h.register(c, body.FilePath, filepath.Base(body.FilePath))
}

// Upload accepts a multipart video file, stores it and registers it.
// POST /api/videos/upload
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	src, err := file.Open()
	if err != nil {
		response.BadRequest(c, "cannot read uploaded file")
		return
	}
	defer src.Close()

	path, err := h.store.SaveUpload(file.Filename, src)
	if err != nil {
		h.logger.Error("upload save failed", zap.String("filename", file.Filename), zap.Error(err))
		response.Internal(c, "failed to store upload")
		return
	}
	h.register(c, path, filepath.Base(file.Filename))
}

// register probes the file, creates the pending row and enqueues the job.
// A file ffprobe cannot read is rejected and, when it was an upload into
// our storage, removed again.
func (h *Handler) register(c *gin.Context, path, filename string) {
	ctx := c.Request.Context()

	info, err := h.extractor.Probe(ctx, path)
	if err != nil {
		h.logger.Warn("probe rejected file", zap.String("path", path), zap.Error(err))
		if filepath.Dir(path) == h.store.UploadsDir() {
			h.store.RemoveUpload(path)
		}
		response.BadRequest(c, "file is not a readable video")
		return
	}

	video := &models.Video{
		Filename:     filename,
		OriginalPath: path,
		FileSize:     info.FileSize,
		Duration:     info.Duration,
		Width:        info.Width,
		Height:       info.Height,
		FPS:          info.FPS,
		Status:       models.StatusPending,
	}
	if err := h.repo.Create(ctx, video); err != nil {
		h.logger.Error("video create failed", zap.String("path", path), zap.Error(err))
		response.Internal(c, "failed to create video")
		return
	}

	if err := h.queue.EnqueueVideoProcess(ctx, queue.VideoProcessPayload{
		VideoID:   video.ID,
		VideoPath: path,
	}); err != nil {
		// The row stays pending; a resubmission or manual requeue picks it up.
		h.logger.Error("enqueue failed", zap.String("video_id", video.ID.String()), zap.Error(err))
		response.Internal(c, "failed to enqueue processing")
		return
	}

	h.logger.Info("video registered",
		zap.String("video_id", video.ID.String()), zap.String("filename", filename))
	response.Created(c, video)
}

// List returns one page of videos, newest first.
// GET /api/videos?page=1&page_size=20
func (h *Handler) List(c *gin.Context) {
	page := intQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := intQuery(c, "page_size", defaultPageSize)
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultPageSize
	}

	videos, total, err := h.repo.List(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("video list failed", zap.Error(err))
		response.Internal(c, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	response.OK(c, gin.H{
		"videos":    videos,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get returns a single video.
// GET /api/videos/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}
	video, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("video get failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load video")
		return
	}
	if video == nil {
		response.NotFound(c, "video not found")
		return
	}
	response.OK(c, video)
}

// Transcript returns the ordered transcript segments of a video.
// GET /api/videos/:id/transcript
func (h *Handler) Transcript(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	video, err := h.repo.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("video get failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load video")
		return
	}
	if video == nil {
		response.NotFound(c, "video not found")
		return
	}
	segments, err := h.transcripts.ListByVideo(ctx, id)
	if err != nil {
		h.logger.Error("transcript list failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load transcript")
		return
	}
	if segments == nil {
		segments = []models.Transcript{}
	}
	response.OK(c, gin.H{
		"video_id": id.String(),
		"segments": segments,
	})
}

// Delete removes a video everywhere: vector points first, then the row
// (transcripts cascade), then the on-disk artifacts. Ordering matters so a
// crash mid-delete leaves orphaned files, not orphaned search hits.
// DELETE /api/videos/:id
func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	video, err := h.repo.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("video get failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load video")
		return
	}
	if video == nil {
		response.NotFound(c, "video not found")
		return
	}

	if err := h.index.DeleteVideo(ctx, id); err != nil {
		h.logger.Error("vector delete failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to delete video embeddings")
		return
	}
	if err := h.repo.Delete(ctx, id); err != nil {
		h.logger.Error("video delete failed", zap.String("video_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to delete video")
		return
	}
	if err := h.store.RemoveArtifacts(id, video.OriginalPath); err != nil {
		// The record is already gone; leftover files are only disk waste.
		h.logger.Warn("artifact cleanup incomplete", zap.String("video_id", id.String()), zap.Error(err))
	}

	h.logger.Info("video deleted", zap.String("video_id", id.String()))
	response.NoContent(c)
}

func (h *Handler) videoID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
