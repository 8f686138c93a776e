package search

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/config"
	"github.com/clipsearch/backend/pkg/response"
)

const (
	maxQueryLength = 500
	maxLimit       = 50
)

// Handler exposes the search endpoint.
type Handler struct {
	engine *Engine
	cfg    config.SearchConfig
	logger *zap.Logger
}

// NewHandler creates a search handler.
func NewHandler(engine *Engine, cfg config.SearchConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, cfg: cfg, logger: logger}
}

// RegisterRoutes mounts search routes on the API group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/search", h.Search)
}

type searchRequest struct {
	Query      string   `json:"query"`
	SearchType string   `json:"search_type"`
	Limit      *int     `json:"limit"`
	Threshold  *float64 `json:"score_threshold"`
}

// Search handles POST /api/search.
func (h *Handler) Search(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	req, errMsg := h.validate(body)
	if errMsg != "" {
		response.BadRequest(c, errMsg)
		return
	}

	results, err := h.engine.Search(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("search failed", zap.String("query", req.Query), zap.Error(err))
		response.Internal(c, "search failed")
		return
	}

	response.OK(c, gin.H{
		"query":       req.Query,
		"search_type": req.SearchType,
		"count":       len(results),
		"results":     results,
	})
}

func (h *Handler) validate(body searchRequest) (Request, string) {
	req := Request{
		Query:      strings.TrimSpace(body.Query),
		SearchType: body.SearchType,
		Limit:      h.cfg.DefaultLimit,
		Threshold:  h.cfg.DefaultThreshold,
	}
	if req.Query == "" {
		return req, "query is required"
	}
	if len(req.Query) > maxQueryLength {
		return req, "query exceeds 500 characters"
	}
	if req.SearchType == "" {
		req.SearchType = TypeHybrid
	}
	switch req.SearchType {
	case TypeVisual, TypeSpeech, TypeHybrid:
	default:
		return req, "search_type must be visual, speech or hybrid"
	}
	if body.Limit != nil {
		if *body.Limit < 1 || *body.Limit > maxLimit {
			return req, "limit must be between 1 and 50"
		}
		req.Limit = *body.Limit
	}
	if body.Threshold != nil {
		if *body.Threshold < 0 || *body.Threshold > 1 {
			return req, "score_threshold must be between 0 and 1"
		}
		req.Threshold = *body.Threshold
	}
	return req, ""
}
