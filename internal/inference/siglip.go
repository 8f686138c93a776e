package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SiglipClient talks to a SigLIP model server over HTTP. The server runs
// next to the worker and shares its filesystem, so images are referenced
// by path rather than shipped inline.
//
// SigLIP is trained with a sigmoid loss, so its raw cosine similarities sit
// well below intuitive match percentages; see search.RescaleScore.
type SiglipClient struct {
	baseURL   string
	batchSize int
	http      *http.Client
	logger    *zap.Logger
}

// NewSiglipClient creates a client for the SigLIP embedding server.
func NewSiglipClient(baseURL string, batchSize int, timeout time.Duration, logger *zap.Logger) *SiglipClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 16
	}
	return &SiglipClient{
		baseURL:   baseURL,
		batchSize: batchSize,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type embedImagesRequest struct {
	ImagePaths []string `json:"image_paths"`
}

type embedImagesResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type embedTextRequest struct {
	Text string `json:"text"`
}

type embedTextResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedImages embeds keyframe images in batches, preserving input order.
func (c *SiglipClient) EmbedImages(ctx context.Context, imagePaths []string) ([][]float32, error) {
	all := make([][]float32, 0, len(imagePaths))
	for start := 0; start < len(imagePaths); start += c.batchSize {
		end := start + c.batchSize
		if end > len(imagePaths) {
			end = len(imagePaths)
		}
		var resp embedImagesResponse
		if err := c.post(ctx, "/embed/images", embedImagesRequest{ImagePaths: imagePaths[start:end]}, &resp); err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("siglip server: %s", resp.Error)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("siglip server returned %d embeddings for %d images", len(resp.Embeddings), end-start)
		}
		all = append(all, resp.Embeddings...)
	}
	c.logger.Debug("images embedded", zap.Int("count", len(all)))
	return all, nil
}

// EmbedText embeds a text query into the visual space.
func (c *SiglipClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp embedTextResponse
	if err := c.post(ctx, "/embed/text", embedTextRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("siglip server: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("siglip server returned empty embedding")
	}
	return resp.Embedding, nil
}

func (c *SiglipClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("siglip request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("siglip request %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode siglip response: %w", err)
	}
	return nil
}
