package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/clipsearch/backend/internal/models"
)

const maxTextLength = 4096

// Milvus is the Milvus-backed vector index.
type Milvus struct {
	mc        client.Client
	visualDim int
	speechDim int
	logger    *zap.Logger
}

// MilvusConfig holds Milvus connection settings.
type MilvusConfig struct {
	Addr     string
	Username string
	Password string
	APIKey   string // for Zilliz Cloud
}

// NewMilvus connects to Milvus.
func NewMilvus(ctx context.Context, cfg MilvusConfig, visualDim, speechDim int, logger *zap.Logger) (*Milvus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	logger.Info("Milvus connected", zap.String("addr", cfg.Addr))
	return &Milvus{mc: mc, visualDim: visualDim, speechDim: speechDim, logger: logger}, nil
}

// Init creates both collections with HNSW cosine indexes and loads them.
func (m *Milvus) Init(ctx context.Context) error {
	visual := entity.NewSchema().WithName(VisualCollection).
		WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(36)).
		WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(36)).
		WithField(entity.NewField().WithName("frame_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName("timestamp").WithDataType(entity.FieldTypeDouble)).
		WithField(entity.NewField().WithName("scene_index").WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.visualDim)))
	if err := m.ensureCollection(ctx, VisualCollection, visual); err != nil {
		return err
	}

	speech := entity.NewSchema().WithName(SpeechCollection).
		WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(36)).
		WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(36)).
		WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxTextLength)).
		WithField(entity.NewField().WithName("start_time").WithDataType(entity.FieldTypeDouble)).
		WithField(entity.NewField().WithName("end_time").WithDataType(entity.FieldTypeDouble)).
		WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.speechDim)))
	return m.ensureCollection(ctx, SpeechCollection, speech)
}

func (m *Milvus) ensureCollection(ctx context.Context, name string, schema *entity.Schema) error {
	has, err := m.mc.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		if err := m.mc.CreateCollection(ctx, schema, 2); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		m.logger.Info("collection created", zap.String("collection", name))
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := m.mc.CreateIndex(ctx, name, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index on %s: %w", name, err)
	}
	if err := m.mc.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}
	return nil
}

// UpsertVisual stores keyframe embeddings under deterministic point IDs.
func (m *Milvus) UpsertVisual(ctx context.Context, videoID uuid.UUID, keyframes []models.Keyframe, vectors [][]float32) error {
	if len(keyframes) != len(vectors) {
		return fmt.Errorf("keyframe/vector count mismatch: %d != %d", len(keyframes), len(vectors))
	}
	if len(keyframes) == 0 {
		return nil
	}
	ids := make([]string, len(keyframes))
	videoIDs := make([]string, len(keyframes))
	framePaths := make([]string, len(keyframes))
	timestamps := make([]float64, len(keyframes))
	sceneIndexes := make([]int64, len(keyframes))
	for i, kf := range keyframes {
		ids[i] = PointID(videoID, i, ModalityVisual)
		videoIDs[i] = videoID.String()
		framePaths[i] = kf.FramePath
		timestamps[i] = kf.Timestamp
		sceneIndexes[i] = int64(kf.SceneIndex)
	}
	_, err := m.mc.Upsert(ctx, VisualCollection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("frame_path", framePaths),
		entity.NewColumnDouble("timestamp", timestamps),
		entity.NewColumnInt64("scene_index", sceneIndexes),
		entity.NewColumnFloatVector("vector", m.visualDim, vectors),
	)
	if err != nil {
		return fmt.Errorf("upsert visual points: %w", err)
	}
	m.logger.Info("visual embeddings stored",
		zap.String("video_id", videoID.String()), zap.Int("count", len(keyframes)))
	return nil
}

// UpsertSpeech stores transcript segment embeddings under deterministic point IDs.
func (m *Milvus) UpsertSpeech(ctx context.Context, videoID uuid.UUID, segments []models.Segment, vectors [][]float32) error {
	if len(segments) != len(vectors) {
		return fmt.Errorf("segment/vector count mismatch: %d != %d", len(segments), len(vectors))
	}
	if len(segments) == 0 {
		return nil
	}
	ids := make([]string, len(segments))
	videoIDs := make([]string, len(segments))
	texts := make([]string, len(segments))
	startTimes := make([]float64, len(segments))
	endTimes := make([]float64, len(segments))
	for i, seg := range segments {
		ids[i] = PointID(videoID, i, ModalitySpeech)
		videoIDs[i] = videoID.String()
		texts[i] = truncate(seg.Text, maxTextLength)
		startTimes[i] = seg.StartTime
		endTimes[i] = seg.EndTime
	}
	_, err := m.mc.Upsert(ctx, SpeechCollection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnDouble("start_time", startTimes),
		entity.NewColumnDouble("end_time", endTimes),
		entity.NewColumnFloatVector("vector", m.speechDim, vectors),
	)
	if err != nil {
		return fmt.Errorf("upsert speech points: %w", err)
	}
	m.logger.Info("speech embeddings stored",
		zap.String("video_id", videoID.String()), zap.Int("count", len(segments)))
	return nil
}

// QueryVisual returns nearest visual points with score >= scoreThreshold.
func (m *Milvus) QueryVisual(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	results, err := m.search(ctx, VisualCollection, vector, limit, []string{"video_id", "frame_path", "timestamp"})
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, r := range results {
		cols := columnsByName(r.Fields)
		for i := 0; i < r.ResultCount; i++ {
			score := float64(r.Scores[i])
			if score < scoreThreshold {
				continue
			}
			hits = append(hits, Hit{
				VideoID:   varcharAt(cols, "video_id", i),
				Score:     score,
				Timestamp: doubleAt(cols, "timestamp", i),
				FramePath: varcharAt(cols, "frame_path", i),
			})
		}
	}
	return hits, nil
}

// QuerySpeech returns nearest speech points with score >= scoreThreshold.
func (m *Milvus) QuerySpeech(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	results, err := m.search(ctx, SpeechCollection, vector, limit, []string{"video_id", "text", "start_time", "end_time"})
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, r := range results {
		cols := columnsByName(r.Fields)
		for i := 0; i < r.ResultCount; i++ {
			score := float64(r.Scores[i])
			if score < scoreThreshold {
				continue
			}
			hits = append(hits, Hit{
				VideoID:      varcharAt(cols, "video_id", i),
				Score:        score,
				Timestamp:    doubleAt(cols, "start_time", i),
				EndTimestamp: doubleAt(cols, "end_time", i),
				Text:         varcharAt(cols, "text", i),
			})
		}
	}
	return hits, nil
}

func (m *Milvus) search(ctx context.Context, collection string, vector []float32, limit int, outputFields []string) ([]client.SearchResult, error) {
	sp, err := entity.NewIndexHNSWSearchParam(74)
	if err != nil {
		return nil, fmt.Errorf("search param: %w", err)
	}
	results, err := m.mc.Search(ctx, collection, nil, "", outputFields,
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return results, nil
}

// DeleteVideo removes all points for a video from both collections.
func (m *Milvus) DeleteVideo(ctx context.Context, videoID uuid.UUID) error {
	expr := fmt.Sprintf("video_id == %q", videoID.String())
	for _, collection := range []string{VisualCollection, SpeechCollection} {
		if err := m.mc.Delete(ctx, collection, "", expr); err != nil {
			return fmt.Errorf("delete from %s: %w", collection, err)
		}
	}
	m.logger.Info("video embeddings deleted", zap.String("video_id", videoID.String()))
	return nil
}

// Close disconnects from Milvus.
func (m *Milvus) Close() error {
	return m.mc.Close()
}

func columnsByName(fields []entity.Column) map[string]entity.Column {
	cols := make(map[string]entity.Column, len(fields))
	for _, c := range fields {
		cols[c.Name()] = c
	}
	return cols
}

func varcharAt(cols map[string]entity.Column, name string, i int) string {
	if c, ok := cols[name].(*entity.ColumnVarChar); ok {
		data := c.Data()
		if i < len(data) {
			return data[i]
		}
	}
	return ""
}

func doubleAt(cols map[string]entity.Column, name string, i int) float64 {
	if c, ok := cols[name].(*entity.ColumnDouble); ok {
		data := c.Data()
		if i < len(data) {
			return data[i]
		}
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
