package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/akarpov/llmbot-backend/internal/platform/apperr"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/platform/openai"
	"github.com/akarpov/llmbot-backend/internal/platform/qdrant"
	"github.com/akarpov/llmbot-backend/internal/types"
)

// SemanticMemoryService embeds turns into the vector index and retrieves past
// turns by similarity. The collection is provisioned lazily from the first
// batch's vector dimensionality.
type SemanticMemoryService interface {
	// Index embeds every record's content in one batch call and upserts one
	// point per record, keyed by the record's id.
	Index(ctx context.Context, records []*types.EmbeddingRecord) error

	// Search returns the topK most similar past turns, best match first.
	// Searching an empty index returns an empty slice.
	Search(ctx context.Context, queryText string, topK int, sessionID uuid.UUID) ([]RetrievedChunk, error)
}

type semanticMemoryService struct {
	log   *logger.Logger
	llm   openai.Client
	index qdrant.Index
}

func NewSemanticMemoryService(baseLog *logger.Logger, llm openai.Client, index qdrant.Index) SemanticMemoryService {
	return &semanticMemoryService{
		log:   baseLog.With("service", "SemanticMemoryService"),
		llm:   llm,
		index: index,
	}
}

func (s *semanticMemoryService) Index(ctx context.Context, records []*types.EmbeddingRecord) error {
	const op = "SemanticMemoryService.Index"
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, 0, len(records))
	for _, rec := range records {
		texts = append(texts, rec.Content)
	}

	vectors, err := s.llm.Embed(ctx, texts)
	if err != nil {
		return apperr.E(apperr.KindIndexing, op, err)
	}
	if len(vectors) == 0 {
		return nil
	}

	if err := s.index.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return apperr.E(apperr.KindIndexing, op, err)
	}

	points := make([]qdrant.Point, 0, len(records))
	for i, rec := range records {
		payload := map[string]any{
			"record_id":  rec.ID.String(),
			"role":       rec.Role,
			"importance": rec.Importance,
			"content":    rec.Content,
		}
		if rec.SessionID != nil {
			payload["session_id"] = rec.SessionID.String()
		}
		if rec.MessageID != nil {
			payload["message_id"] = rec.MessageID.String()
		}
		points = append(points, qdrant.Point{
			ID:      rec.ID.String(),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	if err := s.index.Upsert(ctx, points); err != nil {
		return apperr.E(apperr.KindIndexing, op, err)
	}
	return nil
}

func (s *semanticMemoryService) Search(ctx context.Context, queryText string, topK int, sessionID uuid.UUID) ([]RetrievedChunk, error) {
	const op = "SemanticMemoryService.Search"

	vectors, err := s.llm.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}
	if len(vectors) != 1 {
		return nil, apperr.E(apperr.KindRetrieval, op, fmt.Errorf("expected one query vector, got %d", len(vectors)))
	}

	if err := s.index.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}

	filter := ""
	if sessionID != uuid.Nil {
		filter = sessionID.String()
	}
	matches, err := s.index.Query(ctx, vectors[0], topK, filter)
	if err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}

	chunks := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, chunkFromMatch(m))
	}
	return chunks, nil
}

// chunkFromMatch converts a raw point payload into the fixed-shape chunk,
// tolerating missing or mistyped payload fields.
func chunkFromMatch(m qdrant.ScoredPoint) RetrievedChunk {
	chunk := RetrievedChunk{ID: m.ID, Score: m.Score}
	if id, ok := m.Payload["record_id"].(string); ok && id != "" {
		chunk.ID = id
	}
	if v, ok := m.Payload["session_id"].(string); ok {
		chunk.SessionID = v
	}
	if v, ok := m.Payload["message_id"].(string); ok {
		chunk.MessageID = v
	}
	if v, ok := m.Payload["role"].(string); ok {
		chunk.Role = v
	}
	if v, ok := m.Payload["content"].(string); ok {
		chunk.Content = v
	}
	switch v := m.Payload["importance"].(type) {
	case float64:
		chunk.Importance = int(v)
	case int:
		chunk.Importance = v
	}
	return chunk
}
