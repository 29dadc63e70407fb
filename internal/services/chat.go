package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/apperr"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/platform/openai"
	"github.com/akarpov/llmbot-backend/internal/repos"
	"github.com/akarpov/llmbot-backend/internal/types"
)

// SummarizeDispatcher hands a summary recompute off to out-of-band execution.
// Delivery is at-least-once; duplicates are safe because recompute is
// idempotent when no new messages arrived.
type SummarizeDispatcher interface {
	Enqueue(ctx context.Context, sessionID uuid.UUID) error
}

type ChatConfig struct {
	SystemPrompt     string
	RecentLimit      int
	SummaryThreshold int
	RAGEnabled       bool
	RAGTopK          int
}

type ChatService interface {
	// HandleTurn runs one full turn: assemble context, obtain the reply,
	// persist the message pair, advance the staleness counter and trigger a
	// summary recompute when due.
	HandleTurn(ctx context.Context, userKey, chatKey, text string) (string, error)

	// Reset closes the matching active sessions and returns how many were
	// affected. Zero affected is a no-op, not an error.
	Reset(ctx context.Context, sessionID *uuid.UUID, chatKey string) (int64, error)
}

type chatService struct {
	db  *gorm.DB
	log *logger.Logger
	cfg ChatConfig

	sessions   repos.SessionRepo
	messages   repos.MessageRepo
	summaries  repos.SummaryRepo
	embeddings repos.EmbeddingRecordRepo

	llm        openai.Client
	semantic   SemanticMemoryService
	summarizer SummarizerService

	// When nil, recompute runs inline on the turn's handler.
	dispatch SummarizeDispatcher
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg ChatConfig,
	sessionRepo repos.SessionRepo,
	messageRepo repos.MessageRepo,
	summaryRepo repos.SummaryRepo,
	embeddingRepo repos.EmbeddingRecordRepo,
	llm openai.Client,
	semantic SemanticMemoryService,
	summarizer SummarizerService,
	dispatch SummarizeDispatcher,
) ChatService {
	return &chatService{
		db:         db,
		log:        baseLog.With("service", "ChatService"),
		cfg:        cfg,
		sessions:   sessionRepo,
		messages:   messageRepo,
		summaries:  summaryRepo,
		embeddings: embeddingRepo,
		llm:        llm,
		semantic:   semantic,
		summarizer: summarizer,
		dispatch:   dispatch,
	}
}

func (s *chatService) HandleTurn(ctx context.Context, userKey, chatKey, text string) (string, error) {
	const op = "ChatService.HandleTurn"
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("message text must be non-empty")
	}

	session, err := s.sessions.GetOrCreate(ctx, nil, userKey, chatKey)
	if err != nil {
		return "", apperr.E(apperr.KindPersistence, op, err)
	}

	recent, err := s.messages.Recent(ctx, nil, session.ID, s.cfg.RecentLimit)
	if err != nil {
		return "", apperr.E(apperr.KindPersistence, op, err)
	}
	summary, err := s.summaries.Latest(ctx, nil, session.ID)
	if err != nil {
		return "", apperr.E(apperr.KindPersistence, op, err)
	}

	var chunks []RetrievedChunk
	if s.cfg.RAGEnabled && s.semantic != nil {
		chunks, err = s.semantic.Search(ctx, text, s.cfg.RAGTopK, session.ID)
		if err != nil {
			// Soft failure: the turn proceeds without semantic context.
			s.log.Warn("Semantic search failed, continuing without RAG context",
				"session_id", session.ID, "error", err)
			chunks = nil
		}
	}

	prompt := BuildPrompt(summary, recent, text, chunks)

	reply, err := s.llm.Complete(ctx, s.cfg.SystemPrompt, prompt)
	if err != nil {
		return "", apperr.E(apperr.KindGeneration, op, err)
	}

	userMsg := &types.Message{Role: types.RoleUser, Content: text}
	assistantMsg := &types.Message{Role: types.RoleAssistant, Content: reply}
	if err := s.messages.AppendPair(ctx, session.ID, userMsg, assistantMsg); err != nil {
		return "", apperr.E(apperr.KindPersistence, op, err)
	}

	s.maybeSummarize(ctx, session.ID)

	if s.cfg.RAGEnabled && s.semantic != nil {
		s.indexTurn(ctx, session.ID, userMsg, assistantMsg)
	}

	return reply, nil
}

// maybeSummarize advances the staleness counter for the turn just written and
// triggers a recompute when the threshold is crossed. The counter resets only
// after a successful handoff or inline completion, so a failed recompute
// stays due and is retried on the next threshold check.
func (s *chatService) maybeSummarize(ctx context.Context, sessionID uuid.UUID) {
	pending, err := s.sessions.AdvancePending(ctx, nil, sessionID, 2)
	if err != nil {
		s.log.Error("Failed to advance staleness counter", "session_id", sessionID, "error", err)
		return
	}
	if pending < s.cfg.SummaryThreshold {
		return
	}

	if s.dispatch != nil {
		if err := s.dispatch.Enqueue(ctx, sessionID); err != nil {
			s.log.Warn("Summary dispatch failed, counter left due for retry",
				"session_id", sessionID, "error", err)
			return
		}
	} else {
		if _, err := s.summarizer.Summarize(ctx, sessionID); err != nil {
			s.log.Warn("Inline summarization failed, counter left due for retry",
				"session_id", sessionID, "error", err)
			return
		}
	}

	if err := s.sessions.ResetPending(ctx, nil, sessionID); err != nil {
		s.log.Error("Failed to reset staleness counter", "session_id", sessionID, "error", err)
	}
}

// indexTurn records both turn messages in semantic memory. Failures degrade
// gracefully; the reply has already been produced and persisted.
func (s *chatService) indexTurn(ctx context.Context, sessionID uuid.UUID, msgs ...*types.Message) {
	records := make([]*types.EmbeddingRecord, 0, len(msgs))
	for _, msg := range msgs {
		sid := sessionID
		mid := msg.ID
		records = append(records, &types.EmbeddingRecord{
			SessionID: &sid,
			MessageID: &mid,
			Role:      msg.Role,
			Content:   msg.Content,
		})
	}

	if err := s.embeddings.Create(ctx, nil, records); err != nil {
		s.log.Warn("Failed to persist embedding records", "session_id", sessionID, "error", err)
		return
	}
	if err := s.semantic.Index(ctx, records); err != nil {
		s.log.Warn("Failed to index turn in semantic memory", "session_id", sessionID, "error", err)
	}
}

func (s *chatService) Reset(ctx context.Context, sessionID *uuid.UUID, chatKey string) (int64, error) {
	const op = "ChatService.Reset"

	var affected int64
	if sessionID != nil {
		n, err := s.sessions.CloseByID(ctx, nil, *sessionID)
		if err != nil {
			return 0, apperr.E(apperr.KindPersistence, op, err)
		}
		affected += n
	}
	if strings.TrimSpace(chatKey) != "" {
		n, err := s.sessions.CloseActiveByChatKey(ctx, nil, chatKey)
		if err != nil {
			return 0, apperr.E(apperr.KindPersistence, op, err)
		}
		affected += n
	}
	return affected, nil
}
