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

const summarizeSystemPrompt = "You are an assistant that maintains terse summaries of conversations.\n" +
	"Your job is to update the existing summary to cover new messages.\n" +
	"Reply with the updated summary only, no commentary."

// SummarizerService recomputes the progressive summary for a session. It
// never touches the staleness counter; the caller owns the reset, so a failed
// recompute is retryable without losing or duplicating coverage.
type SummarizerService interface {
	Summarize(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSummary, error)
}

type summarizerService struct {
	db        *gorm.DB
	log       *logger.Logger
	messages  repos.MessageRepo
	summaries repos.SummaryRepo
	llm       openai.Client

	// Safety cap on one recompute's input window, so a long-delayed recompute
	// cannot feed unbounded context to the model.
	newMessagesLimit int
}

func NewSummarizerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	messageRepo repos.MessageRepo,
	summaryRepo repos.SummaryRepo,
	llm openai.Client,
	newMessagesLimit int,
) SummarizerService {
	return &summarizerService{
		db:               db,
		log:              baseLog.With("service", "SummarizerService"),
		messages:         messageRepo,
		summaries:        summaryRepo,
		llm:              llm,
		newMessagesLimit: newMessagesLimit,
	}
}

func (s *summarizerService) Summarize(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSummary, error) {
	const op = "SummarizerService.Summarize"

	prev, err := s.summaries.Latest(ctx, nil, sessionID)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistence, op, err)
	}

	var watermark *uuid.UUID
	var prevText string
	if prev != nil {
		watermark = prev.LastMessageID
		prevText = prev.Content
	}

	newMessages, err := s.messages.After(ctx, nil, sessionID, watermark, s.newMessagesLimit)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistence, op, err)
	}

	if len(newMessages) == 0 {
		if prev != nil {
			// Nothing new since the last version; idempotent no-op.
			return prev, nil
		}
		empty := &types.ConversationSummary{
			SessionID: sessionID,
			Version:   1,
			Content:   "",
		}
		if err := s.summaries.Create(ctx, nil, empty); err != nil {
			return nil, apperr.E(apperr.KindPersistence, op, err)
		}
		return empty, nil
	}

	lines := make([]string, 0, len(newMessages))
	for _, m := range newMessages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	newMessagesText := strings.Join(lines, "\n")
	lastIncluded := newMessages[len(newMessages)-1]

	content, err := s.llm.Complete(ctx, summarizeSystemPrompt, []openai.Turn{
		{Role: types.RoleUser, Content: summarizeUserContent(prevText, newMessagesText)},
	})
	if err != nil {
		return nil, apperr.E(apperr.KindSummarization, op, err)
	}

	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	next := &types.ConversationSummary{
		SessionID:     sessionID,
		Version:       version,
		Content:       content,
		LastMessageID: &lastIncluded.ID,
	}
	if err := s.summaries.Create(ctx, nil, next); err != nil {
		return nil, apperr.E(apperr.KindPersistence, op, err)
	}

	s.log.Info("Summary recomputed",
		"session_id", sessionID,
		"version", version,
		"messages_folded", len(newMessages),
	)
	return next, nil
}

func summarizeUserContent(prevSummary, newMessages string) string {
	if strings.TrimSpace(prevSummary) != "" {
		return "Current summary of the conversation:\n" + prevSummary +
			"\n\nNew messages:\n" + newMessages +
			"\n\nUpdate the summary so it briefly covers the ENTIRE conversation."
	}
	return "Write a brief summary of the following conversation:\n\n" + newMessages +
		"\n\nFocus on the user's intent and the key facts."
}
