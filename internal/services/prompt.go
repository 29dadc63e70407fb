package services

import (
	"strings"

	"github.com/akarpov/llmbot-backend/internal/platform/openai"
	"github.com/akarpov/llmbot-backend/internal/types"
)

// RetrievedChunk is one semantic-memory hit, fixed-shape and validated at the
// index-query boundary.
type RetrievedChunk struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id,omitempty"`
	MessageID  string  `json:"message_id,omitempty"`
	Role       string  `json:"role,omitempty"`
	Content    string  `json:"content"`
	Importance int     `json:"importance"`
	Score      float64 `json:"score"`
}

// BuildPrompt assembles the ordered context for one model call. The ordering
// is a hard contract: summary first, then retrieved facts, then the recent
// window in chronological order, and the live user turn always last.
func BuildPrompt(
	summary *types.ConversationSummary,
	recent []*types.Message,
	userText string,
	chunks []RetrievedChunk,
) []openai.Turn {
	turns := make([]openai.Turn, 0, len(recent)+3)

	if summary != nil && strings.TrimSpace(summary.Content) != "" {
		turns = append(turns, openai.Turn{
			Role:    types.RoleSystem,
			Content: "Summary of the conversation so far:\n" + summary.Content,
		})
	}

	if joined := joinChunks(chunks); joined != "" {
		turns = append(turns, openai.Turn{
			Role:    types.RoleSystem,
			Content: "Relevant facts from semantic memory:\n" + joined,
		})
	}

	for _, msg := range recent {
		turns = append(turns, openai.Turn{Role: msg.Role, Content: msg.Content})
	}

	turns = append(turns, openai.Turn{Role: types.RoleUser, Content: userText})
	return turns
}

func joinChunks(chunks []RetrievedChunk) string {
	lines := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			continue
		}
		lines = append(lines, "- "+chunk.Content)
	}
	return strings.Join(lines, "\n\n")
}
