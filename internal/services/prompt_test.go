package services

import (
	"strings"
	"testing"

	"github.com/akarpov/llmbot-backend/internal/types"
)

func TestBuildPromptFullOrdering(t *testing.T) {
	summary := &types.ConversationSummary{Content: "user is planning a trip"}
	recent := []*types.Message{
		{Role: types.RoleUser, Content: "first question"},
		{Role: types.RoleAssistant, Content: "first answer"},
	}
	chunks := []RetrievedChunk{
		{Content: "user prefers trains", Score: 0.9},
		{Content: "user lives in Berlin", Score: 0.8},
	}

	turns := BuildPrompt(summary, recent, "second question", chunks)

	if len(turns) != 5 {
		t.Fatalf("turns length: want=5 got=%d", len(turns))
	}
	if turns[0].Role != types.RoleSystem || !strings.Contains(turns[0].Content, "user is planning a trip") {
		t.Fatalf("expected summary system entry first, got %+v", turns[0])
	}
	if turns[1].Role != types.RoleSystem ||
		!strings.Contains(turns[1].Content, "- user prefers trains") ||
		!strings.Contains(turns[1].Content, "- user lives in Berlin") {
		t.Fatalf("expected RAG system entry second, got %+v", turns[1])
	}
	if turns[2].Content != "first question" || turns[3].Content != "first answer" {
		t.Fatalf("expected recent messages in chronological order, got %+v %+v", turns[2], turns[3])
	}
	last := turns[len(turns)-1]
	if last.Role != types.RoleUser || last.Content != "second question" {
		t.Fatalf("expected live user turn last, got %+v", last)
	}
}

func TestBuildPromptSkipsEmptySummary(t *testing.T) {
	turns := BuildPrompt(&types.ConversationSummary{Content: "  "}, nil, "hello", nil)
	if len(turns) != 1 {
		t.Fatalf("turns length: want=1 got=%d", len(turns))
	}
	if turns[0].Role != types.RoleUser || turns[0].Content != "hello" {
		t.Fatalf("expected only the live user turn, got %+v", turns[0])
	}
}

func TestBuildPromptSkipsRAGBlockWhenNoUsableChunks(t *testing.T) {
	turns := BuildPrompt(nil, nil, "hello", []RetrievedChunk{
		{Content: ""},
		{Content: "   "},
	})
	if len(turns) != 1 {
		t.Fatalf("turns length: want=1 got=%d", len(turns))
	}

	turns = BuildPrompt(nil, nil, "hello", nil)
	if len(turns) != 1 {
		t.Fatalf("turns length without chunks: want=1 got=%d", len(turns))
	}
}

func TestBuildPromptEndsWithUserTurnAlways(t *testing.T) {
	recent := []*types.Message{
		{Role: types.RoleAssistant, Content: "earlier answer"},
	}
	turns := BuildPrompt(nil, recent, "live turn", nil)
	last := turns[len(turns)-1]
	if last.Role != types.RoleUser || last.Content != "live turn" {
		t.Fatalf("expected live user turn last, got %+v", last)
	}
}
