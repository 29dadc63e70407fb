package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/apperr"
	"github.com/akarpov/llmbot-backend/internal/repos"
	"github.com/akarpov/llmbot-backend/internal/types"
)

type summarizerFixture struct {
	gdb        *gorm.DB
	sessions   repos.SessionRepo
	messages   repos.MessageRepo
	summaries  repos.SummaryRepo
	llm        *fakeLLM
	summarizer SummarizerService
	session    *types.ChatSession
	turnSeq    int
}

func newSummarizerFixture(t *testing.T, newMessagesLimit int) *summarizerFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := newTestLogger(t)

	sessions := repos.NewSessionRepo(gdb, log)
	messages := repos.NewMessageRepo(gdb, log, sessions)
	summaries := repos.NewSummaryRepo(gdb, log)
	llm := &fakeLLM{reply: "updated summary"}

	session, err := sessions.GetOrCreate(context.Background(), nil, "user-1", "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	return &summarizerFixture{
		gdb:        gdb,
		sessions:   sessions,
		messages:   messages,
		summaries:  summaries,
		llm:        llm,
		summarizer: NewSummarizerService(gdb, log, messages, summaries, llm, newMessagesLimit),
		session:    session,
	}
}

func (f *summarizerFixture) appendTurns(t *testing.T, turns int) []*types.Message {
	t.Helper()
	out := make([]*types.Message, 0, turns*2)
	for i := 0; i < turns; i++ {
		n := f.turnSeq
		f.turnSeq++
		userMsg := &types.Message{Role: types.RoleUser, Content: fmt.Sprintf("question %d", n)}
		assistantMsg := &types.Message{Role: types.RoleAssistant, Content: fmt.Sprintf("answer %d", n)}
		if err := f.messages.AppendPair(context.Background(), f.session.ID, userMsg, assistantMsg); err != nil {
			t.Fatalf("AppendPair: %v", err)
		}
		out = append(out, userMsg, assistantMsg)
	}
	return out
}

func TestSummarizeEmptySessionPersistsEmptyVersionOne(t *testing.T) {
	f := newSummarizerFixture(t, 200)

	summary, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Version != 1 || summary.Content != "" || summary.LastMessageID != nil {
		t.Fatalf("expected empty v1 summary with nil watermark, got %+v", summary)
	}
	if f.llm.completeCalls != 0 {
		t.Fatalf("expected no generation call for empty session")
	}
}

func TestSummarizeFoldsNewMessagesAndSetsWatermark(t *testing.T) {
	f := newSummarizerFixture(t, 200)
	all := f.appendTurns(t, 2)

	summary, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Version != 1 {
		t.Fatalf("version: want=1 got=%d", summary.Version)
	}
	if summary.Content != "updated summary" {
		t.Fatalf("content: got %q", summary.Content)
	}
	last := all[len(all)-1]
	if summary.LastMessageID == nil || *summary.LastMessageID != last.ID {
		t.Fatalf("watermark: want=%s got=%v", last.ID, summary.LastMessageID)
	}

	// The rendered window reaches the model as role: content lines.
	prompt := f.llm.prompts[0]
	if len(prompt) != 1 {
		t.Fatalf("prompt length: want=1 got=%d", len(prompt))
	}
	if !strings.Contains(prompt[0].Content, "user: question 0") ||
		!strings.Contains(prompt[0].Content, "assistant: answer 1") {
		t.Fatalf("rendered window missing lines: %q", prompt[0].Content)
	}
}

func TestSummarizeIsIdempotentWithoutNewMessages(t *testing.T) {
	f := newSummarizerFixture(t, 200)
	f.appendTurns(t, 2)

	first, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	second, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize again: %v", err)
	}
	if second.Version != first.Version || second.Content != first.Content {
		t.Fatalf("expected no-op: first=%+v second=%+v", first, second)
	}
	if f.llm.completeCalls != 1 {
		t.Fatalf("generation calls: want=1 got=%d", f.llm.completeCalls)
	}
}

func TestSummarizeVersionsIncreaseAndWatermarkAdvances(t *testing.T) {
	f := newSummarizerFixture(t, 200)
	f.appendTurns(t, 1)

	first, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	more := f.appendTurns(t, 1)
	second, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize v2: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("version: want=%d got=%d", first.Version+1, second.Version)
	}
	if second.LastMessageID == nil || *second.LastMessageID != more[len(more)-1].ID {
		t.Fatalf("watermark did not advance to latest message")
	}

	// The second recompute merges the prior summary with only the new lines.
	prompt := f.llm.prompts[1][0].Content
	if !strings.Contains(prompt, "updated summary") {
		t.Fatalf("prior summary missing from merge prompt: %q", prompt)
	}
	if strings.Contains(prompt, "question 0") {
		t.Fatalf("already-covered message leaked into merge prompt: %q", prompt)
	}
}

func TestSummarizeGenerationFailureLeavesNoRow(t *testing.T) {
	f := newSummarizerFixture(t, 200)
	f.appendTurns(t, 1)
	f.llm.completeErr = fmt.Errorf("provider down")

	_, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if apperr.KindOf(err) != apperr.KindSummarization {
		t.Fatalf("error kind: want=%s got=%s", apperr.KindSummarization, apperr.KindOf(err))
	}

	latest, err := f.summaries.Latest(context.Background(), nil, f.session.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no summary row after failure, got %+v", latest)
	}

	// Retry re-reads the same window and succeeds.
	f.llm.completeErr = nil
	retried, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Version != 1 {
		t.Fatalf("retry version: want=1 got=%d", retried.Version)
	}
}

func TestSummarizeCapsInputWindow(t *testing.T) {
	f := newSummarizerFixture(t, 4)
	all := f.appendTurns(t, 4) // 8 messages, cap 4

	summary, err := f.summarizer.Summarize(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.LastMessageID == nil || *summary.LastMessageID != all[3].ID {
		t.Fatalf("watermark should stop at the cap boundary")
	}

	prompt := f.llm.prompts[0][0].Content
	if strings.Contains(prompt, "question 2") {
		t.Fatalf("message beyond cap leaked into prompt: %q", prompt)
	}
}
