package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/akarpov/llmbot-backend/internal/db"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/repos"
	"github.com/akarpov/llmbot-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// chanQueue is an in-process Queue for worker tests.
type chanQueue struct {
	ch chan uuid.UUID
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan uuid.UUID, 16)}
}

func (q *chanQueue) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	q.ch <- sessionID
	return nil
}

func (q *chanQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

func (q *chanQueue) Close() error { return nil }

// recordingSummarizer implements services.SummarizerService and signals each
// invocation on a channel.
type recordingSummarizer struct {
	calls chan uuid.UUID
}

func (s *recordingSummarizer) Summarize(ctx context.Context, sessionID uuid.UUID) (*types.ConversationSummary, error) {
	s.calls <- sessionID
	return &types.ConversationSummary{SessionID: sessionID, Version: 1}, nil
}

func TestWorkerRunsSummarizeForKnownSession(t *testing.T) {
	gdb := newTestDB(t)
	log := newTestLogger(t)
	sessions := repos.NewSessionRepo(gdb, log)

	session, err := sessions.GetOrCreate(context.Background(), nil, "user-1", "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	queue := newChanQueue()
	summarizer := &recordingSummarizer{calls: make(chan uuid.UUID, 16)}
	worker := NewWorker(log, queue, sessions, summarizer, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if err := queue.Enqueue(ctx, session.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case got := <-summarizer.calls:
		if got != session.ID {
			t.Fatalf("summarized session: want=%s got=%s", session.ID, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for background summarization")
	}
}

func TestWorkerDropsUnknownSession(t *testing.T) {
	gdb := newTestDB(t)
	log := newTestLogger(t)
	sessions := repos.NewSessionRepo(gdb, log)

	known, err := sessions.GetOrCreate(context.Background(), nil, "user-1", "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	queue := newChanQueue()
	summarizer := &recordingSummarizer{calls: make(chan uuid.UUID, 16)}
	worker := NewWorker(log, queue, sessions, summarizer, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	// The unknown id is dropped without a recompute; the known one that
	// follows proves the loop kept going.
	if err := queue.Enqueue(ctx, uuid.New()); err != nil {
		t.Fatalf("Enqueue unknown: %v", err)
	}
	if err := queue.Enqueue(ctx, known.ID); err != nil {
		t.Fatalf("Enqueue known: %v", err)
	}

	select {
	case got := <-summarizer.calls:
		if got != known.ID {
			t.Fatalf("expected unknown session dropped, summarized %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for background summarization")
	}
}
