package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/akarpov/llmbot-backend/internal/db"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/platform/openai"
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

// fakeLLM implements openai.Client. Complete replies with reply (or err) and
// records every prompt it sees; Embed returns fixed-dimension vectors.
type fakeLLM struct {
	reply       string
	completeErr error
	embedErr    error

	completeCalls int
	systems       []string
	prompts       [][]openai.Turn
}

func (f *fakeLLM) Complete(ctx context.Context, system string, turns []openai.Turn) (string, error) {
	f.completeCalls++
	f.systems = append(f.systems, system)
	copied := make([]openai.Turn, len(turns))
	copy(copied, turns)
	f.prompts = append(f.prompts, copied)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if f.reply == "" {
		return fmt.Sprintf("reply %d", f.completeCalls), nil
	}
	return f.reply, nil
}

func (f *fakeLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// fakeSemantic implements SemanticMemoryService.
type fakeSemantic struct {
	chunks    []RetrievedChunk
	searchErr error
	indexErr  error

	indexed [][]string // content of each Index batch
}

func (f *fakeSemantic) Index(ctx context.Context, records []*types.EmbeddingRecord) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	batch := make([]string, 0, len(records))
	for _, rec := range records {
		batch = append(batch, rec.Content)
	}
	f.indexed = append(f.indexed, batch)
	return nil
}

func (f *fakeSemantic) Search(ctx context.Context, queryText string, topK int, sessionID uuid.UUID) ([]RetrievedChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.chunks, nil
}

// fakeDispatcher implements SummarizeDispatcher.
type fakeDispatcher struct {
	enqueued []uuid.UUID
	err      error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, sessionID)
	return nil
}
