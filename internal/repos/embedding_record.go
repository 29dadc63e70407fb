package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/types"
)

type EmbeddingRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, records []*types.EmbeddingRecord) error
}

type embeddingRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRecordRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRecordRepo {
	return &embeddingRecordRepo{db: db, log: baseLog.With("repo", "EmbeddingRecordRepo")}
}

func (r *embeddingRecordRepo) Create(ctx context.Context, tx *gorm.DB, records []*types.EmbeddingRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&records).Error
}
