package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/types"
)

type SummaryRepo interface {
	// Latest returns the highest-version summary for the session, or nil.
	Latest(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ConversationSummary, error)

	// Create appends a new summary version. Versions are never overwritten;
	// the unique (session_id, version) index rejects duplicates.
	Create(ctx context.Context, tx *gorm.DB, summary *types.ConversationSummary) error
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{db: db, log: baseLog.With("repo", "SummaryRepo")}
}

func (r *summaryRepo) Latest(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ConversationSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.ConversationSummary
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *summaryRepo) Create(ctx context.Context, tx *gorm.DB, summary *types.ConversationSummary) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(summary).Error
}
