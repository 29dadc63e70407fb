package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/types"
)

type MessageRepo interface {
	// AppendPair durably writes one user+assistant turn in a single
	// transaction, assigning consecutive seq values from the session's
	// ordering counter. Either both messages land or neither does.
	AppendPair(ctx context.Context, sessionID uuid.UUID, userMsg, assistantMsg *types.Message) error

	GetByID(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) (*types.Message, error)

	// Recent returns up to limit newest messages, oldest first.
	Recent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.Message, error)

	// After returns up to limit messages strictly after the watermark
	// message's seq, oldest first. A nil watermark returns messages from the
	// beginning. A watermark whose message cannot be found logs a warning and
	// falls back to the full range.
	After(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, watermarkID *uuid.UUID, limit int) ([]*types.Message, error)
}

type messageRepo struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions SessionRepo
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger, sessions SessionRepo) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo"), sessions: sessions}
}

func (r *messageRepo) AppendPair(ctx context.Context, sessionID uuid.UUID, userMsg, assistantMsg *types.Message) error {
	if userMsg == nil || assistantMsg == nil {
		return fmt.Errorf("both turn messages are required")
	}
	if strings.TrimSpace(userMsg.Content) == "" || strings.TrimSpace(assistantMsg.Content) == "" {
		return fmt.Errorf("message content must be non-empty")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		last, err := r.sessions.AllocateSeq(ctx, tx, sessionID, 2)
		if err != nil {
			return err
		}

		userMsg.SessionID = sessionID
		userMsg.Seq = last - 1
		assistantMsg.SessionID = sessionID
		assistantMsg.Seq = last

		return tx.Create([]*types.Message{userMsg, assistantMsg}).Error
	})
}

func (r *messageRepo) GetByID(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Message
	err := transaction.WithContext(ctx).
		Where("id = ?", messageID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *messageRepo) Recent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	var rows []*types.Message
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *messageRepo) After(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, watermarkID *uuid.UUID, limit int) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	query := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC")

	if watermarkID != nil {
		watermark, err := r.GetByID(ctx, tx, *watermarkID)
		if err != nil {
			return nil, err
		}
		if watermark != nil {
			query = query.Where("seq > ?", watermark.Seq)
		} else {
			r.log.Warn("Watermark message not found, returning full range",
				"session_id", sessionID, "watermark_id", *watermarkID)
		}
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []*types.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
