package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/types"
)

type SessionRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ChatSession, error)
	GetActive(ctx context.Context, tx *gorm.DB, userKey, chatKey string) (*types.ChatSession, error)

	// GetOrCreate returns the active session for (userKey, chatKey), creating
	// one when none exists. Concurrent creates for the same pair are resolved
	// by the partial unique index: the loser retries as a lookup.
	GetOrCreate(ctx context.Context, tx *gorm.DB, userKey, chatKey string) (*types.ChatSession, error)

	// AdvancePending atomically adds delta to the staleness counter and
	// returns the new value.
	AdvancePending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, delta int) (int, error)
	ResetPending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error

	// AllocateSeq atomically advances the session's ordering counter by n and
	// returns the last allocated seq. Callers own (last-n, last].
	AllocateSeq(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, n int64) (int64, error)

	CloseByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
	CloseActiveByChatKey(ctx context.Context, tx *gorm.DB, chatKey string) (int64, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.ChatSession
	err := transaction.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *sessionRepo) GetActive(ctx context.Context, tx *gorm.DB, userKey, chatKey string) (*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.ChatSession
	err := transaction.WithContext(ctx).
		Where("user_key = ? AND chat_key = ? AND is_active = ?", userKey, chatKey, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *sessionRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, userKey, chatKey string) (*types.ChatSession, error) {
	if userKey == "" || chatKey == "" {
		return nil, fmt.Errorf("user key and chat key are required")
	}

	existing, err := r.GetActive(ctx, tx, userKey, chatKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	session := &types.ChatSession{
		UserKey:  userKey,
		ChatKey:  chatKey,
		IsActive: true,
	}
	err = transaction.WithContext(ctx).Create(session).Error
	if err == nil {
		return session, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the create race; the winner's row is the active session.
		r.log.Debug("Concurrent session create, retrying as lookup", "user_key", userKey, "chat_key", chatKey)
		return r.GetActive(ctx, tx, userKey, chatKey)
	}
	return nil, err
}

func (r *sessionRepo) AdvancePending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, delta int) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var pending int
	err := transaction.WithContext(ctx).Raw(`
		UPDATE chat_session
		SET pending_since_summary = pending_since_summary + ?
		WHERE id = ?
		RETURNING pending_since_summary
	`, delta, sessionID).Scan(&pending).Error
	if err != nil {
		return 0, err
	}
	return pending, nil
}

func (r *sessionRepo) ResetPending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.ChatSession{}).
		Where("id = ?", sessionID).
		UpdateColumn("pending_since_summary", 0).Error
}

func (r *sessionRepo) AllocateSeq(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("seq allocation count must be positive")
	}
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var last int64
	result := transaction.WithContext(ctx).Raw(`
		UPDATE chat_session
		SET last_seq = last_seq + ?
		WHERE id = ?
		RETURNING last_seq
	`, n, sessionID).Scan(&last)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("session %s not found", sessionID)
	}
	return last, nil
}

func (r *sessionRepo) CloseByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	result := transaction.WithContext(ctx).
		Model(&types.ChatSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{"is_active": false, "closed_at": now})
	return result.RowsAffected, result.Error
}

func (r *sessionRepo) CloseActiveByChatKey(ctx context.Context, tx *gorm.DB, chatKey string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	result := transaction.WithContext(ctx).
		Model(&types.ChatSession{}).
		Where("chat_key = ? AND is_active = ?", chatKey, true).
		Updates(map[string]any{"is_active": false, "closed_at": now})
	return result.RowsAffected, result.Error
}
