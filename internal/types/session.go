package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession is one (user, chat) conversation thread. At most one active
// session may exist per pair; enforced by a partial unique index on
// (user_key, chat_key) WHERE is_active.
type ChatSession struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserKey string    `gorm:"column:user_key;not null;index" json:"user_key"`
	ChatKey string    `gorm:"column:chat_key;not null;index" json:"chat_key"`

	IsActive bool `gorm:"column:is_active;not null;default:true;index" json:"is_active"`

	// Messages accumulated since the last summary recompute; reaching the
	// staleness threshold makes a recompute due.
	PendingSinceSummary int `gorm:"column:pending_since_summary;not null;default:0" json:"pending_since_summary"`

	// Concurrency-safe per-session sequencing: messages take seq values
	// allocated by bumping this counter in the appending transaction.
	LastSeq int64 `gorm:"column:last_seq;not null;default:0" json:"last_seq"`

	CreatedAt time.Time  `gorm:"not null;index" json:"created_at"`
	ClosedAt  *time.Time `gorm:"column:closed_at" json:"closed_at,omitempty"`
}

func (ChatSession) TableName() string { return "chat_session" }

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
