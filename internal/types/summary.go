package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationSummary is one versioned snapshot of the progressive summary.
// LastMessageID is the watermark: the last message folded into this summary.
// It is nil only for an empty version-1 summary. Rows are append-only; the
// highest version is the one the context assembler consults.
type ConversationSummary struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_summary_session_version,unique,priority:1" json:"session_id"`

	Version int    `gorm:"column:version;not null;index:idx_summary_session_version,unique,priority:2" json:"version"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`

	LastMessageID *uuid.UUID `gorm:"type:uuid;column:last_message_id;index" json:"last_message_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (ConversationSummary) TableName() string { return "conversation_summary" }

func (s *ConversationSummary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
