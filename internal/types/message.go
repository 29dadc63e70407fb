package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one immutable turn in the append-only log. Ordering within a
// session is defined by Seq; CreatedAt is display-only.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_session_seq,unique,priority:1" json:"session_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_message_session_seq,unique,priority:2" json:"seq"`

	Role    string `gorm:"column:role;not null;index" json:"role"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`
	Tokens  *int   `gorm:"column:tokens" json:"tokens,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Message) TableName() string { return "message" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
