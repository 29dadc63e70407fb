package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EmbeddingRecord is the metadata row paired 1:1 with a vector stored in the
// vector index. Session/message references are nullable and orphaned (SET
// NULL) rather than cascaded: the vector itself is the durable artifact.
type EmbeddingRecord struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID *uuid.UUID `gorm:"type:uuid;column:session_id;index" json:"session_id,omitempty"`
	MessageID *uuid.UUID `gorm:"type:uuid;column:message_id;index" json:"message_id,omitempty"`

	Role       string         `gorm:"column:role" json:"role,omitempty"`
	Content    string         `gorm:"column:content;type:text;not null" json:"content"`
	Importance int            `gorm:"column:importance;not null;default:0" json:"importance"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (EmbeddingRecord) TableName() string { return "embedding_record" }

func (r *EmbeddingRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
