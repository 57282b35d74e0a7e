package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageRead marks a message as read by a user. The composite key
// gives at most one marker per (message, user); re-marking is a no-op.
type MessageRead struct {
	MessageID uuid.UUID `gorm:"type:char(36);primaryKey" json:"messageId"`
	UserID    string    `gorm:"column:user_id;size:128;primaryKey;index" json:"userId"`
	ReadAtUtc time.Time `gorm:"not null" json:"readAtUtc"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}
