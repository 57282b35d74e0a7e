package model

import (
	"time"

	"github.com/google/uuid"
)

// Limits on message content. Attachment URLs point at the media host;
// the messaging core never stores file bytes.
const (
	MaxBodyLen         = 5000
	MaxAttachments     = 10
	MaxFileNameLen     = 256
	MaxContentTypeLen  = 128
	MaxURLLen          = 1024
	MaxAttachmentBytes = 25 << 20
)

// Message is one unit of conversation content. Seq is assigned by the
// store inside the append transaction and is the ordering authority for
// the conversation; CreatedAtUtc is non-decreasing in Seq order.
//
// ClientKey is the sender's idempotency key: a retry carrying the same
// key collapses onto the original row instead of creating a duplicate.
type Message struct {
	ID               uuid.UUID    `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID   uuid.UUID    `gorm:"type:char(36);not null;uniqueIndex:uniq_conversation_seq;uniqueIndex:uniq_conversation_client_key" json:"conversationId"`
	SenderID         string       `gorm:"column:sender_id;size:128;not null;index" json:"senderId"`
	Seq              uint64       `gorm:"not null;uniqueIndex:uniq_conversation_seq" json:"seq"`
	ClientKey        *string      `gorm:"size:64;uniqueIndex:uniq_conversation_client_key" json:"-"`
	Body             string       `gorm:"type:text;not null" json:"body"`
	ReplyToMessageID *uuid.UUID   `gorm:"type:char(36);index" json:"replyToMessageId,omitempty"`
	CreatedAtUtc     time.Time    `gorm:"not null;index" json:"createdAtUtc"`
	EditedAtUtc      *time.Time   `json:"editedAtUtc,omitempty"`
	IsDeleted        bool         `gorm:"not null;default:false" json:"isDeleted"`
	Attachments      []Attachment `gorm:"foreignKey:MessageID" json:"attachments"`
}

func (Message) TableName() string {
	return "messages"
}
