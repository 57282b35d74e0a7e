package model

import "github.com/google/uuid"

// Attachment references a file already uploaded to the media host. Rows
// are created atomically with their owning message and never mutated.
type Attachment struct {
	ID          uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	MessageID   uuid.UUID `gorm:"type:char(36);not null;index" json:"messageId"`
	Position    int       `gorm:"not null" json:"position"`
	FileName    string    `gorm:"size:256;not null" json:"fileName"`
	ContentType string    `gorm:"size:128;not null" json:"contentType"`
	URL         string    `gorm:"column:url;size:1024;not null" json:"url"`
	SizeBytes   int64     `gorm:"not null" json:"sizeBytes"`
}

func (Attachment) TableName() string {
	return "message_attachments"
}
