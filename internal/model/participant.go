package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
	RoleAdmin    = "admin"
)

// Participant is a user's membership in a conversation. Rows are never
// deleted; leaving sets LeftAtUtc so message attribution survives.
type Participant struct {
	ID             uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID uuid.UUID  `gorm:"type:char(36);not null;uniqueIndex:uniq_conversation_user" json:"conversationId"`
	UserID         string     `gorm:"column:user_id;size:128;not null;uniqueIndex:uniq_conversation_user;index" json:"userId"`
	Role           string     `gorm:"size:16;not null" json:"role"`
	JoinedAtUtc    time.Time  `gorm:"not null" json:"joinedAtUtc"`
	LeftAtUtc      *time.Time `json:"leftAtUtc,omitempty"`
}

func (Participant) TableName() string {
	return "conversation_participants"
}

func ValidRole(role string) bool {
	return role == RoleLandlord || role == RoleTenant || role == RoleAdmin
}
