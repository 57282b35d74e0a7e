package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a thread between a tenant and a landlord, optionally
// scoped to one listing. LandlordID/TenantID are denormalized from the
// participant rows so the one-live-conversation-per-(listing, tenant)
// rule can be enforced by a unique index.
//
// Active is 1 while the conversation is live and NULL once archived;
// NULL never collides inside a unique index, so archived rows drop out
// of the constraint on both MySQL and SQLite.
type Conversation struct {
	ID           uuid.UUID     `gorm:"type:char(36);primaryKey" json:"id"`
	ListingID    *uuid.UUID    `gorm:"type:char(36);uniqueIndex:uniq_listing_tenant_active" json:"listingId,omitempty"`
	LandlordID   string        `gorm:"column:landlord_id;size:128;index" json:"landlordId"`
	TenantID     string        `gorm:"column:tenant_id;size:128;uniqueIndex:uniq_listing_tenant_active;index" json:"tenantId"`
	Active       *uint8        `gorm:"uniqueIndex:uniq_listing_tenant_active" json:"-"`
	IsArchived   bool          `gorm:"not null;default:false" json:"isArchived"`
	CreatedAtUtc time.Time     `gorm:"not null;index" json:"createdAtUtc"`
	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ActiveParticipant reports whether uid currently belongs to the
// conversation (joined and not left).
func (c *Conversation) ActiveParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p.UserID == uid && p.LeftAtUtc == nil {
			return true
		}
	}
	return false
}
