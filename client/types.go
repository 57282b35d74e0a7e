// Package client is the Go consumer of the messaging API: REST calls,
// the live hub subscription, and per-conversation timelines that
// reconcile the two streams.
package client

import "time"

const EventMessageCreated = "messageCreated"

type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

type Message struct {
	ID               string       `json:"id"`
	ConversationID   string       `json:"conversationId"`
	SenderID         string       `json:"senderId"`
	Seq              uint64       `json:"seq"`
	Body             string       `json:"body"`
	ReplyToMessageID string       `json:"replyToMessageId,omitempty"`
	CreatedAtUtc     time.Time    `json:"createdAtUtc"`
	EditedAtUtc      *time.Time   `json:"editedAtUtc,omitempty"`
	IsDeleted        bool         `json:"isDeleted"`
	Attachments      []Attachment `json:"attachments"`
}

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type Participant struct {
	UserID    string     `json:"userId"`
	Role      string     `json:"role"`
	LeftAtUtc *time.Time `json:"leftAtUtc,omitempty"`
}

type Conversation struct {
	ID           string        `json:"id"`
	ListingID    string        `json:"listingId,omitempty"`
	CreatedAtUtc string        `json:"createdAtUtc"`
	IsArchived   bool          `json:"isArchived"`
	Participants []Participant `json:"participants"`
}

type AttachmentInput struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"sizeBytes"`
}
