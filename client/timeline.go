package client

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EntryState int

const (
	// StateConfirmed entries carry a canonical server message.
	StateConfirmed EntryState = iota
	// StatePending entries are optimistic: shown before the server
	// acknowledged the send.
	StatePending
	// StateFailed entries are sends that errored; they stay visible
	// until retried or discarded, never silently removed.
	StateFailed
)

type Entry struct {
	Message Message
	State   EntryState
	// TempID is the client-generated id for locally staged entries. It
	// doubles as the idempotency key on the wire, so a retry cannot
	// create a second server-side message.
	TempID string
	// Attachments holds the staged inputs so a retry resends the exact
	// payload of the original attempt.
	Attachments []AttachmentInput
}

// Timeline is the per-conversation view: one ordered, de-duplicated
// message list fed by REST history, live hub events, and local
// optimistic sends. All mutation happens under one mutex so the
// visible list never exposes a partial update.
type Timeline struct {
	conversationID string
	log            *slog.Logger

	mu      sync.Mutex
	entries []Entry
}

func NewTimeline(conversationID string, log *slog.Logger) *Timeline {
	if log == nil {
		log = slog.Default()
	}
	return &Timeline{conversationID: conversationID, log: log}
}

func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// ApplyHistory merges a REST-fetched batch. Messages already present
// (delivered live before the fetch returned) are replaced in place.
func (t *Timeline) ApplyHistory(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.merge(m)
	}
}

// ApplyEvent merges one live hub event. Duplicates merge idempotently
// and unexpected shapes are logged and dropped, never raised.
func (t *Timeline) ApplyEvent(ev Event) {
	if ev.Type != EventMessageCreated || ev.Message == nil {
		t.log.Debug("dropping unknown event", "type", ev.Type)
		return
	}
	if ev.Message.ConversationID != t.conversationID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.merge(*ev.Message)
}

// StageSend inserts an optimistic entry for a message whose append call
// is in flight.
func (t *Timeline) StageSend(tempID, senderID, body string, attachments []AttachmentInput) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		State:       StatePending,
		TempID:      tempID,
		Attachments: attachments,
		Message: Message{
			ID:             tempID,
			ConversationID: t.conversationID,
			SenderID:       senderID,
			Body:           body,
			CreatedAtUtc:   time.Now().UTC(),
			Attachments:    previewAttachments(attachments),
		},
	})
}

// previewAttachments shapes staged inputs for display; the server
// assigns ids and positions on confirmation.
func previewAttachments(in []AttachmentInput) []Attachment {
	var out []Attachment
	for _, a := range in {
		out = append(out, Attachment{
			FileName:    a.FileName,
			ContentType: a.ContentType,
			URL:         a.URL,
			SizeBytes:   a.SizeBytes,
		})
	}
	return out
}

// ConfirmSend replaces the staged entry with the canonical message. If
// the live event for the same message already arrived, the two collapse
// into one entry keyed by the canonical id.
func (t *Timeline) ConfirmSend(tempID string, m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].TempID == tempID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.merge(m)
}

// FailSend marks a staged entry as failed so the caller can surface a
// retry affordance.
func (t *Timeline) FailSend(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].TempID == tempID && t.entries[i].State == StatePending {
			t.entries[i].State = StateFailed
			return
		}
	}
}

// RestageSend flips a failed entry back to pending ahead of a retry.
// It returns the staged body and attachments and whether the entry was
// found.
func (t *Timeline) RestageSend(tempID string) (string, []AttachmentInput, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].TempID == tempID && t.entries[i].State == StateFailed {
			t.entries[i].State = StatePending
			return t.entries[i].Message.Body, t.entries[i].Attachments, true
		}
	}
	return "", nil, false
}

// Snapshot returns a copy of the visible list in display order.
func (t *Timeline) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// LastKnownID returns the id of the newest confirmed message, the
// cursor for a reconnect backfill. Empty when nothing is confirmed.
func (t *Timeline) LastKnownID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].State == StateConfirmed {
			return t.entries[i].Message.ID
		}
	}
	return ""
}

// merge inserts or replaces by canonical id and restores display
// order. Callers hold t.mu.
func (t *Timeline) merge(m Message) {
	for i := range t.entries {
		if t.entries[i].State == StateConfirmed && t.entries[i].Message.ID == m.ID {
			t.entries[i].Message = m
			return
		}
	}
	t.entries = append(t.entries, Entry{State: StateConfirmed, Message: m})
	t.reorder()
}

// reorder keeps confirmed entries in (createdAtUtc, id) order with
// staged entries after them, preserving their staging order.
func (t *Timeline) reorder() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if (a.State == StateConfirmed) != (b.State == StateConfirmed) {
			return a.State == StateConfirmed
		}
		if a.State != StateConfirmed {
			return false
		}
		if !a.Message.CreatedAtUtc.Equal(b.Message.CreatedAtUtc) {
			return a.Message.CreatedAtUtc.Before(b.Message.CreatedAtUtc)
		}
		return a.Message.ID < b.Message.ID
	})
}
