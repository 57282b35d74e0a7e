package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/model"
	"gorm.io/gorm"
)

// appendRetries bounds how often Append re-runs the sequence allocation
// after losing the unique-index race to a concurrent sender.
const appendRetries = 5

var ErrAppendContention = errors.New("append retries exhausted")

type MessageRepository interface {
	// Append persists msg (with attachments, as one transaction) at the
	// tail of its conversation. The store assigns Seq and CreatedAtUtc;
	// CreatedAtUtc never decreases in Seq order. When msg.ClientKey
	// matches an already-persisted message the existing row is returned
	// and the second return value is false.
	Append(ctx context.Context, msg *model.Message) (*model.Message, bool, error)
	// List returns the conversation's messages oldest to newest. With a
	// non-nil sinceID only messages strictly after it are returned;
	// an unknown sinceID yields gorm.ErrRecordNotFound.
	List(ctx context.Context, convID uuid.UUID, sinceID *uuid.UUID) ([]model.Message, error)
	Find(ctx context.Context, convID, msgID uuid.UUID) (*model.Message, error)
	SoftDelete(ctx context.Context, convID, msgID uuid.UUID) error
	SetDB(db *gorm.DB)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) SetDB(db *gorm.DB) {
	r.db = db
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if r.db == nil {
		return nil, false, ErrDBNotReady
	}
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last model.Message
			err := tx.Select("seq", "created_at_utc").
				Where("conversation_id = ?", msg.ConversationID).
				Order("seq DESC").
				Take(&last).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			msg.Seq = last.Seq + 1
			now := time.Now().UTC()
			if now.Before(last.CreatedAtUtc) {
				// Keep server timestamps non-decreasing even if the wall
				// clock stepped backwards between appends.
				now = last.CreatedAtUtc
			}
			msg.CreatedAtUtc = now
			return tx.Create(msg).Error
		})
		if err == nil {
			return msg, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		if msg.ClientKey != nil {
			existing, ferr := r.findByClientKey(ctx, msg.ConversationID, *msg.ClientKey)
			if ferr == nil {
				return existing, false, nil
			}
			if !errors.Is(ferr, gorm.ErrRecordNotFound) {
				return nil, false, ferr
			}
		}
		// Duplicate seq: a concurrent sender claimed the slot first.
	}
	return nil, false, ErrAppendContention
}

func (r *messageRepository) findByClientKey(ctx context.Context, convID uuid.UUID, key string) (*model.Message, error) {
	var existing model.Message
	if err := r.db.WithContext(ctx).
		Preload("Attachments", attachmentOrder).
		Where("conversation_id = ? AND client_key = ?", convID, key).
		Take(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *messageRepository) List(ctx context.Context, convID uuid.UUID, sinceID *uuid.UUID) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).
		Preload("Attachments", attachmentOrder).
		Where("conversation_id = ?", convID).
		Order("seq ASC")
	if sinceID != nil {
		var since model.Message
		if err := r.db.WithContext(ctx).Select("seq").
			Where("conversation_id = ? AND id = ?", convID, *sinceID).
			Take(&since).Error; err != nil {
			return nil, err
		}
		q = q.Where("seq > ?", since.Seq)
	}
	var msgs []model.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) Find(ctx context.Context, convID, msgID uuid.UUID) (*model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msg model.Message
	if err := r.db.WithContext(ctx).
		Preload("Attachments", attachmentOrder).
		Where("conversation_id = ? AND id = ?", convID, msgID).
		Take(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDelete flips the deleted flag and redacts the body. The row stays
// in place so ordering and reply links survive.
func (r *messageRepository) SoftDelete(ctx context.Context, convID, msgID uuid.UUID) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND id = ?", convID, msgID).
		Updates(map[string]interface{}{"is_deleted": true, "body": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func attachmentOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
