package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDBNotReady = errors.New("database not initialized")

type ConversationRepository interface {
	// FindOrCreate returns the live conversation for (listingID, tenantID)
	// or atomically creates one with both participants attached. The
	// second return value reports whether a new conversation was created.
	FindOrCreate(ctx context.Context, listingID uuid.UUID, landlordID, tenantID string) (*model.Conversation, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	FindByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	FindActiveByListing(ctx context.Context, listingID uuid.UUID, tenantID string) (*model.Conversation, error)
	Archive(ctx context.Context, id uuid.UUID) error
	AddParticipant(ctx context.Context, p *model.Participant) error
	MarkLeft(ctx context.Context, convID uuid.UUID, uid string) error
	MarkRead(ctx context.Context, read *model.MessageRead) error
	SetDB(db *gorm.DB)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) SetDB(db *gorm.DB) {
	r.db = db
}

func (r *conversationRepository) FindOrCreate(ctx context.Context, listingID uuid.UUID, landlordID, tenantID string) (*model.Conversation, bool, error) {
	if r.db == nil {
		return nil, false, ErrDBNotReady
	}
	if cv, err := r.FindActiveByListing(ctx, listingID, tenantID); err == nil {
		return cv, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	active := uint8(1)
	cv := &model.Conversation{
		ID:           uuid.New(),
		ListingID:    &listingID,
		LandlordID:   landlordID,
		TenantID:     tenantID,
		Active:       &active,
		CreatedAtUtc: now,
		Participants: []model.Participant{
			{ID: uuid.New(), UserID: tenantID, Role: model.RoleTenant, JoinedAtUtc: now},
			{ID: uuid.New(), UserID: landlordID, Role: model.RoleLandlord, JoinedAtUtc: now},
		},
	}
	err := r.db.WithContext(ctx).Create(cv).Error
	if err == nil {
		return cv, true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race: another request created the conversation between
		// our lookup and insert. Return the winner's row.
		winner, ferr := r.FindActiveByListing(ctx, listingID, tenantID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}
	return nil, false, err
}

func (r *conversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		Take(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ? AND cp.left_at_utc IS NULL", uid).
		Order("conversations.created_at_utc DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *conversationRepository) FindActiveByListing(ctx context.Context, listingID uuid.UUID, tenantID string) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("listing_id = ? AND tenant_id = ? AND active IS NOT NULL", listingID, tenantID).
		Take(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) Archive(ctx context.Context, id uuid.UUID) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_archived": true, "active": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL counts changed rows, so re-archiving an already-archived
		// conversation matches zero. Only a missing id is an error.
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&model.Conversation{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// AddParticipant inserts a membership row, or reactivates the existing
// one when the user had left the conversation earlier.
func (r *conversationRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"left_at_utc":   nil,
				"role":          p.Role,
				"joined_at_utc": p.JoinedAtUtc,
			}),
		}).
		Create(p).Error
}

func (r *conversationRepository) MarkLeft(ctx context.Context, convID uuid.UUID, uid string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at_utc IS NULL", convID, uid).
		Update("left_at_utc", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkRead upserts a read marker; re-marking an already-read message is
// a no-op, not an error.
func (r *conversationRepository) MarkRead(ctx context.Context, read *model.MessageRead) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(read).Error
}
