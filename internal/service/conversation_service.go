package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/listing"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/rentalwise/messaging/internal/repository"
	"gorm.io/gorm"
)

type ConversationService interface {
	// StartOrGet resolves the live conversation between initiator (the
	// tenant) and the landlord of listingID, creating it on first
	// contact. Idempotent under concurrent calls for the same pair.
	StartOrGet(ctx context.Context, listingID uuid.UUID, initiatorID string) (*model.Conversation, error)
	Get(ctx context.Context, id uuid.UUID, callerID string) (*model.Conversation, error)
	GetByListing(ctx context.Context, listingID uuid.UUID, callerID string) (*model.Conversation, error)
	ListByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	Archive(ctx context.Context, id uuid.UUID, callerID string) error
	AddParticipant(ctx context.Context, id uuid.UUID, callerID, userID, role string) error
	Leave(ctx context.Context, id uuid.UUID, callerID string) error
	MarkRead(ctx context.Context, id, msgID uuid.UUID, callerID string) error
}

type conversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	listings listing.Directory
}

func NewConversationService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, listings listing.Directory) ConversationService {
	return &conversationService{convRepo: convRepo, msgRepo: msgRepo, listings: listings}
}

func (s *conversationService) StartOrGet(ctx context.Context, listingID uuid.UUID, initiatorID string) (*model.Conversation, error) {
	landlordID, err := s.listings.OwnerOf(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrUnknownListing) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if landlordID == initiatorID {
		return nil, validationErr("cannot message your own listing")
	}
	cv, _, err := s.convRepo.FindOrCreate(ctx, listingID, landlordID, initiatorID)
	return cv, err
}

func (s *conversationService) Get(ctx context.Context, id uuid.UUID, callerID string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.ActiveParticipant(callerID) {
		return nil, ErrForbidden
	}
	return cv, nil
}

func (s *conversationService) GetByListing(ctx context.Context, listingID uuid.UUID, callerID string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindActiveByListing(ctx, listingID, callerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cv, nil
}

func (s *conversationService) ListByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	return s.convRepo.FindByUser(ctx, uid)
}

func (s *conversationService) Archive(ctx context.Context, id uuid.UUID, callerID string) error {
	if _, err := s.Get(ctx, id, callerID); err != nil {
		return err
	}
	return s.convRepo.Archive(ctx, id)
}

func (s *conversationService) AddParticipant(ctx context.Context, id uuid.UUID, callerID, userID, role string) error {
	cv, err := s.Get(ctx, id, callerID)
	if err != nil {
		return err
	}
	if !model.ValidRole(role) {
		return validationErr("invalid role %q", role)
	}
	if cv.ActiveParticipant(userID) {
		return nil
	}
	return s.convRepo.AddParticipant(ctx, &model.Participant{
		ID:             uuid.New(),
		ConversationID: id,
		UserID:         userID,
		Role:           role,
		JoinedAtUtc:    time.Now().UTC(),
	})
}

func (s *conversationService) Leave(ctx context.Context, id uuid.UUID, callerID string) error {
	if _, err := s.Get(ctx, id, callerID); err != nil {
		return err
	}
	return s.convRepo.MarkLeft(ctx, id, callerID)
}

func (s *conversationService) MarkRead(ctx context.Context, id, msgID uuid.UUID, callerID string) error {
	if _, err := s.Get(ctx, id, callerID); err != nil {
		return err
	}
	if _, err := s.msgRepo.Find(ctx, id, msgID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.convRepo.MarkRead(ctx, &model.MessageRead{
		MessageID: msgID,
		UserID:    callerID,
		ReadAtUtc: time.Now().UTC(),
	})
}
