package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/rentalwise/messaging/internal/repository"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Notifier receives each message exactly once after it has been
// persisted. Implementations must not block and must never fail the
// append: delivery is best effort on top of the durability boundary.
type Notifier interface {
	MessageCreated(msg *model.Message, recipients []string)
}

type AttachmentInput struct {
	FileName    string `json:"fileName" validate:"required,max=256"`
	ContentType string `json:"contentType" validate:"required,max=128"`
	URL         string `json:"url" validate:"required,max=1024,url"`
	SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
}

type AppendInput struct {
	Body        string            `json:"body"`
	ReplyTo     *uuid.UUID        `json:"replyToMessageId"`
	ClientKey   *string           `json:"clientKey" validate:"omitempty,max=64"`
	Attachments []AttachmentInput `json:"attachments" validate:"max=10,dive"`
}

type MessageService interface {
	Append(ctx context.Context, convID uuid.UUID, senderID string, in AppendInput) (*model.Message, error)
	List(ctx context.Context, convID uuid.UUID, callerID string, sinceID *uuid.UUID) ([]model.Message, error)
	Delete(ctx context.Context, convID, msgID uuid.UUID, callerID string) error
}

type messageService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	notifier Notifier
}

func NewMessageService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, notifier Notifier) MessageService {
	return &messageService{convRepo: convRepo, msgRepo: msgRepo, notifier: notifier}
}

func (s *messageService) Append(ctx context.Context, convID uuid.UUID, senderID string, in AppendInput) (*model.Message, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.ActiveParticipant(senderID) {
		return nil, ErrForbidden
	}
	if err := s.validate(ctx, convID, in); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:               uuid.New(),
		ConversationID:   convID,
		SenderID:         senderID,
		ClientKey:        in.ClientKey,
		Body:             strings.TrimSpace(in.Body),
		ReplyToMessageID: in.ReplyTo,
	}
	for i, a := range in.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          uuid.New(),
			Position:    i,
			FileName:    a.FileName,
			ContentType: a.ContentType,
			URL:         a.URL,
			SizeBytes:   a.SizeBytes,
		})
	}

	msg, created, err := s.msgRepo.Append(ctx, msg)
	if err != nil {
		return nil, err
	}
	// Fan-out only after a successful commit, and only once per message:
	// an idempotent replay returns the original row without re-notifying.
	if created && s.notifier != nil {
		s.notifier.MessageCreated(msg, activeUserIDs(cv))
	}
	return msg, nil
}

func (s *messageService) validate(ctx context.Context, convID uuid.UUID, in AppendInput) error {
	body := strings.TrimSpace(in.Body)
	if body == "" && len(in.Attachments) == 0 {
		return validationErr("message body is empty")
	}
	if n := utf8.RuneCountInString(body); n > model.MaxBodyLen {
		return validationErr("message body exceeds %d characters", model.MaxBodyLen)
	}
	if len(in.Attachments) > model.MaxAttachments {
		return validationErr("at most %d attachments per message", model.MaxAttachments)
	}
	for _, a := range in.Attachments {
		if a.FileName == "" || utf8.RuneCountInString(a.FileName) > model.MaxFileNameLen {
			return validationErr("invalid attachment file name")
		}
		if a.ContentType == "" || len(a.ContentType) > model.MaxContentTypeLen {
			return validationErr("invalid attachment content type")
		}
		if a.URL == "" || len(a.URL) > model.MaxURLLen {
			return validationErr("invalid attachment url")
		}
		if a.SizeBytes <= 0 || a.SizeBytes > model.MaxAttachmentBytes {
			return validationErr("invalid attachment size")
		}
	}
	if in.ReplyTo != nil {
		if _, err := s.msgRepo.Find(ctx, convID, *in.ReplyTo); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr("replied-to message is not in this conversation")
			}
			return err
		}
	}
	return nil
}

func (s *messageService) List(ctx context.Context, convID uuid.UUID, callerID string, sinceID *uuid.UUID) ([]model.Message, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.ActiveParticipant(callerID) {
		return nil, ErrForbidden
	}
	msgs, err := s.msgRepo.List(ctx, convID, sinceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msgs, nil
}

func (s *messageService) Delete(ctx context.Context, convID, msgID uuid.UUID, callerID string) error {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !cv.ActiveParticipant(callerID) {
		return ErrForbidden
	}
	msg, err := s.msgRepo.Find(ctx, convID, msgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if msg.SenderID != callerID {
		return ErrForbidden
	}
	return s.msgRepo.SoftDelete(ctx, convID, msgID)
}

func activeUserIDs(cv *model.Conversation) []string {
	return lo.FilterMap(cv.Participants, func(p model.Participant, _ int) (string, bool) {
		return p.UserID, p.LeftAtUtc == nil
	})
}
