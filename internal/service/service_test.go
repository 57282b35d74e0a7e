package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/listing"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/rentalwise/messaging/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeDirectory struct {
	owners map[uuid.UUID]string
}

func (d *fakeDirectory) OwnerOf(_ context.Context, listingID uuid.UUID) (string, error) {
	owner, ok := d.owners[listingID]
	if !ok {
		return "", listing.ErrUnknownListing
	}
	return owner, nil
}

type notification struct {
	msg        *model.Message
	recipients []string
}

type fakeNotifier struct {
	calls []notification
}

func (n *fakeNotifier) MessageCreated(msg *model.Message, recipients []string) {
	n.calls = append(n.calls, notification{msg: msg, recipients: recipients})
}

type fixture struct {
	convSvc   ConversationService
	msgSvc    MessageService
	msgRepo   repository.MessageRepository
	notifier  *fakeNotifier
	directory *fakeDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.Attachment{},
		&model.MessageRead{},
	))

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	directory := &fakeDirectory{owners: map[uuid.UUID]string{}}
	notifier := &fakeNotifier{}
	return &fixture{
		convSvc:   NewConversationService(convRepo, msgRepo, directory),
		msgSvc:    NewMessageService(convRepo, msgRepo, notifier),
		msgRepo:   msgRepo,
		notifier:  notifier,
		directory: directory,
	}
}

// addListing registers a listing with its landlord in the fake catalog.
func (f *fixture) addListing(landlordID string) uuid.UUID {
	id := uuid.New()
	f.directory.owners[id] = landlordID
	return id
}
