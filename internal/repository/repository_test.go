package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// In-memory sqlite gives every connection its own database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.Attachment{},
		&model.MessageRead{},
	))
	return db
}

func mustCreateConversation(t *testing.T, repo ConversationRepository, landlord, tenant string) *model.Conversation {
	t.Helper()
	cv, created, err := repo.FindOrCreate(context.Background(), uuid.New(), landlord, tenant)
	require.NoError(t, err)
	require.True(t, created)
	return cv
}
