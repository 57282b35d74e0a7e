package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rentalwise/messaging/internal/listing"
	appmw "github.com/rentalwise/messaging/internal/middleware"
	"github.com/rentalwise/messaging/internal/model"
	"github.com/rentalwise/messaging/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

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

type apiFixture struct {
	srv       *httptest.Server
	directory *fakeDirectory
}

func newAPIFixture(t *testing.T) *apiFixture {
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

	directory := &fakeDirectory{owners: map[uuid.UUID]string{}}
	s, err := server.New(db, testSecret, directory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv := httptest.NewServer(s.Echo())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, directory: directory}
}

func (f *apiFixture) addListing(landlordID string) uuid.UUID {
	id := uuid.New()
	f.directory.owners[id] = landlordID
	return id
}

func mintToken(t *testing.T, uid, role string) string {
	t.Helper()
	claims := &appmw.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *apiFixture) startConversation(t *testing.T, token string, listingID uuid.UUID) string {
	t.Helper()
	resp, body := f.request(t, http.MethodPost, "/api/messaging/start", token,
		map[string]string{"listingId": listingID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cv struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &cv))
	return cv.ID
}

func TestStartRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.request(t, http.MethodPost, "/api/messaging/start", "",
		map[string]string{"listingId": uuid.NewString()})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStartUnknownListingIs404(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.request(t, http.MethodPost, "/api/messaging/start",
		mintToken(t, "tenant-1", model.RoleTenant),
		map[string]string{"listingId": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartIsIdempotentPerListingAndTenant(t *testing.T) {
	f := newAPIFixture(t)
	token := mintToken(t, "tenant-1", model.RoleTenant)
	listingID := f.addListing("landlord-1")

	first := f.startConversation(t, token, listingID)
	second := f.startConversation(t, token, listingID)
	assert.Equal(t, first, second)
}

func TestSendAndFetchMessages(t *testing.T) {
	f := newAPIFixture(t)
	tenantTok := mintToken(t, "tenant-1", model.RoleTenant)
	landlordTok := mintToken(t, "landlord-1", model.RoleLandlord)
	convID := f.startConversation(t, tenantTok, f.addListing("landlord-1"))

	resp, body := f.request(t, http.MethodPost, "/api/messaging/"+convID+"/messages", tenantTok,
		map[string]interface{}{"body": "Is the flat still available?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var sent struct {
		ID           string    `json:"id"`
		Body         string    `json:"body"`
		SenderID     string    `json:"senderId"`
		CreatedAtUtc time.Time `json:"createdAtUtc"`
	}
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "tenant-1", sent.SenderID)
	assert.NotEmpty(t, sent.ID)
	assert.False(t, sent.CreatedAtUtc.IsZero())

	resp, body = f.request(t, http.MethodGet, "/api/messaging/"+convID+"/messages", landlordTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "Is the flat still available?", msgs[0].Body)
}

func TestMessageEndpointsErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	tenantTok := mintToken(t, "tenant-1", model.RoleTenant)
	strangerTok := mintToken(t, "stranger", model.RoleTenant)
	convID := f.startConversation(t, tenantTok, f.addListing("landlord-1"))

	// Non-participant reads are forbidden.
	resp, _ := f.request(t, http.MethodGet, "/api/messaging/"+convID+"/messages", strangerTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown conversation is not found.
	resp, _ = f.request(t, http.MethodGet, "/api/messaging/"+uuid.NewString()+"/messages", tenantTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Oversized body is a validation failure.
	resp, _ = f.request(t, http.MethodPost, "/api/messaging/"+convID+"/messages", tenantTok,
		map[string]interface{}{"body": strings.Repeat("a", model.MaxBodyLen+1)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed ids never reach the service layer.
	resp, _ = f.request(t, http.MethodGet, "/api/messaging/not-a-uuid/messages", tenantTok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSinceIDQuery(t *testing.T) {
	f := newAPIFixture(t)
	tenantTok := mintToken(t, "tenant-1", model.RoleTenant)
	convID := f.startConversation(t, tenantTok, f.addListing("landlord-1"))

	var ids []string
	for i := 0; i < 3; i++ {
		resp, body := f.request(t, http.MethodPost, "/api/messaging/"+convID+"/messages", tenantTok,
			map[string]interface{}{"body": fmt.Sprintf("message %d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var sent struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(body, &sent))
		ids = append(ids, sent.ID)
	}

	resp, body := f.request(t, http.MethodGet,
		"/api/messaging/"+convID+"/messages?sinceId="+ids[0], tenantTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[1], msgs[0].ID)
	assert.Equal(t, ids[2], msgs[1].ID)
}

func TestArchiveEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	tenantTok := mintToken(t, "tenant-1", model.RoleTenant)
	listingID := f.addListing("landlord-1")
	convID := f.startConversation(t, tenantTok, listingID)

	resp, _ := f.request(t, http.MethodPost, "/api/messaging/"+convID+"/archive", tenantTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Archived conversations stay readable but no longer satisfy the
	// listing lookup.
	resp, _ = f.request(t, http.MethodGet, "/api/messaging/"+convID, tenantTok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.request(t, http.MethodGet,
		"/api/messaging/listing/"+listingID.String()+"/conversation", tenantTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkReadEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	tenantTok := mintToken(t, "tenant-1", model.RoleTenant)
	landlordTok := mintToken(t, "landlord-1", model.RoleLandlord)
	convID := f.startConversation(t, tenantTok, f.addListing("landlord-1"))

	resp, body := f.request(t, http.MethodPost, "/api/messaging/"+convID+"/messages", tenantTok,
		map[string]interface{}{"body": "read me"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &sent))

	resp, _ = f.request(t, http.MethodPost, "/api/messaging/"+convID+"/read", landlordTok,
		map[string]string{"messageId": sent.ID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.request(t, http.MethodPost, "/api/messaging/"+convID+"/read", landlordTok,
		map[string]string{"messageId": sent.ID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
