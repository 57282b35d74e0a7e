package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, uid, role string, ttl time.Duration) string {
	t.Helper()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newEchoWithAuth(t *testing.T) *echo.Echo {
	t.Helper()
	mw, err := NewAuthMiddleware(testSecret)
	require.NoError(t, err)
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"uid":  c.Get("uid").(string),
			"role": c.Get("role").(string),
		})
	}, mw.RequireAuth)
	return e
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	e := newEchoWithAuth(t)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "tenant-1", "tenant", time.Hour))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant-1")
	assert.Contains(t, rec.Body.String(), "tenant")
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	e := newEchoWithAuth(t)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsWrongSignature(t *testing.T) {
	e := newEchoWithAuth(t)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "other-secret", "tenant-1", "tenant", time.Hour))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	e := newEchoWithAuth(t)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "tenant-1", "tenant", -time.Minute))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyRejectsEmptySubject(t *testing.T) {
	mw, err := NewAuthMiddleware(testSecret)
	require.NoError(t, err)
	_, err = mw.Verify(mintToken(t, testSecret, "", "tenant", time.Hour))
	assert.Error(t, err)
}
