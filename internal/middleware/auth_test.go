package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	userID string
	err    error
}

func (f *fakeValidator) ValidateJWT(string) (string, error) {
	return f.userID, f.err
}

func TestAuthMiddleware_InjectsUserID(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserID(r.Context())
	})
	handler := AuthMiddleware(&fakeValidator{userID: "user-1"})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	handler := AuthMiddleware(&fakeValidator{userID: "user-1"})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	handler := AuthMiddleware(&fakeValidator{userID: "user-1"})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RejectedToken(t *testing.T) {
	handler := AuthMiddleware(&fakeValidator{err: fmt.Errorf("expired")})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateWebSocketToken_EmptyToken(t *testing.T) {
	_, err := ValidateWebSocketToken("", &fakeValidator{userID: "user-1"})
	require.Error(t, err)
}

func TestValidateWebSocketToken_Valid(t *testing.T) {
	userID, err := ValidateWebSocketToken("some-token", &fakeValidator{userID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}
