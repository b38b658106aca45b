package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateToken("runner-1", RoleRunner)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", claims.UserID)
	assert.Equal(t, RoleRunner, claims.Role)
	assert.Equal(t, "run-route", claims.Issuer)
}

func TestParseTokenRejectsOtherSecretAndExpired(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.GenerateToken("runner-1", RoleRunner)
	require.NoError(t, err)

	_, err = NewJWTManager("other", time.Hour).ParseToken(token)
	assert.Error(t, err)

	expired := NewJWTManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateToken("runner-1", RoleRunner)
	require.NoError(t, err)
	_, err = m.ParseToken(old)
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("runner")
	require.NoError(t, err)
	assert.Equal(t, RoleRunner, r)

	_, err = ParseRole("driver")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestAuthMiddleware(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	runnerToken, _ := m.GenerateToken("runner-1", RoleRunner)
	companionToken, _ := m.GenerateToken("watch-1", RoleCompanion)

	var seen string
	h := m.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		require.True(t, ok)
		seen = claims.UserID
		w.WriteHeader(http.StatusNoContent)
	}), RoleRunner)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + companionToken, http.StatusForbidden},
		{"ok", "Bearer " + runnerToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/routes/current", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "runner-1", seen)
}
