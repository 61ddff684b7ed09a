package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := OwnerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(strconv.FormatInt(ownerID, 10)))
	})
}

func TestAuthenticator_Middleware(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	handler := auth.Middleware(ownerEcho())

	valid, err := auth.IssueToken(42, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueToken(42, -time.Hour)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret").IssueToken(42, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "42"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAuthenticator_ParseToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}

	ownerID, err := auth.ParseToken(sign(jwt.MapClaims{"owner_id": "7"}))
	require.NoError(t, err)
	assert.Equal(t, int64(7), ownerID)

	_, err = auth.ParseToken(sign(jwt.MapClaims{"user_id": 7}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ParseToken(sign(jwt.MapClaims{"owner_id": 0}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ParseToken(sign(jwt.MapClaims{"owner_id": "abc"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
