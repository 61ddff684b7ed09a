package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/riskdesk/backend/internal/services"
)

type contextKey string

const ownerKey contextKey = "ownerID"

var ErrInvalidToken = errors.New("invalid token")

// Authenticator validates HS256 bearer tokens and puts the owner id on the
// request context.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		ownerID, err := a.ParseToken(parts[1])
		if err != nil {
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
	})
}

// ParseToken returns the owner id carried in the owner_id claim.
func (a *Authenticator) ParseToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	var ownerID int64
	switch v := claims["owner_id"].(type) {
	case float64:
		ownerID = int64(v)
	case string:
		ownerID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: owner_id %q", ErrInvalidToken, v)
		}
	default:
		return 0, fmt.Errorf("%w: missing owner_id", ErrInvalidToken)
	}
	if ownerID <= 0 {
		return 0, fmt.Errorf("%w: owner_id %d", ErrInvalidToken, ownerID)
	}
	return ownerID, nil
}

// IssueToken signs a token for the owner. Used by tooling and tests.
func (a *Authenticator) IssueToken(ownerID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"owner_id": ownerID,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

func WithOwner(ctx context.Context, ownerID int64) context.Context {
	return context.WithValue(ctx, ownerKey, ownerID)
}

// OwnerFromContext returns the authenticated owner, if any.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	ownerID, ok := ctx.Value(ownerKey).(int64)
	return ownerID, ok && ownerID > 0
}
