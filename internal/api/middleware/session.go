package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type sessionContextKey string

const ownerKey sessionContextKey = "owner_user_id"

// sessionIssuer is the iss claim of owner session tokens.
const sessionIssuer = "callgate"

// DefaultSessionTTL is the lifetime of an owner session token (30 days).
const DefaultSessionTTL = 30 * 24 * time.Hour

// OwnerClaims holds the JWT claims of an owner session token.
type OwnerClaims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// GenerateSessionToken creates a signed owner session token.
func GenerateSessionToken(secret []byte, owner string, ttl time.Duration) (string, time.Time, error) {
	if owner == "" {
		return "", time.Time{}, errors.New("owner is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := OwnerClaims{
		Owner: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    sessionIssuer,
			Subject:   owner,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseSessionToken verifies a session token and returns its owner.
func ParseSessionToken(secret []byte, tokenString string) (string, error) {
	claims := &OwnerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrSignatureInvalid
	}
	if claims.Issuer != sessionIssuer {
		return "", fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}

	owner := claims.Owner
	if owner == "" {
		owner = claims.Subject
	}
	if owner == "" {
		return "", errors.New("token has no owner")
	}
	return owner, nil
}

// RequireOwnerSession returns middleware that validates owner session bearer
// tokens for mobile client endpoints. On success it stores the owner user ID
// in the request context.
func RequireOwnerSession(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			owner, err := ParseSessionToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				slog.Debug("owner session: invalid token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithOwner(r.Context(), owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithOwner returns a copy of ctx carrying the authenticated owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext retrieves the authenticated owner user ID from the
// request context. Returns "" if not set.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}
