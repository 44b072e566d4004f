// Package webhook verifies that inbound webhooks come from the configured
// call platforms.
package webhook

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"regexp"
)

// SecretHeader carries the shared secret in the platform's original
// convention. http.Header canonicalizes the name, so any casing matches.
const SecretHeader = "X-Vapi-Secret"

var bearerRe = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// Authenticator checks the shared webhook secret. Two transports are
// accepted, in order: the platform secret header, then an Authorization
// bearer token. Both stay supported for existing platform configurations.
type Authenticator struct {
	secret []byte
	bypass bool
}

// NewAuthenticator creates an Authenticator for secret. bypass disables the
// check entirely and is meant for local development only. An empty secret
// never authenticates anything.
func NewAuthenticator(secret string, bypass bool) *Authenticator {
	if bypass {
		slog.Warn("webhook: authentication bypass enabled, do not use in production")
	}
	return &Authenticator{secret: []byte(secret), bypass: bypass}
}

// Authenticate reports whether h carries the configured secret.
func (a *Authenticator) Authenticate(h http.Header) bool {
	if a.bypass {
		return true
	}
	if len(a.secret) == 0 {
		return false
	}

	if v := h.Get(SecretHeader); v != "" && a.matches(v) {
		return true
	}

	if m := bearerRe.FindStringSubmatch(h.Get("Authorization")); m != nil && a.matches(m[1]) {
		return true
	}

	return false
}

func (a *Authenticator) matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), a.secret) == 1
}

// Require returns middleware that rejects unauthenticated requests with
// 401 and an empty body. onReject, if non-nil, is called for each rejection.
func (a *Authenticator) Require(onReject func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Authenticate(r.Header) {
				slog.Warn("webhook: authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				if onReject != nil {
					onReject(r)
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
