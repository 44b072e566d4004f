package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader is the bridge platform's request signature header.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks bridge-platform request signatures: base64
// HMAC-SHA1 over the full public URL followed by every POST parameter name
// and value, sorted by name, keyed with the account auth token.
type SignatureValidator struct {
	authToken []byte
	baseURL   string
	bypass    bool
}

// NewSignatureValidator creates a validator. baseURL is the externally
// visible scheme and host the platform was configured with (for example
// "https://gate.example.com"); the request URI is appended to it. When
// baseURL is empty it is derived from each request. An empty authToken
// rejects every request unless bypass is set.
func NewSignatureValidator(authToken, baseURL string, bypass bool) *SignatureValidator {
	return &SignatureValidator{
		authToken: []byte(authToken),
		baseURL:   strings.TrimRight(baseURL, "/"),
		bypass:    bypass,
	}
}

// Sign computes the expected signature for fullURL and params.
func (v *SignatureValidator) Sign(fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			b.WriteString(k)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate reports whether r carries a valid signature. It parses the
// request form; handlers can read r.PostForm afterwards.
func (v *SignatureValidator) Validate(r *http.Request) bool {
	if v.bypass {
		return true
	}
	if len(v.authToken) == 0 {
		return false
	}

	got := r.Header.Get(SignatureHeader)
	if got == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	base := v.baseURL
	if base == "" {
		base = RequestBaseURL(r)
	}
	want := v.Sign(base+r.URL.RequestURI(), r.PostForm)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Require returns middleware rejecting requests with a missing or invalid
// signature with 401 and an empty body.
func (v *SignatureValidator) Require(onReject func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Validate(r) {
				slog.Warn("webhook: signature validation failed",
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

// RequestBaseURL reconstructs the scheme and host a request was addressed
// to, honouring X-Forwarded-Proto and X-Forwarded-Host from a reverse proxy.
func RequestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}
