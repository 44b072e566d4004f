// Package voicetoken mints the short-lived access tokens a mobile voice
// client presents to the telephony platform in order to receive bridged
// calls. Tokens are never stored; the platform enforces signature and expiry.
package voicetoken

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = time.Hour

// MaxTTL is the longest lifetime the platform accepts.
const MaxTTL = 24 * time.Hour

// contentType marks the JWT as a platform access token.
const contentType = "twilio-fpa;v=1"

// ErrNotConfigured is returned by Issue when signing credentials are missing.
var ErrNotConfigured = errors.New("voicetoken: signing credentials not configured")

// Config holds the platform account and signing key material.
type Config struct {
	AccountSID        string
	APIKeySID         string
	APIKeySecret      string
	TwiMLAppSID       string // optional, enables outgoing calls from the client
	PushCredentialSID string // optional, enables push-woken incoming calls
	Identity          string // client identity the bridge webhook dials
	TTL               time.Duration
}

// Credential is a freshly minted access token.
type Credential struct {
	OwnerUserID string    `json:"-"`
	Identity    string    `json:"identity"`
	Token       string    `json:"token"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type incomingGrant struct {
	Allow bool `json:"allow"`
}

type outgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}

type voiceGrant struct {
	Incoming          incomingGrant  `json:"incoming"`
	Outgoing          *outgoingGrant `json:"outgoing,omitempty"`
	PushCredentialSID string         `json:"push_credential_sid,omitempty"`
}

type grants struct {
	Identity string     `json:"identity"`
	Voice    voiceGrant `json:"voice"`
}

// accessClaims is the platform's access token payload.
type accessClaims struct {
	Grants grants `json:"grants"`
	jwt.RegisteredClaims
}

// Issuer signs voice access tokens. It is immutable after construction and
// safe for concurrent use.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer creates an Issuer. A zero or negative TTL becomes DefaultTTL and
// anything above MaxTTL is clamped.
func NewIssuer(cfg Config) *Issuer {
	switch {
	case cfg.TTL <= 0:
		cfg.TTL = DefaultTTL
	case cfg.TTL > MaxTTL:
		cfg.TTL = MaxTTL
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

// Configured reports whether the issuer has everything it needs to sign.
func (i *Issuer) Configured() bool {
	return i.cfg.AccountSID != "" && i.cfg.APIKeySID != "" && i.cfg.APIKeySecret != "" && i.cfg.Identity != ""
}

// TTL returns the effective token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// Identity returns the client identity bound into every token.
func (i *Issuer) Identity() string {
	return i.cfg.Identity
}

// Issue mints a token for ownerUserID bound to the configured client
// identity. Each call yields a distinct token.
func (i *Issuer) Issue(ownerUserID string) (*Credential, error) {
	if !i.Configured() {
		return nil, ErrNotConfigured
	}

	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(i.cfg.TTL)

	vg := voiceGrant{
		Incoming:          incomingGrant{Allow: true},
		PushCredentialSID: i.cfg.PushCredentialSID,
	}
	if i.cfg.TwiMLAppSID != "" {
		vg.Outgoing = &outgoingGrant{ApplicationSID: i.cfg.TwiMLAppSID}
	}

	claims := accessClaims{
		Grants: grants{
			Identity: i.cfg.Identity,
			Voice:    vg,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        i.cfg.APIKeySID + "-" + uuid.NewString(),
			Issuer:    i.cfg.APIKeySID,
			Subject:   i.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = contentType

	signed, err := token.SignedString([]byte(i.cfg.APIKeySecret))
	if err != nil {
		return nil, fmt.Errorf("signing voice token: %w", err)
	}

	slog.Debug("voicetoken: issued",
		"owner_user_id", ownerUserID,
		"identity", i.cfg.Identity,
		"expires_at", expiresAt,
	)

	return &Credential{
		OwnerUserID: ownerUserID,
		Identity:    i.cfg.Identity,
		Token:       signed,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}
