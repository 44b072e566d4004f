package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowpbx/callgate/internal/phone"
)

// Config holds all runtime configuration for the callgate server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	DatabaseURL   string // Postgres DSN; the SQLite store under DataDir is used when empty
	RedisURL      string // lookup cache; an in-process cache is used when empty
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
	PublicBaseURL string // externally visible scheme://host, used for callbacks and signatures

	WebhookSecret     string // shared secret expected from the screening platform
	WebhookAuthBypass bool   // local development only; disables all webhook authentication

	ForwardingNumber   string // bridging number dialed for transfer verdicts
	ClientIdentity     string // voice client identity dialed by the bridge webhook
	DefaultCountryCode string
	LookupTimeout      time.Duration
	LookupCacheTTL     time.Duration

	TwilioAccountSID        string
	TwilioAPIKeySID         string
	TwilioAPIKeySecret      string
	TwilioTwiMLAppSID       string
	TwilioPushCredentialSID string
	TwilioAuthToken         string // validates X-Twilio-Signature on the bridge webhook
	VoiceTokenTTL           time.Duration
	DialTimeout             time.Duration

	SessionSecret string // hex-encoded 32-byte secret for owner session JWTs

	AssistantPrompt       string // overrides the built-in screening prompt
	AssistantFirstMessage string
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultClientIdentity = "owner"
	defaultCountryCode    = phone.DefaultCountryCode
	defaultLookupTimeout  = 800 * time.Millisecond
	defaultLookupCacheTTL = 5 * time.Minute
	defaultVoiceTokenTTL  = time.Hour
	defaultDialTimeout    = 30 * time.Second
	maxVoiceTokenTTL      = 24 * time.Hour
	minDialTimeout        = 5 * time.Second
	maxDialTimeout        = 600 * time.Second
	sessionSecretBytes    = 32
	maxCountryCodeDigits  = 3
	envPrefix             = "CALLGATE_"
)

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callgate", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the SQLite contact store")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL DSN for the contact store (SQLite is used if empty)")
	fs.StringVar(&cfg.RedisURL, "redis-url", "", "Redis URL for the contact lookup cache (in-memory if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", "", "externally visible base URL (e.g., https://gate.example.com)")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "shared secret for screening platform webhooks")
	fs.BoolVar(&cfg.WebhookAuthBypass, "webhook-auth-bypass", false, "disable webhook authentication (local development only)")
	fs.StringVar(&cfg.ForwardingNumber, "forwarding-number", "", "bridging number transfers are sent to")
	fs.StringVar(&cfg.ClientIdentity, "client-identity", defaultClientIdentity, "voice client identity the bridge webhook dials")
	fs.StringVar(&cfg.DefaultCountryCode, "default-country-code", defaultCountryCode, "country code for 10-digit national numbers")
	fs.DurationVar(&cfg.LookupTimeout, "lookup-timeout", defaultLookupTimeout, "contact lookup timeout during routing")
	fs.DurationVar(&cfg.LookupCacheTTL, "lookup-cache-ttl", defaultLookupCacheTTL, "how long contact lookups are cached")
	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "voice platform account SID")
	fs.StringVar(&cfg.TwilioAPIKeySID, "twilio-api-key-sid", "", "voice platform API key SID used to sign access tokens")
	fs.StringVar(&cfg.TwilioAPIKeySecret, "twilio-api-key-secret", "", "voice platform API key secret used to sign access tokens")
	fs.StringVar(&cfg.TwilioTwiMLAppSID, "twilio-twiml-app-sid", "", "TwiML application SID for outgoing client calls")
	fs.StringVar(&cfg.TwilioPushCredentialSID, "twilio-push-credential-sid", "", "push credential SID for incoming call notifications")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "voice platform auth token for webhook signature validation")
	fs.DurationVar(&cfg.VoiceTokenTTL, "voice-token-ttl", defaultVoiceTokenTTL, "voice access token lifetime (max 24h)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", defaultDialTimeout, "how long the bridge rings the client")
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "hex-encoded 32-byte secret for owner session tokens (auto-generated if empty)")
	fs.StringVar(&cfg.AssistantPrompt, "assistant-prompt", "", "screening assistant prompt (built-in prompt if empty)")
	fs.StringVar(&cfg.AssistantFirstMessage, "assistant-first-message", "", "first message the screening assistant speaks")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envName maps a flag name to its environment variable, e.g.
// "http-port" -> "CALLGATE_HTTP_PORT".
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet) error {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		env := envName(f.Name)
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			return
		}
		if setErr := f.Value.Set(val); setErr != nil {
			err = fmt.Errorf("parsing %s: %w", env, setErr)
		}
	})
	return err
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public-base-url must be an absolute http(s) URL, got %q", c.PublicBaseURL)
		}
		c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	}

	cc := strings.TrimPrefix(c.DefaultCountryCode, "+")
	if _, err := strconv.Atoi(cc); err != nil || len(cc) == 0 || len(cc) > maxCountryCodeDigits || cc[0] == '0' {
		return fmt.Errorf("default-country-code must be 1 to 3 digits, got %q", c.DefaultCountryCode)
	}
	c.DefaultCountryCode = cc

	if c.ForwardingNumber == "" {
		return fmt.Errorf("forwarding-number is required")
	}
	normalized, ok := phone.NewNormalizer(c.DefaultCountryCode).Normalize(c.ForwardingNumber)
	if !ok {
		return fmt.Errorf("forwarding-number is not a valid phone number: %q", c.ForwardingNumber)
	}
	c.ForwardingNumber = normalized

	if strings.TrimSpace(c.ClientIdentity) == "" {
		return fmt.Errorf("client-identity must not be empty")
	}

	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup-timeout must be positive, got %s", c.LookupTimeout)
	}
	if c.LookupCacheTTL < 0 {
		return fmt.Errorf("lookup-cache-ttl must not be negative, got %s", c.LookupCacheTTL)
	}
	if c.VoiceTokenTTL <= 0 || c.VoiceTokenTTL > maxVoiceTokenTTL {
		return fmt.Errorf("voice-token-ttl must be between 1s and %s, got %s", maxVoiceTokenTTL, c.VoiceTokenTTL)
	}
	if c.DialTimeout < minDialTimeout || c.DialTimeout > maxDialTimeout {
		return fmt.Errorf("dial-timeout must be between %s and %s, got %s", minDialTimeout, maxDialTimeout, c.DialTimeout)
	}

	return nil
}

// SessionSecretBytes returns the decoded 32-byte owner session secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) SessionSecretBytes() ([]byte, error) {
	if c.SessionSecret == "" {
		key := make([]byte, sessionSecretBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		c.SessionSecret = hex.EncodeToString(key)
		slog.Warn("no session-secret configured, generated ephemeral key (sessions will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding session secret: %w", err)
	}
	if len(key) != sessionSecretBytes {
		return nil, fmt.Errorf("session secret must decode to %d bytes, got %d", sessionSecretBytes, len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
