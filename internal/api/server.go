package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/callgate/internal/api/middleware"
	"github.com/flowpbx/callgate/internal/callcontrol"
	"github.com/flowpbx/callgate/internal/config"
	"github.com/flowpbx/callgate/internal/directory"
	"github.com/flowpbx/callgate/internal/gatekeeper"
	"github.com/flowpbx/callgate/internal/metrics"
	"github.com/flowpbx/callgate/internal/phone"
	"github.com/flowpbx/callgate/internal/voicetoken"
	"github.com/flowpbx/callgate/internal/webhook"
)

// ContactDirectory is the part of the contact directory the mobile client
// endpoints mutate.
type ContactDirectory interface {
	UpsertBatch(ctx context.Context, ownerUserID string, entries []directory.SyncEntry) (directory.SyncResult, error)
	DeleteAllForOwner(ctx context.Context, ownerUserID string) (int, error)
}

// TokenIssuer mints voice access tokens.
type TokenIssuer interface {
	Issue(ownerUserID string) (*voicetoken.Credential, error)
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config        *config.Config
	Engine        *gatekeeper.Engine
	Directory     ContactDirectory
	Issuer        TokenIssuer
	Metrics       *metrics.Recorder // a private recorder is created when nil
	SessionSecret []byte
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router        *chi.Mux
	cfg           *config.Config
	engine        *gatekeeper.Engine
	directory     ContactDirectory
	issuer        TokenIssuer
	metrics       *metrics.Recorder
	webhookAuth   *webhook.Authenticator
	signatures    *webhook.SignatureValidator
	bridge        *callcontrol.Bridge
	limiter       *middleware.IPRateLimiter
	sessionSecret []byte
}

// NewServer creates the HTTP handler with all routes mounted. Close must be
// called to release the rate limiter.
func NewServer(deps Deps) *Server {
	cfg := deps.Config
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	s := &Server{
		router:        chi.NewRouter(),
		cfg:           cfg,
		engine:        deps.Engine,
		directory:     deps.Directory,
		issuer:        deps.Issuer,
		metrics:       rec,
		webhookAuth:   webhook.NewAuthenticator(cfg.WebhookSecret, cfg.WebhookAuthBypass),
		signatures:    webhook.NewSignatureValidator(cfg.TwilioAuthToken, cfg.PublicBaseURL, cfg.WebhookAuthBypass),
		bridge:        callcontrol.NewBridge(cfg.ClientIdentity, cfg.DialTimeout, phone.NewNormalizer(cfg.DefaultCountryCode)),
		limiter:       middleware.NewIPRateLimiter(middleware.ClientRateLimitConfig()),
		sessionSecret: deps.SessionSecret,
	}

	if cfg.WebhookSecret == "" && !cfg.WebhookAuthBypass {
		slog.Warn("no webhook-secret configured, all screening platform webhooks will be rejected")
	}
	if cfg.TwilioAuthToken == "" && !cfg.WebhookAuthBypass {
		slog.Warn("no twilio-auth-token configured, all bridge webhooks will be rejected")
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(strings.HasPrefix(s.cfg.PublicBaseURL, "https://")))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Screening platform webhooks. Never rate limited: throttling here
	// drops live calls.
	r.Route("/gatekeeper", func(r chi.Router) {
		r.Use(s.webhookAuth.Require(s.observeRejection("gatekeeper")))
		r.Post("/route", s.handleRoute)
		r.Post("/screen-result", s.handleScreenResult)
	})

	// Bridge platform webhook. Panics still answer with valid markup.
	r.With(
		middleware.RecoverWith(writeFallbackTwiML),
		s.signatures.Require(s.observeRejection("bridge")),
	).Post("/bridge/voice", s.handleBridgeVoice)

	// Mobile client endpoints.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.limiter))
		r.Use(middleware.RequireOwnerSession(s.sessionSecret))
		r.Get("/bridge/token", s.handleVoiceToken)
		r.Post("/contacts/sync", s.handleContactSync)
		r.Delete("/contacts", s.handleContactDelete)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	slog.Info("api routes mounted")
}

func (s *Server) observeRejection(route string) func(*http.Request) {
	return func(*http.Request) {
		s.metrics.ObserveWebhookAuthFailure(route)
	}
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
