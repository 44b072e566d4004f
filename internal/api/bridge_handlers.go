package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowpbx/callgate/internal/api/middleware"
	"github.com/flowpbx/callgate/internal/callcontrol"
	"github.com/flowpbx/callgate/internal/voicetoken"
)

// handleBridgeVoice answers the bridge platform's voice webhook with markup
// that rings the owner's client. It always answers 200 with valid markup.
func (s *Server) handleBridgeVoice(w http.ResponseWriter, r *http.Request) {
	req, err := callcontrol.ParseBridgeRequest(r)
	if err != nil {
		slog.Warn("bridge: unparseable voice webhook, sending fallback", "error", err)
		writeFallbackTwiML(w, r)
		return
	}
	writeTwiML(w, s.bridge.Render(req))
}

// handleVoiceToken mints a voice access token for the session owner.
func (s *Server) handleVoiceToken(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	cred, err := s.issuer.Issue(owner)
	if err != nil {
		if errors.Is(err, voicetoken.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "voice tokens are not configured")
			return
		}
		slog.Error("bridge: issuing voice token", "owner", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "voice token service unavailable")
		return
	}

	s.metrics.ObserveVoiceToken()
	writeJSON(w, http.StatusOK, cred)
}
