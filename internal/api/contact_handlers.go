package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flowpbx/callgate/internal/api/middleware"
	"github.com/flowpbx/callgate/internal/directory"
)

type contactSyncRequest struct {
	OwnerUserID string                `json:"ownerUserId"`
	Contacts    []directory.SyncEntry `json:"contacts"`
}

// handleContactSync upserts the session owner's address book into the
// allowlist. Individual bad rows are reported, not fatal.
func (s *Server) handleContactSync(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	var req contactSyncRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.OwnerUserID == "" {
		req.OwnerUserID = owner
	}
	if msg := validateIdentifier("ownerUserId", req.OwnerUserID, maxOwnerIDLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.OwnerUserID != owner {
		writeError(w, http.StatusForbidden, "ownerUserId does not match session")
		return
	}
	if len(req.Contacts) > maxSyncContacts {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d contacts per request", maxSyncContacts))
		return
	}

	result, err := s.directory.UpsertBatch(r.Context(), req.OwnerUserID, req.Contacts)
	if err != nil {
		if errors.Is(err, directory.ErrOwnerRequired) {
			writeError(w, http.StatusBadRequest, "ownerUserId is required")
			return
		}
		slog.Error("contacts: sync failed", "owner", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "contact directory unavailable")
		return
	}

	s.metrics.ObserveContactsSynced(result.Synced, result.Failed)
	slog.Info("contacts: synced",
		"owner", owner,
		"synced", result.Synced,
		"failed", result.Failed,
	)
	writeJSON(w, http.StatusOK, result)
}

type contactDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// handleContactDelete removes every allowlist entry owned by the session owner.
func (s *Server) handleContactDelete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	n, err := s.directory.DeleteAllForOwner(r.Context(), owner)
	if err != nil {
		slog.Error("contacts: delete failed", "owner", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "contact directory unavailable")
		return
	}

	slog.Info("contacts: deleted", "owner", owner, "deleted", n)
	writeJSON(w, http.StatusOK, contactDeleteResponse{Deleted: n})
}
