package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowpbx/callgate/internal/callcontrol"
)

// maxRequestBodySize caps JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// errorResponse is the body of every JSON error: { "error": "..." }.
// Success bodies are written bare because the call platforms expect their
// own top-level shapes.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeTwiML writes call-control markup. Call-control responses are always
// 200; failures are expressed as fallback markup, not status codes.
func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", callcontrol.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write twiml response", "error", err)
	}
}

// writeFallbackTwiML answers a call-control webhook that could not be
// served normally.
func writeFallbackTwiML(w http.ResponseWriter, _ *http.Request) {
	writeTwiML(w, []byte(callcontrol.FallbackTwiML))
}

// readJSON decodes a single JSON object from the request body into dst,
// rejecting unknown fields. It returns a client-safe message on failure and
// "" on success.
func readJSON(r *http.Request, dst any) string {
	return decodeJSON(r, dst, true)
}

// readWebhookJSON is readJSON for platform payloads, which carry many
// fields this service does not use.
func readWebhookJSON(r *http.Request, dst any) string {
	return decodeJSON(r, dst, false)
}

func decodeJSON(r *http.Request, dst any, strict bool) string {
	if r.Body == nil || r.Body == http.NoBody {
		return "request body must not be empty"
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if strict {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, io.EOF):
			return "request body must not be empty"
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return "malformed json"
		default:
			// Type mismatches and unknown fields name caller input; keep
			// that in the log only.
			slog.Debug("api: rejected request body", "path", r.URL.Path, "error", err)
			return "invalid request body"
		}
	}

	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}
