package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/flowpbx/callgate/internal/callcontrol"
	"github.com/flowpbx/callgate/internal/gatekeeper"
	"github.com/flowpbx/callgate/internal/webhook"
)

// eventType is the screening platform's server message type.
type eventType string

const (
	eventAssistantRequest eventType = "assistant-request"
	eventStatusUpdate     eventType = "status-update"
	eventEndOfCallReport  eventType = "end-of-call-report"
	eventHang             eventType = "hang"
)

type platformNumber struct {
	Number string `json:"number"`
}

type platformCall struct {
	ID          string          `json:"id"`
	Customer    *platformNumber `json:"customer"`
	PhoneNumber *platformNumber `json:"phoneNumber"`
}

type platformMessage struct {
	Type        eventType       `json:"type"`
	Call        *platformCall   `json:"call"`
	Customer    *platformNumber `json:"customer"`
	PhoneNumber *platformNumber `json:"phoneNumber"`
	Status      string          `json:"status"`
	EndedReason string          `json:"endedReason"`
}

var (
	errCallRequired     = errors.New("call is required")
	errUnsupportedEvent = errors.New("unsupported message type")
)

// routeRequest is the /gatekeeper/route body. Two forms are accepted: the
// bare {"call": {...}} form and the enveloped {"message": {"type": ...}}
// event form.
type routeRequest struct {
	Call    *platformCall    `json:"call"`
	Message *platformMessage `json:"message"`
}

// routeEvent is a parsed routeRequest: either a call to decide or a
// lifecycle notification to acknowledge.
type routeEvent struct {
	kind eventType
	call gatekeeper.InboundCall
	msg  *platformMessage
}

func (req routeRequest) parse() (routeEvent, error) {
	if req.Message == nil {
		if req.Call == nil {
			return routeEvent{}, errCallRequired
		}
		return routeEvent{kind: eventAssistantRequest, call: inboundCall(req.Call, nil, nil)}, nil
	}

	msg := req.Message
	kind := msg.Type
	if kind == "" {
		kind = eventAssistantRequest
	}

	switch kind {
	case eventAssistantRequest:
		call := msg.Call
		if call == nil {
			call = req.Call
		}
		return routeEvent{kind: kind, call: inboundCall(call, msg.Customer, msg.PhoneNumber), msg: msg}, nil
	case eventStatusUpdate, eventEndOfCallReport, eventHang:
		return routeEvent{kind: kind, msg: msg}, nil
	default:
		return routeEvent{}, fmt.Errorf("%w %q", errUnsupportedEvent, kind)
	}
}

// inboundCall collects the caller and dialed numbers, preferring the call
// object and falling back to message-level fields.
func inboundCall(call *platformCall, customer, dialed *platformNumber) gatekeeper.InboundCall {
	var in gatekeeper.InboundCall
	if call != nil {
		in.ID = call.ID
		if call.Customer != nil {
			in.From = call.Customer.Number
		}
		if call.PhoneNumber != nil {
			in.To = call.PhoneNumber.Number
		}
	}
	if in.From == "" && customer != nil {
		in.From = customer.Number
	}
	if in.To == "" && dialed != nil {
		in.To = dialed.Number
	}
	return in
}

// isFormRequest reports whether r carries a form-encoded body, the way
// call-control platforms post their webhooks.
func isFormRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// wantsTwiML reports whether the caller expects call-control markup
// instead of the JSON routing union.
func wantsTwiML(r *http.Request) bool {
	if isFormRequest(r) {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/xml") || strings.Contains(accept, "application/xml")
}

// writeDecision answers with TwiML or the JSON routing union, whichever
// the caller speaks.
func (s *Server) writeDecision(w http.ResponseWriter, r *http.Request, d gatekeeper.Decision) {
	if wantsTwiML(r) {
		writeTwiML(w, callcontrol.RenderDecision(d))
		return
	}
	writeJSON(w, http.StatusOK, callcontrol.Routing(d, s.assistant(r)))
}

// handleRoute decides an inbound call for the screening platform. A call
// without a usable caller number is screened, not rejected.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if isFormRequest(r) {
		s.handleRouteForm(w, r)
		return
	}

	var req routeRequest
	if errMsg := readWebhookJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ev, err := req.parse()
	if err != nil {
		slog.Warn("gatekeeper: rejected route request", "error", err)
		msg := errCallRequired.Error()
		if errors.Is(err, errUnsupportedEvent) {
			msg = errUnsupportedEvent.Error()
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	switch ev.kind {
	case eventAssistantRequest:
		if msg := validateStringLen("call id", ev.call.ID, maxCallIDLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		s.writeDecision(w, r, s.engine.Route(r.Context(), ev.call))
	default:
		attrs := []any{"type", string(ev.kind)}
		if ev.msg.Call != nil {
			attrs = append(attrs, "call_id", ev.msg.Call.ID)
		}
		if ev.msg.Status != "" {
			attrs = append(attrs, "status", ev.msg.Status)
		}
		if ev.msg.EndedReason != "" {
			attrs = append(attrs, "ended_reason", ev.msg.EndedReason)
		}
		slog.Info("gatekeeper: call event", attrs...)
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// handleRouteForm decides a call posted in call-control form encoding
// (CallSid, From, To) and answers with markup. Like the bridge webhook it
// always answers 200 with valid markup.
func (s *Server) handleRouteForm(w http.ResponseWriter, r *http.Request) {
	req, err := callcontrol.ParseBridgeRequest(r)
	if err != nil || req.CallSid == "" || len(req.CallSid) > maxCallIDLen {
		slog.Warn("gatekeeper: unusable form route request, sending fallback", "error", err)
		writeFallbackTwiML(w, r)
		return
	}
	d := s.engine.Route(r.Context(), gatekeeper.InboundCall{ID: req.CallSid, From: req.From, To: req.To})
	writeTwiML(w, callcontrol.RenderDecision(d))
}

type screenResultRequest struct {
	CallID  string `json:"callId"`
	Verdict string `json:"verdict"`
}

// handleScreenResult turns the screening assistant's verdict into a final
// routing directive: hang up on spam, transfer a legitimate caller. The
// verdict may be posted as JSON or as a form; the answer follows wantsTwiML.
func (s *Server) handleScreenResult(w http.ResponseWriter, r *http.Request) {
	var req screenResultRequest
	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.CallID = r.PostForm.Get("callId")
		if req.CallID == "" {
			req.CallID = r.PostForm.Get("CallSid")
		}
		req.Verdict = r.PostForm.Get("verdict")
	} else if errMsg := readWebhookJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if msg := validateIdentifier("callId", req.CallID, maxCallIDLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := gatekeeper.ParseScreenResult(req.Verdict)
	if err != nil {
		writeError(w, http.StatusBadRequest, "verdict must be spam or legit")
		return
	}

	d, err := s.engine.Resolve(req.CallID, result)
	if err != nil {
		writeError(w, http.StatusBadRequest, "verdict must be spam or legit")
		return
	}
	s.writeDecision(w, r, d)
}

// assistant returns the screening configuration, with the result callback
// on this server's public address.
func (s *Server) assistant(r *http.Request) callcontrol.Assistant {
	base := s.cfg.PublicBaseURL
	if base == "" {
		base = webhook.RequestBaseURL(r)
	}
	return callcontrol.Assistant{
		Prompt:       s.cfg.AssistantPrompt,
		FirstMessage: s.cfg.AssistantFirstMessage,
		ResultURL:    base + "/gatekeeper/screen-result",
	}
}
