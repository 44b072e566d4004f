package callcontrol

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowpbx/callgate/internal/gatekeeper"
	"github.com/flowpbx/callgate/internal/phone"
)

// ContentType is the content type of every TwiML response.
const ContentType = "text/xml; charset=utf-8"

// FallbackTwiML is returned whenever a proper response cannot be built. It
// is a constant so that it is valid even if marshalling itself is broken.
const FallbackTwiML = xml.Header + `<Response><Say>Please hold.</Say><Hangup></Hangup></Response>`

type twimlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Say     *twimlSay  `xml:"Say,omitempty"`
	Dial    *twimlDial `xml:"Dial,omitempty"`
	Hangup  *struct{}  `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlDial struct {
	CallerID string `xml:"callerId,attr,omitempty"`
	Timeout  int    `xml:"timeout,attr,omitempty"`
	Number   string `xml:"Number,omitempty"`
	Client   string `xml:"Client,omitempty"`
}

// BridgeRequest is the subset of the bridge platform's voice webhook form
// the builder uses.
type BridgeRequest struct {
	CallSid string
	From    string
	To      string
}

// ParseBridgeRequest reads the form-encoded voice webhook fields.
func ParseBridgeRequest(r *http.Request) (BridgeRequest, error) {
	if err := r.ParseForm(); err != nil {
		return BridgeRequest{}, err
	}
	return BridgeRequest{
		CallSid: r.PostFormValue("CallSid"),
		From:    r.PostFormValue("From"),
		To:      r.PostFormValue("To"),
	}, nil
}

// Bridge builds bridge-platform markup. Every valid request dials the same
// client identity; all routing decisions were made upstream.
type Bridge struct {
	identity    string
	dialTimeout time.Duration
	normalizer  phone.Normalizer
}

// NewBridge creates a Bridge dialing identity. A zero dialTimeout leaves
// the platform default in effect.
func NewBridge(identity string, dialTimeout time.Duration, normalizer phone.Normalizer) *Bridge {
	return &Bridge{identity: identity, dialTimeout: dialTimeout, normalizer: normalizer}
}

// Render returns markup dialing the client identity, with the caller's
// number as caller ID when it normalizes. A request without a CallSid, or a
// Bridge without an identity, gets FallbackTwiML.
func (b *Bridge) Render(req BridgeRequest) []byte {
	if req.CallSid == "" || b.identity == "" {
		slog.Warn("callcontrol: bridge request unusable, sending fallback",
			"call_sid", req.CallSid,
			"identity_configured", b.identity != "",
		)
		return []byte(FallbackTwiML)
	}

	dial := &twimlDial{Client: b.identity}
	if from, ok := b.normalizer.Normalize(req.From); ok {
		dial.CallerID = from
	}
	if b.dialTimeout > 0 {
		dial.Timeout = int(b.dialTimeout / time.Second)
	}

	return marshal(twimlResponse{Dial: dial})
}

// RenderDecision renders a gatekeeper decision as TwiML: transfers dial the
// target number, a spam rejection is a bare hang-up, and screening (which
// TwiML cannot express) falls back to hold and hang-up.
func RenderDecision(d gatekeeper.Decision) []byte {
	switch {
	case d.Verdict.Transfers() && d.TargetNumber != "":
		return marshal(twimlResponse{Dial: &twimlDial{Number: d.TargetNumber}})
	case d.Verdict == gatekeeper.SpamReject:
		return marshal(twimlResponse{Hangup: &struct{}{}})
	}
	return []byte(FallbackTwiML)
}

func marshal(resp twimlResponse) []byte {
	out, err := xml.Marshal(resp)
	if err != nil {
		slog.Error("callcontrol: marshalling twiml", "error", err)
		return []byte(FallbackTwiML)
	}
	return append([]byte(xml.Header), out...)
}
