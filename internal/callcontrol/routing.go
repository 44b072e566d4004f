// Package callcontrol renders gatekeeper decisions into the responses the
// call platforms expect: a JSON routing directive for the screening platform
// and TwiML for the bridge platform.
package callcontrol

import (
	"log/slog"

	"github.com/flowpbx/callgate/internal/gatekeeper"
)

// DefaultScreeningPrompt instructs the screening assistant when no prompt is
// configured.
const DefaultScreeningPrompt = `You answer calls on behalf of the account owner, who is busy and only takes calls from people they know or callers with a genuine reason to reach them.
Greet the caller politely, ask who is calling and what the call is about.
Classify the call:
- spam: sales or solicitation, robocalls, surveys, warranty or insurance offers, requests for personal or payment details, or a caller who will not state a purpose.
- legit: a real person with a specific, stated purpose for contacting the owner (a delivery, an appointment, a referral, an existing claim or account, a personal matter).
Only report legit when the caller has clearly stated a legitimate purpose. When in doubt, report spam.
Never reveal the owner's personal details and never promise a callback.`

// Assistant configures the screening directive sent for unknown callers.
type Assistant struct {
	Name         string
	Prompt       string
	FirstMessage string
	// ResultURL is where the platform posts the screening verdict.
	ResultURL string
}

// RoutingResponse is the directive returned to the screening platform.
// Exactly one field is set.
type RoutingResponse struct {
	Transfer  *TransferAction  `json:"transfer,omitempty"`
	Assistant *AssistantAction `json:"assistant,omitempty"`
	Hangup    *HangupAction    `json:"hangup,omitempty"`
}

// TransferAction forwards the call to a phone number.
type TransferAction struct {
	Destination string `json:"destination"`
}

// AssistantAction runs the screening assistant on the call.
type AssistantAction struct {
	Name         string            `json:"name,omitempty"`
	Prompt       string            `json:"prompt"`
	FirstMessage string            `json:"firstMessage,omitempty"`
	OnResult     string            `json:"onResult"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HangupAction ends the call.
type HangupAction struct {
	Reason string `json:"reason"`
}

// Routing converts a decision into a routing directive. A verdict that does
// not map to a directive falls back to screening.
func Routing(d gatekeeper.Decision, a Assistant) RoutingResponse {
	switch d.Verdict {
	case gatekeeper.KnownTransfer, gatekeeper.UnknownLegitTransfer:
		if d.TargetNumber != "" {
			return RoutingResponse{Transfer: &TransferAction{Destination: d.TargetNumber}}
		}
		slog.Error("callcontrol: transfer decision without target, screening instead", "call_id", d.CallID)
	case gatekeeper.SpamReject:
		return RoutingResponse{Hangup: &HangupAction{Reason: "spam"}}
	case gatekeeper.UnknownScreen:
	default:
		slog.Error("callcontrol: unexpected verdict, screening instead", "call_id", d.CallID, "verdict", d.Verdict.String())
	}
	return RoutingResponse{Assistant: assistantAction(d, a)}
}

func assistantAction(d gatekeeper.Decision, a Assistant) *AssistantAction {
	prompt := a.Prompt
	if prompt == "" {
		prompt = DefaultScreeningPrompt
	}
	act := &AssistantAction{
		Name:         a.Name,
		Prompt:       prompt,
		FirstMessage: a.FirstMessage,
		OnResult:     a.ResultURL,
	}
	if d.CallID != "" {
		act.Metadata = map[string]string{"callId": d.CallID}
	}
	return act
}
