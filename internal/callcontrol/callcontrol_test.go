package callcontrol

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/flowpbx/callgate/internal/gatekeeper"
	"github.com/flowpbx/callgate/internal/phone"
)

func TestRoutingTransfer(t *testing.T) {
	for _, v := range []gatekeeper.Verdict{gatekeeper.KnownTransfer, gatekeeper.UnknownLegitTransfer} {
		resp := Routing(gatekeeper.Decision{CallID: "c1", Verdict: v, TargetNumber: "+15550009999"}, Assistant{})
		if resp.Transfer == nil {
			t.Fatalf("%s: Transfer = nil", v)
		}
		if resp.Transfer.Destination != "+15550009999" {
			t.Errorf("%s: destination = %q", v, resp.Transfer.Destination)
		}
		if resp.Assistant != nil || resp.Hangup != nil {
			t.Errorf("%s: more than one arm set", v)
		}
	}
}

func TestRoutingScreen(t *testing.T) {
	a := Assistant{FirstMessage: "Hi, who is calling?", ResultURL: "https://gate.example.com/gatekeeper/screen-result"}
	resp := Routing(gatekeeper.Decision{CallID: "call-42", Verdict: gatekeeper.UnknownScreen}, a)
	if resp.Assistant == nil {
		t.Fatal("Assistant = nil")
	}
	if resp.Transfer != nil || resp.Hangup != nil {
		t.Error("more than one arm set")
	}
	if resp.Assistant.Prompt != DefaultScreeningPrompt {
		t.Error("empty prompt did not fall back to the default")
	}
	if resp.Assistant.OnResult != a.ResultURL {
		t.Errorf("onResult = %q, want %q", resp.Assistant.OnResult, a.ResultURL)
	}
	if resp.Assistant.Metadata["callId"] != "call-42" {
		t.Errorf("metadata = %v, want callId call-42", resp.Assistant.Metadata)
	}

	custom := Routing(gatekeeper.Decision{Verdict: gatekeeper.UnknownScreen}, Assistant{Prompt: "screen it"})
	if custom.Assistant.Prompt != "screen it" {
		t.Errorf("prompt = %q, want custom prompt", custom.Assistant.Prompt)
	}
	if custom.Assistant.Metadata != nil {
		t.Errorf("metadata = %v, want nil without a call id", custom.Assistant.Metadata)
	}
}

func TestRoutingSpam(t *testing.T) {
	resp := Routing(gatekeeper.Decision{Verdict: gatekeeper.SpamReject}, Assistant{})
	if resp.Hangup == nil || resp.Hangup.Reason != "spam" {
		t.Fatalf("Hangup = %+v, want reason spam", resp.Hangup)
	}
}

func TestRoutingFallsBackToScreen(t *testing.T) {
	tests := []struct {
		name string
		d    gatekeeper.Decision
	}{
		{"transfer without target", gatekeeper.Decision{Verdict: gatekeeper.KnownTransfer}},
		{"zero verdict", gatekeeper.Decision{}},
		{"out of range verdict", gatekeeper.Decision{Verdict: gatekeeper.Verdict(99)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Routing(tt.d, Assistant{})
			if resp.Assistant == nil {
				t.Errorf("Routing = %+v, want assistant", resp)
			}
		})
	}
}

func TestRoutingJSONShape(t *testing.T) {
	resp := Routing(gatekeeper.Decision{Verdict: gatekeeper.KnownTransfer, TargetNumber: "+15550009999"}, Assistant{})
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"transfer":{"destination":"+15550009999"}}` {
		t.Errorf("json = %s", b)
	}

	b, err = json.Marshal(Routing(gatekeeper.Decision{Verdict: gatekeeper.SpamReject}, Assistant{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"hangup":{"reason":"spam"}}` {
		t.Errorf("json = %s", b)
	}
}

func TestBridgeRender(t *testing.T) {
	b := NewBridge("owner-device", 30*time.Second, phone.NewNormalizer("1"))

	out := string(b.Render(BridgeRequest{CallSid: "CA123", From: "(555) 123-4567", To: "+15550000000"}))

	want := xml.Header + `<Response><Dial callerId="+15551234567" timeout="30"><Client>owner-device</Client></Dial></Response>`
	if out != want {
		t.Errorf("Render =\n%s\nwant\n%s", out, want)
	}
}

func TestBridgeRenderInvalidCaller(t *testing.T) {
	b := NewBridge("owner-device", 0, phone.NewNormalizer("1"))

	out := string(b.Render(BridgeRequest{CallSid: "CA123", From: "anonymous"}))

	if strings.Contains(out, "callerId") {
		t.Errorf("invalid caller produced a callerId: %s", out)
	}
	if strings.Contains(out, "timeout") {
		t.Errorf("zero dial timeout produced a timeout attribute: %s", out)
	}
	if !strings.Contains(out, "<Client>owner-device</Client>") {
		t.Errorf("missing client dial: %s", out)
	}
}

func TestBridgeRenderEscapesIdentity(t *testing.T) {
	b := NewBridge("a<b>&c", 0, phone.NewNormalizer("1"))
	out := string(b.Render(BridgeRequest{CallSid: "CA1"}))
	if !strings.Contains(out, "<Client>a&lt;b&gt;&amp;c</Client>") {
		t.Errorf("identity not escaped: %s", out)
	}
}

func TestBridgeRenderFallback(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		req      BridgeRequest
	}{
		{"missing call sid", "owner-device", BridgeRequest{From: "+15551234567"}},
		{"missing identity", "", BridgeRequest{CallSid: "CA1", From: "+15551234567"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridge(tt.identity, time.Second, phone.NewNormalizer("1"))
			if got := string(b.Render(tt.req)); got != FallbackTwiML {
				t.Errorf("Render = %s, want fallback", got)
			}
		})
	}
}

func TestFallbackTwiMLIsValidXML(t *testing.T) {
	var resp twimlResponse
	if err := xml.Unmarshal([]byte(FallbackTwiML), &resp); err != nil {
		t.Fatalf("fallback does not parse: %v", err)
	}
	if resp.Say == nil || resp.Say.Text != "Please hold." {
		t.Errorf("Say = %+v", resp.Say)
	}
	if resp.Hangup == nil {
		t.Error("fallback has no Hangup")
	}
}

func TestRenderDecision(t *testing.T) {
	tests := []struct {
		name string
		d    gatekeeper.Decision
		want string
	}{
		{
			"known transfer",
			gatekeeper.Decision{Verdict: gatekeeper.KnownTransfer, TargetNumber: "+15550009999"},
			xml.Header + `<Response><Dial><Number>+15550009999</Number></Dial></Response>`,
		},
		{
			"legit transfer",
			gatekeeper.Decision{Verdict: gatekeeper.UnknownLegitTransfer, TargetNumber: "+15550009999"},
			xml.Header + `<Response><Dial><Number>+15550009999</Number></Dial></Response>`,
		},
		{
			"spam",
			gatekeeper.Decision{Verdict: gatekeeper.SpamReject},
			xml.Header + `<Response><Hangup></Hangup></Response>`,
		},
		{"screen", gatekeeper.Decision{Verdict: gatekeeper.UnknownScreen}, FallbackTwiML},
		{"transfer without target", gatekeeper.Decision{Verdict: gatekeeper.KnownTransfer}, FallbackTwiML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(RenderDecision(tt.d)); got != tt.want {
				t.Errorf("RenderDecision =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestParseBridgeRequest(t *testing.T) {
	form := url.Values{"CallSid": {"CA9"}, "From": {"+15551234567"}, "To": {"+15550000000"}}
	r := httptest.NewRequest(http.MethodPost, "/bridge/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	req, err := ParseBridgeRequest(r)
	if err != nil {
		t.Fatalf("ParseBridgeRequest: %v", err)
	}
	if req.CallSid != "CA9" || req.From != "+15551234567" || req.To != "+15550000000" {
		t.Errorf("request = %+v", req)
	}
}
