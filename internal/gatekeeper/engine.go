// Package gatekeeper decides, per inbound call, whether the caller is bridged
// straight to the owner's mobile client or screened by the AI assistant.
// Every failure path degrades to screening, never to a blind transfer.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowpbx/callgate/internal/database/models"
	"github.com/flowpbx/callgate/internal/phone"
)

// ErrInvalidForwardingNumber is returned by NewEngine when the bridging
// destination is not a valid phone number.
var ErrInvalidForwardingNumber = errors.New("gatekeeper: invalid forwarding number")

// Directory is the allowlist the engine consults.
type Directory interface {
	Lookup(ctx context.Context, raw string) (*models.Contact, error)
}

// Observer receives decision events, typically for metrics. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveDecision(v Verdict)
	ObserveLookupError()
}

// InboundCall is the part of a platform call-request the engine needs.
type InboundCall struct {
	ID   string
	From string // raw caller ID as reported by the platform
	To   string // raw dialed number, informational
}

// Decision is computed per request and discarded once the response is built.
type Decision struct {
	CallID       string
	FromE164     string // empty when the caller ID could not be normalized
	ToE164       string
	Verdict      Verdict
	TargetNumber string // bridging destination for transfer verdicts
	ContactName  string // allowlist display name for KnownTransfer
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	dir        Directory
	normalizer phone.Normalizer
	forwardTo  string
	observer   Observer
}

// NewEngine creates an Engine that bridges transfers to forwardingNumber.
// observer may be nil.
func NewEngine(dir Directory, normalizer phone.Normalizer, forwardingNumber string, observer Observer) (*Engine, error) {
	target, ok := normalizer.Normalize(forwardingNumber)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidForwardingNumber, forwardingNumber)
	}
	return &Engine{
		dir:        dir,
		normalizer: normalizer,
		forwardTo:  target,
		observer:   observer,
	}, nil
}

// ForwardingNumber returns the normalized bridging destination.
func (e *Engine) ForwardingNumber() string {
	return e.forwardTo
}

// Route gatekeeps an inbound call request. It never fails: an unparseable
// caller ID or any directory error yields UnknownScreen.
func (e *Engine) Route(ctx context.Context, call InboundCall) Decision {
	d := Decision{CallID: call.ID}
	d.ToE164, _ = e.normalizer.Normalize(call.To)

	from, normalized := e.normalizer.Normalize(call.From)
	d.FromE164 = from

	var (
		contact   *models.Contact
		lookupErr error
	)
	if normalized {
		contact, lookupErr = e.lookup(ctx, from)
		if lookupErr != nil {
			slog.Warn("gatekeeper: directory lookup failed, screening caller",
				"call_id", call.ID,
				"from", from,
				"error", lookupErr,
			)
			if e.observer != nil {
				e.observer.ObserveLookupError()
			}
		}
	}

	d.Verdict = decide(normalized, contact != nil, lookupErr)
	if d.Verdict == KnownTransfer {
		d.TargetNumber = e.forwardTo
		d.ContactName = contact.DisplayName
	}

	e.record(d)
	return d
}

// lookup shields the engine from a panicking directory implementation; a
// panic is reported as an error and so degrades to screening.
func (e *Engine) lookup(ctx context.Context, from string) (c *models.Contact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c, err = nil, fmt.Errorf("directory lookup panic: %v", rec)
		}
	}()
	return e.dir.Lookup(ctx, from)
}

// Resolve converts a screening verdict for callID into the final decision.
func (e *Engine) Resolve(callID string, result ScreenResult) (Decision, error) {
	d := Decision{CallID: callID}
	switch result {
	case ScreenSpam:
		d.Verdict = SpamReject
	case ScreenLegit:
		d.Verdict = UnknownLegitTransfer
		d.TargetNumber = e.forwardTo
	default:
		return Decision{}, fmt.Errorf("resolving call %s: unknown screening verdict %q", callID, result)
	}

	e.record(d)
	return d, nil
}

func (e *Engine) record(d Decision) {
	slog.Info("gatekeeper: decision",
		"call_id", d.CallID,
		"from", d.FromE164,
		"verdict", d.Verdict.String(),
	)
	if e.observer != nil {
		e.observer.ObserveDecision(d.Verdict)
	}
}

// decide is the routing policy for an inbound call. Only a normalized caller
// found in the directory without error is transferred; everything else is
// screened.
func decide(normalized, found bool, lookupErr error) Verdict {
	if !normalized || lookupErr != nil || !found {
		return UnknownScreen
	}
	return KnownTransfer
}
