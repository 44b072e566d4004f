package gatekeeper

import "fmt"

// Verdict is the outcome of gatekeeping a single call.
type Verdict int

const (
	// KnownTransfer bridges an allowlisted caller straight to the owner.
	KnownTransfer Verdict = iota + 1
	// UnknownScreen hands the caller to the AI screening assistant.
	UnknownScreen
	// SpamReject hangs up on a caller screening classified as spam.
	SpamReject
	// UnknownLegitTransfer bridges a caller screening classified as legitimate.
	UnknownLegitTransfer
)

func (v Verdict) String() string {
	switch v {
	case KnownTransfer:
		return "KNOWN_TRANSFER"
	case UnknownScreen:
		return "UNKNOWN_SCREEN"
	case SpamReject:
		return "SPAM_REJECT"
	case UnknownLegitTransfer:
		return "UNKNOWN_LEGIT_TRANSFER"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Transfers reports whether the verdict bridges the call.
func (v Verdict) Transfers() bool {
	return v == KnownTransfer || v == UnknownLegitTransfer
}

// Verdicts lists every verdict, in declaration order.
func Verdicts() []Verdict {
	return []Verdict{KnownTransfer, UnknownScreen, SpamReject, UnknownLegitTransfer}
}

// ScreenResult is the screening assistant's classification of a caller.
type ScreenResult string

const (
	ScreenSpam  ScreenResult = "spam"
	ScreenLegit ScreenResult = "legit"
)

// ParseScreenResult validates a platform-reported screening verdict.
func ParseScreenResult(s string) (ScreenResult, error) {
	switch r := ScreenResult(s); r {
	case ScreenSpam, ScreenLegit:
		return r, nil
	default:
		return "", fmt.Errorf("unknown screening verdict %q", s)
	}
}
