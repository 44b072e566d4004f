// Package phone canonicalizes caller-ID and contact strings to E.164.
package phone

import (
	"errors"
	"strings"
	"unicode"
)

// ErrNotE164 is returned by stores asked to persist a number that is not in
// canonical form.
var ErrNotE164 = errors.New("phone: number is not E.164")

// DefaultCountryCode is used when a Normalizer is built without one.
const DefaultCountryCode = "1"

// E.164 allows at most 15 digits; anything under 8 is not a routable
// subscriber number.
const (
	minE164Digits = 8
	maxE164Digits = 15
)

// Normalizer converts raw phone strings to E.164 using a fixed default
// country code for national 10-digit numbers. The zero value is not usable;
// construct with NewNormalizer.
type Normalizer struct {
	countryCode string
}

// NewNormalizer returns a Normalizer for the given default country code.
// A leading "+" on the code is ignored. An empty code falls back to
// DefaultCountryCode.
func NewNormalizer(countryCode string) Normalizer {
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if cc == "" {
		cc = DefaultCountryCode
	}
	return Normalizer{countryCode: cc}
}

// CountryCode returns the configured default country code without "+".
func (n Normalizer) CountryCode() string {
	return n.countryCode
}

// Normalize returns the E.164 form of raw and true, or "" and false when raw
// cannot be coerced. Punctuation and whitespace are dropped; letters are
// rejected outright so values like "anonymous" never match a contact.
func (n Normalizer) Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	plus := strings.HasPrefix(s, "+")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsLetter(r):
			return "", false
		}
	}
	digits := b.String()

	switch {
	case plus:
		if len(digits) < minE164Digits || len(digits) > maxE164Digits {
			return "", false
		}
		return "+" + digits, true
	case len(digits) == 10:
		e164 := "+" + n.countryCode + digits
		if len(e164)-1 > maxE164Digits {
			return "", false
		}
		return e164, true
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, true
	default:
		return "", false
	}
}

// IsE164 reports whether s is already in canonical form: "+" followed by
// 8 to 15 digits and nothing else.
func IsE164(s string) bool {
	if len(s) < minE164Digits+1 || len(s) > maxE164Digits+1 || s[0] != '+' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
