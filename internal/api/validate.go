package api

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxOwnerIDLen is the maximum length of an owner user ID.
const maxOwnerIDLen = 128

// maxCallIDLen is the maximum length of a platform call ID.
const maxCallIDLen = 128

// maxSyncContacts is the largest address book accepted in one sync request.
const maxSyncContacts = 5000

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen characters.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateIdentifier checks a required single-line identifier such as an
// owner or call ID.
func validateIdentifier(field, value string, maxLen int) string {
	if msg := validateRequiredStringLen(field, value, maxLen); msg != "" {
		return msg
	}
	if strings.ContainsFunc(value, unicode.IsControl) {
		return field + " contains invalid characters"
	}
	return ""
}
