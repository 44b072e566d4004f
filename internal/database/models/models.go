package models

import "time"

// Contact is an allowlist entry: a caller that bypasses screening and is
// bridged straight to the owner's mobile client.
type Contact struct {
	ID          string
	OwnerUserID string
	PhoneE164   string // unique across all owners
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
