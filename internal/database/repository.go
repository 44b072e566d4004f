package database

import (
	"context"

	"github.com/flowpbx/callgate/internal/database/models"
)

// ContactRepository manages the contact allowlist.
type ContactRepository interface {
	// UpsertBatch writes contacts in a single transaction keyed on the unique
	// phone number, overwriting owner and display name on conflict. The
	// returned slice holds one entry per input row (nil on success); a
	// non-nil error means the batch as a whole could not be committed.
	UpsertBatch(ctx context.Context, contacts []models.Contact) ([]error, error)
	// GetByPhone returns the contact for an E.164 number, or nil if absent.
	GetByPhone(ctx context.Context, phoneE164 string) (*models.Contact, error)
	// DeleteByOwner removes all of an owner's contacts and returns the
	// phone numbers that were deleted.
	DeleteByOwner(ctx context.Context, ownerUserID string) ([]string, error)
	// Count returns the total number of contacts across all owners.
	Count(ctx context.Context) (int64, error)
}
