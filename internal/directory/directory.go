// Package directory is the contact allowlist consulted by the gatekeeper.
// Numbers are normalized at write time so lookups are a single keyed read.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowpbx/callgate/internal/cache"
	"github.com/flowpbx/callgate/internal/database/models"
	"github.com/flowpbx/callgate/internal/phone"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultBatchSize     = 100
	DefaultLookupTimeout = 800 * time.Millisecond
	DefaultCacheTTL      = 5 * time.Minute
)

// maxReportedErrors caps the error messages returned from a sync.
const maxReportedErrors = 10

var (
	// ErrOwnerRequired is returned when a mutation has no owner.
	ErrOwnerRequired = errors.New("directory: owner user id is required")
	// ErrInvalidPhone is returned by Lookup for numbers that cannot be normalized.
	ErrInvalidPhone = errors.New("directory: invalid phone number")
)

// Store is the persistent backing of the directory. Implemented by the
// SQLite repository and the PostgreSQL store.
type Store interface {
	UpsertBatch(ctx context.Context, contacts []models.Contact) ([]error, error)
	GetByPhone(ctx context.Context, phoneE164 string) (*models.Contact, error)
	DeleteByOwner(ctx context.Context, ownerUserID string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// SyncEntry is one address-book row submitted by a mobile client.
type SyncEntry struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// SyncResult summarizes an UpsertBatch call.
type SyncResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

func (r *SyncResult) fail(msg string) {
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Options tunes a Directory. Zero values take the package defaults; a nil
// Cache disables caching.
type Options struct {
	Cache         cache.Cache
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	BatchSize     int
}

// Directory is safe for concurrent use.
type Directory struct {
	store         Store
	cache         cache.Cache
	normalizer    phone.Normalizer
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	batchSize     int

	// cacheSuspendedUntil is a unix-nano deadline set when an invalidation
	// fails. Lookups skip the cache until it passes.
	cacheSuspendedUntil atomic.Int64
}

// New creates a Directory over store.
func New(store Store, normalizer phone.Normalizer, opts Options) *Directory {
	d := &Directory{
		store:         store,
		cache:         opts.Cache,
		normalizer:    normalizer,
		cacheTTL:      opts.CacheTTL,
		lookupTimeout: opts.LookupTimeout,
		batchSize:     opts.BatchSize,
	}
	if d.cacheTTL <= 0 {
		d.cacheTTL = DefaultCacheTTL
	}
	if d.lookupTimeout <= 0 {
		d.lookupTimeout = DefaultLookupTimeout
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	return d
}

// UpsertBatch normalizes and stores entries for ownerUserID in chunks of
// the configured batch size. Entries that fail normalization or fail in the
// store are counted as failed without affecting the rest. A number already
// owned by someone else is reassigned to ownerUserID.
func (d *Directory) UpsertBatch(ctx context.Context, ownerUserID string, entries []SyncEntry) (SyncResult, error) {
	result := SyncResult{Errors: []string{}}

	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return result, ErrOwnerRequired
	}

	pending := make([]models.Contact, 0, min(len(entries), d.batchSize))
	for _, e := range entries {
		e164, ok := d.normalizer.Normalize(e.Phone)
		if !ok {
			result.fail(fmt.Sprintf("%s: invalid phone number", entryLabel(e)))
			continue
		}
		pending = append(pending, models.Contact{
			OwnerUserID: ownerUserID,
			PhoneE164:   e164,
			DisplayName: strings.TrimSpace(e.Name),
		})
		if len(pending) == d.batchSize {
			d.flush(ctx, pending, &result)
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		d.flush(ctx, pending, &result)
	}

	slog.Info("directory: contacts synced",
		"owner_user_id", ownerUserID,
		"submitted", len(entries),
		"synced", result.Synced,
		"failed", result.Failed,
	)
	return result, nil
}

// flush writes one chunk and folds its outcome into result.
func (d *Directory) flush(ctx context.Context, chunk []models.Contact, result *SyncResult) {
	rowErrs, err := d.store.UpsertBatch(ctx, chunk)
	if err != nil {
		slog.Error("directory: batch upsert failed", "rows", len(chunk), "error", err)
		for _, c := range chunk {
			result.fail(fmt.Sprintf("%s: storage error", c.PhoneE164))
		}
		return
	}

	var written []string
	for i, c := range chunk {
		if rowErrs[i] != nil {
			slog.Warn("directory: contact upsert failed", "phone", c.PhoneE164, "error", rowErrs[i])
			result.fail(fmt.Sprintf("%s: storage error", c.PhoneE164))
			continue
		}
		result.Synced++
		written = append(written, c.PhoneE164)
	}
	d.invalidate(ctx, written)
}

// Lookup returns the contact for a phone number, or nil if it is not on the
// allowlist. raw may be any form Normalize accepts. The store read is bounded
// by the lookup timeout; callers should treat any error as a miss.
func (d *Directory) Lookup(ctx context.Context, raw string) (*models.Contact, error) {
	e164, ok := d.normalizer.Normalize(raw)
	if !ok {
		return nil, ErrInvalidPhone
	}

	ctx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	gen, useCache := d.generation(ctx, e164)
	if useCache {
		if c, hit := d.cached(ctx, e164, gen); hit {
			return c, nil
		}
	}

	c, err := d.store.GetByPhone(ctx, e164)
	if err != nil {
		return nil, fmt.Errorf("looking up contact: %w", err)
	}
	if c == nil {
		return nil, nil
	}

	if useCache {
		d.fill(ctx, e164, gen, c)
	}
	return c, nil
}

// DeleteAllForOwner removes every contact owned by ownerUserID and returns
// how many were removed.
func (d *Directory) DeleteAllForOwner(ctx context.Context, ownerUserID string) (int, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return 0, ErrOwnerRequired
	}

	phones, err := d.store.DeleteByOwner(ctx, ownerUserID)
	if err != nil {
		return 0, fmt.Errorf("deleting contacts: %w", err)
	}

	d.invalidate(ctx, phones)

	slog.Info("directory: contacts deleted", "owner_user_id", ownerUserID, "count", len(phones))
	return len(phones), nil
}

// Count returns the total number of allowlisted numbers.
func (d *Directory) Count(ctx context.Context) (int64, error) {
	return d.store.Count(ctx)
}

func entryLabel(e SyncEntry) string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	return "unnamed contact"
}
