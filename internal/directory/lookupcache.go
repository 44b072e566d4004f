package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/flowpbx/callgate/internal/cache"
	"github.com/flowpbx/callgate/internal/database/models"
)

// Every cached contact is stamped with the generation of its number read
// before the store query. Mutations bump the generation before deleting
// the entry, so an entry filled from a read that raced a delete or
// re-sync carries an old generation and is never served.
const (
	entryKeyPrefix      = "callgate:contact:"
	generationKeyPrefix = "callgate:contact-gen:"

	// noGeneration is the generation of a number never mutated, or whose
	// counter has expired.
	noGeneration = "0"

	invalidateTimeout = 2 * time.Second
)

type cacheEntry struct {
	Generation string         `json:"gen"`
	Contact    models.Contact `json:"contact"`
}

func entryKey(e164 string) string {
	return entryKeyPrefix + e164
}

func generationKey(e164 string) string {
	return generationKeyPrefix + e164
}

// generationTTL outlives any entry stamped before the bump: such an entry
// is written at most one lookup timeout after the bump and lives cacheTTL.
func (d *Directory) generationTTL() time.Duration {
	return 2*d.cacheTTL + d.lookupTimeout
}

// generation returns the current generation of e164 and whether the cache
// may be used for this lookup at all.
func (d *Directory) generation(ctx context.Context, e164 string) (string, bool) {
	if d.cache == nil || d.cacheSuspended() {
		return "", false
	}
	gen, err := d.cache.Get(ctx, generationKey(e164))
	switch {
	case errors.Is(err, cache.ErrMiss):
		return noGeneration, true
	case err != nil:
		slog.Debug("directory: cache unavailable, reading store", "error", err)
		return "", false
	}
	return gen, true
}

// cached returns the entry for e164 if it was filled under gen. Cache
// failures are reported as a miss so the store stays authoritative.
func (d *Directory) cached(ctx context.Context, e164, gen string) (*models.Contact, bool) {
	val, err := d.cache.Get(ctx, entryKey(e164))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.Debug("directory: cache get failed", "error", err)
		}
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		slog.Debug("directory: discarding undecodable cache entry", "phone", e164, "error", err)
		return nil, false
	}
	if entry.Generation != gen {
		return nil, false
	}
	return &entry.Contact, true
}

func (d *Directory) fill(ctx context.Context, e164, gen string, c *models.Contact) {
	data, err := json.Marshal(cacheEntry{Generation: gen, Contact: *c})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, entryKey(e164), string(data), d.cacheTTL); err != nil {
		slog.Debug("directory: cache set failed", "error", err)
	}
}

// invalidate bumps the generation of every number in phones and drops
// their entries. It runs to completion even if ctx is cancelled, since the
// store write has already happened. When the bump fails the cache is
// suspended for this process until every entry that could be stale has
// expired.
func (d *Directory) invalidate(ctx context.Context, phones []string) {
	if d.cache == nil || len(phones) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	genKeys := make([]string, len(phones))
	entryKeys := make([]string, len(phones))
	for i, p := range phones {
		genKeys[i] = generationKey(p)
		entryKeys[i] = entryKey(p)
	}

	if err := d.cache.Incr(ctx, d.generationTTL(), genKeys...); err != nil {
		d.suspendCache()
		slog.Error("directory: cache invalidation failed, bypassing cache",
			"numbers", len(phones),
			"for", d.cacheTTL+d.lookupTimeout,
			"error", err,
		)
		return
	}
	// Entries left behind are already unreachable under the new generation.
	if err := d.cache.Del(ctx, entryKeys...); err != nil {
		slog.Debug("directory: cache entry cleanup failed", "numbers", len(phones), "error", err)
	}
}

func (d *Directory) suspendCache() {
	d.cacheSuspendedUntil.Store(time.Now().Add(d.cacheTTL + d.lookupTimeout).UnixNano())
}

func (d *Directory) cacheSuspended() bool {
	return time.Now().UnixNano() < d.cacheSuspendedUntil.Load()
}
