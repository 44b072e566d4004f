package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowpbx/callgate/internal/database/models"
	"github.com/flowpbx/callgate/internal/phone"
	"github.com/google/uuid"
)

// contactRepo implements ContactRepository on SQLite.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// UpsertBatch inserts or updates each contact inside one transaction. SQLite
// leaves the transaction usable after a failed statement, so a bad row is
// recorded and the remaining rows still commit.
func (r *contactRepo) UpsertBatch(ctx context.Context, contacts []models.Contact) ([]error, error) {
	rowErrs := make([]error, len(contacts))
	if len(contacts) == 0 {
		return rowErrs, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning contact batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contacts (id, owner_user_id, phone_e164, display_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))
		 ON CONFLICT(phone_e164) DO UPDATE SET
		   owner_user_id = excluded.owner_user_id,
		   display_name = excluded.display_name,
		   updated_at = datetime('now')`)
	if err != nil {
		return nil, fmt.Errorf("preparing contact upsert: %w", err)
	}
	defer stmt.Close()

	for i, c := range contacts {
		if !phone.IsE164(c.PhoneE164) {
			rowErrs[i] = fmt.Errorf("upserting contact %q: %w", c.PhoneE164, phone.ErrNotE164)
			continue
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), c.OwnerUserID, c.PhoneE164, c.DisplayName); err != nil {
			rowErrs[i] = fmt.Errorf("upserting contact %s: %w", c.PhoneE164, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing contact batch: %w", err)
	}
	return rowErrs, nil
}

// GetByPhone returns a contact by its E.164 number.
func (r *contactRepo) GetByPhone(ctx context.Context, phoneE164 string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_e164, display_name, created_at, updated_at
		 FROM contacts WHERE phone_e164 = ?`, phoneE164,
	).Scan(&c.ID, &c.OwnerUserID, &c.PhoneE164, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact by phone: %w", err)
	}
	return &c, nil
}

// DeleteByOwner removes every contact owned by ownerUserID.
func (r *contactRepo) DeleteByOwner(ctx context.Context, ownerUserID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM contacts WHERE owner_user_id = ? RETURNING phone_e164`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("deleting contacts by owner: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning deleted contact: %w", err)
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

// Count returns the number of contacts.
func (r *contactRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contacts: %w", err)
	}
	return n, nil
}
