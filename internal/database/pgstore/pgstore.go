// Package pgstore implements the contact allowlist on PostgreSQL. It is used
// instead of the embedded SQLite store when a database URL is configured.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowpbx/callgate/internal/database/models"
	"github.com/flowpbx/callgate/internal/database/schema"
	"github.com/flowpbx/callgate/internal/phone"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.ContactRepository using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects to the database at dsn and brings its schema up to date.
// Several instances may call New against the same database at once.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}
	// Sized for concurrent gatekeeper lookups across one instance.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	applied, err := schema.Migrate(ctx, db, migrationsFS, schema.Postgres)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating contact store: %w", err)
	}

	slog.Info("pgstore: contact store opened", "migrations_applied", len(applied))
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertContact = `INSERT INTO contacts (id, owner_user_id, phone_e164, display_name)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (phone_e164) DO UPDATE SET
	  owner_user_id = EXCLUDED.owner_user_id,
	  display_name = EXCLUDED.display_name,
	  updated_at = NOW()`

// execer is the part of *sql.Tx the batch loop needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertBatch writes the batch in one transaction. PostgreSQL aborts the
// whole transaction on any statement error, so each row runs under its own
// savepoint and a failed row is rolled back to it without losing the others.
func (s *Store) UpsertBatch(ctx context.Context, contacts []models.Contact) ([]error, error) {
	if len(contacts) == 0 {
		return []error{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning contact batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rowErrs, err := upsertRows(ctx, tx, contacts)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing contact batch: %w", err)
	}
	return rowErrs, nil
}

// upsertRows runs one savepoint-guarded upsert per contact. Row failures
// are returned per index; a failure to manage a savepoint leaves the
// transaction unusable and fails the batch.
func upsertRows(ctx context.Context, tx execer, contacts []models.Contact) ([]error, error) {
	rowErrs := make([]error, len(contacts))
	for i, c := range contacts {
		if !phone.IsE164(c.PhoneE164) {
			rowErrs[i] = fmt.Errorf("upserting contact %q: %w", c.PhoneE164, phone.ErrNotE164)
			continue
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT contact_row"); err != nil {
			return nil, fmt.Errorf("creating savepoint: %w", err)
		}

		_, err := tx.ExecContext(ctx, upsertContact, uuid.New(), c.OwnerUserID, c.PhoneE164, c.DisplayName)
		if err != nil {
			rowErrs[i] = fmt.Errorf("upserting contact %s: %w", c.PhoneE164, err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT contact_row"); rbErr != nil {
				return nil, fmt.Errorf("rolling back to savepoint: %w", rbErr)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT contact_row"); err != nil {
			return nil, fmt.Errorf("releasing savepoint: %w", err)
		}
	}
	return rowErrs, nil
}

// GetByPhone returns the contact for an E.164 number.
// Returns nil, nil if the number is not on the allowlist.
func (s *Store) GetByPhone(ctx context.Context, phoneE164 string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_e164, display_name, created_at, updated_at
		 FROM contacts WHERE phone_e164 = $1`, phoneE164,
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
func (s *Store) DeleteByOwner(ctx context.Context, ownerUserID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM contacts WHERE owner_user_id = $1 RETURNING phone_e164`, ownerUserID)
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
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contacts: %w", err)
	}
	return n, nil
}
