// Package schema applies the embedded SQL migrations of the contact stores.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
)

// Dialect holds the statements that differ between database engines.
type Dialect struct {
	Name string
	// CreateTable creates schema_migrations if it does not exist.
	CreateTable string
	// Record inserts one applied version; it takes the version as its only
	// parameter.
	Record string
	// Lock and Unlock, when set, serialize concurrent migrators on the
	// connection doing the work.
	Lock   string
	Unlock string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		Record: "INSERT INTO schema_migrations (version) VALUES (?)",
	}

	// Postgres takes a session advisory lock so instances starting together
	// do not apply the same migration twice.
	Postgres = Dialect{
		Name: "postgres",
		CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		Record: "INSERT INTO schema_migrations (version) VALUES ($1)",
		Lock:   "SELECT pg_advisory_lock(7324001)",
		Unlock: "SELECT pg_advisory_unlock(7324001)",
	}
)

// Migrate applies every migrations/*.sql file in files that is not yet
// recorded in schema_migrations, in file name order, each in its own
// transaction. It returns the versions it applied.
func Migrate(ctx context.Context, db *sql.DB, files fs.FS, d Dialect) ([]string, error) {
	// fs.Glob returns names in lexical order.
	names, err := fs.Glob(files, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring migration connection: %w", err)
	}
	defer conn.Close()

	if d.Lock != "" {
		if _, err := conn.ExecContext(ctx, d.Lock); err != nil {
			return nil, fmt.Errorf("taking migration lock: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), d.Unlock); err != nil {
				slog.Warn("schema: releasing migration lock", "dialect", d.Name, "error", err)
			}
		}()
	}

	if _, err := conn.ExecContext(ctx, d.CreateTable); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		if done[version] {
			continue
		}

		script, err := fs.ReadFile(files, name)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", version, err)
		}
		if err := apply(ctx, conn, d, version, string(script)); err != nil {
			return applied, err
		}
		slog.Info("schema: migration applied", "dialect", d.Name, "version", version)
		applied = append(applied, version)
	}
	return applied, nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, d Dialect, version, script string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, d.Record, version); err != nil {
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", version, err)
	}
	return nil
}
