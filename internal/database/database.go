package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowpbx/callgate/internal/database/schema"
	_ "modernc.org/sqlite"
)

// FileName is the contact store's file name inside the data directory.
const FileName = "callgate.db"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB connection to the local contact store.
type DB struct {
	*sql.DB
}

// Open creates the data directory if needed, opens the contact store in WAL
// mode and brings its schema up to date.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	sqlDB, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening contact store: %w", err)
	}
	// One connection: lookups are point reads and sync batches serialize anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging contact store: %w", err)
	}

	if _, err := schema.Migrate(context.Background(), sqlDB, migrationsFS, schema.SQLite); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating contact store: %w", err)
	}

	slog.Info("database: contact store opened", "path", dbPath)
	return &DB{DB: sqlDB}, nil
}
