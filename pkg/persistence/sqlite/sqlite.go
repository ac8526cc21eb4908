// Package sqlite provides an embedded SQLite persistence implementation for approval workflows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/persistence/sqlbase"
	"github.com/mattn/go-sqlite3"
)

// Dialect is the SQLite flavour of sqlbase.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite3" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) JSONField(field string) string {
	return "CAST(json_extract(body, '$." + field + "') AS TEXT)"
}

func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func migrations() map[int]string {
	return map[int]string{
		1: sqlbase.DocumentMigration("TEXT", "TIMESTAMP"),
	}
}

// DataSource turns a sqlite:// URL into a go-sqlite3 data source name.
func DataSource(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")

	if strings.Contains(path, "?") {
		return path
	}

	return path + "?_busy_timeout=5000"
}

// NewPersistence opens (creating if needed) and migrates a SQLite database.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	store, err := NewDocumentStore(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	return persistence.NewPersistence(store), nil
}

// NewDocumentStore opens, migrates and returns the SQLite document store.
func NewDocumentStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*sqlbase.DocumentStore, error) {
	database, err := sql.Open("sqlite3", DataSource(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY between pool members.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, Dialect{}, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlbase.NewDocumentStore(database, Dialect{}, logger), nil
}
