// Package postgresql provides PostgreSQL persistence implementation for approval workflows.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE raised for primary key and unique index violations.
const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of sqlbase.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) JSONField(field string) string { return "body->>'" + field + "'" }

func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	store, err := NewDocumentStore(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	return persistence.NewPersistence(store), nil
}

// NewDocumentStore connects, migrates and returns the PostgreSQL document store.
func NewDocumentStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*sqlbase.DocumentStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

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
