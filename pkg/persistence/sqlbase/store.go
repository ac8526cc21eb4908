package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dukex/concord/pkg/persistence"
)

const documentColumns = `
			id
		  , unique_key_1
		  , unique_key_2
		  , unique_key_3
		  , body
		  , revision
		  , created_at
		  , updated_at`

// DocumentMigration creates the documents table shared by every SQL backend.
// bodyType and timeType are the dialect's column types for JSON and timestamps.
func DocumentMigration(bodyType, timeType string) string {
	return `
		CREATE TABLE documents (
			collection VARCHAR(64) NOT NULL,
			id VARCHAR(255) NOT NULL,
			unique_key_1 VARCHAR(255) NOT NULL,
			unique_key_2 VARCHAR(255) NOT NULL,
			unique_key_3 VARCHAR(255) NOT NULL,
			body ` + bodyType + ` NOT NULL,
			revision BIGINT NOT NULL,
			created_at ` + timeType + ` NOT NULL,
			updated_at ` + timeType + ` NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE UNIQUE INDEX idx_documents_unique_key_1 ON documents(collection, unique_key_1);
		CREATE UNIQUE INDEX idx_documents_unique_key_2 ON documents(collection, unique_key_2);
		CREATE UNIQUE INDEX idx_documents_unique_key_3 ON documents(collection, unique_key_3);
		CREATE INDEX idx_documents_created_at ON documents(collection, created_at);
	`
}

// DocumentStore implements persistence.DocumentStore over a single SQL table.
type DocumentStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewDocumentStore creates a document store on an already migrated database.
func NewDocumentStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *DocumentStore {
	return &DocumentStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying connection pool.
func (s *DocumentStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *DocumentStore) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *DocumentStore) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping %s database: %w", s.dialect.Name(), err)
	}

	return nil
}

func (s *DocumentStore) placeholders(from, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = s.dialect.Placeholder(from + i)
	}

	return strings.Join(marks, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(partition string, row rowScanner) (*persistence.Document, error) {
	doc := &persistence.Document{Partition: partition}

	var body []byte

	err := row.Scan(
		&doc.ID,
		&doc.UniqueKeys[0],
		&doc.UniqueKeys[1],
		&doc.UniqueKeys[2],
		&body,
		&doc.Revision,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Body = body
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()

	return doc, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *DocumentStore) insert(ctx context.Context, db execer, doc *persistence.Document) error {
	keys := doc.UniqueKeys.Resolve(doc.ID)

	query := `
		INSERT INTO documents (
			collection
		  , id
		  , unique_key_1
		  , unique_key_2
		  , unique_key_3
		  , body
		  , revision
		  , created_at
		  , updated_at
		) VALUES (` + s.placeholders(1, 9) + `)`

	_, err := db.ExecContext(ctx, query,
		doc.Partition, doc.ID, keys[0], keys[1], keys[2], string(doc.Body),
		doc.Revision, doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())

	return err
}

func (s *DocumentStore) replace(ctx context.Context, db execer, doc *persistence.Document, expected int64) (bool, error) {
	keys := doc.UniqueKeys.Resolve(doc.ID)

	query := `
		UPDATE documents SET
			unique_key_1 = ` + s.dialect.Placeholder(1) + `
		  , unique_key_2 = ` + s.dialect.Placeholder(2) + `
		  , unique_key_3 = ` + s.dialect.Placeholder(3) + `
		  , body = ` + s.dialect.Placeholder(4) + `
		  , revision = ` + s.dialect.Placeholder(5) + `
		  , updated_at = ` + s.dialect.Placeholder(6) + `
		WHERE collection = ` + s.dialect.Placeholder(7) + `
		  AND id = ` + s.dialect.Placeholder(8) + `
		  AND revision = ` + s.dialect.Placeholder(9)

	result, err := db.ExecContext(ctx, query,
		keys[0], keys[1], keys[2], string(doc.Body), expected+1, doc.UpdatedAt.UTC(),
		doc.Partition, doc.ID, expected)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (s *DocumentStore) current(ctx context.Context, db execer, partition, id string) (int64, time.Time, bool, error) {
	var (
		revision  int64
		createdAt time.Time
	)

	query := `SELECT revision, created_at FROM documents WHERE collection = ` +
		s.dialect.Placeholder(1) + ` AND id = ` + s.dialect.Placeholder(2)

	err := db.QueryRowContext(ctx, query, partition, id).Scan(&revision, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, false, nil
		}

		return 0, time.Time{}, false, fmt.Errorf("failed to read revision of %s/%s: %w", partition, id, err)
	}

	return revision, createdAt.UTC(), true, nil
}

func (s *DocumentStore) classify(op string, doc *persistence.Document, err error) error {
	if s.dialect.IsUniqueViolation(err) {
		return persistence.NewConflictError(op, doc, err)
	}

	return fmt.Errorf("failed to %s document %s/%s: %w", strings.ToLower(op), doc.Partition, doc.ID, err)
}

func (s *DocumentStore) rollback(ctx context.Context, tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
	}
}

// Create stores a new document.
func (s *DocumentStore) Create(ctx context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	doc.Revision = 1

	err := s.insert(ctx, s.db, doc)
	if err != nil {
		doc.Revision = 0

		return s.classify("Create", doc, err)
	}

	return nil
}

// Read retrieves a document, failing when it does not exist.
func (s *DocumentStore) Read(ctx context.Context, partition, id string) (*persistence.Document, error) {
	doc, err := s.ReadOrNil(ctx, partition, id)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, persistence.NewRecordError("Read", partition, id, persistence.ErrRecordNotFound)
	}

	return doc, nil
}

// ReadOrNil retrieves a document, returning nil when it does not exist.
func (s *DocumentStore) ReadOrNil(ctx context.Context, partition, id string) (*persistence.Document, error) {
	query := `
		SELECT` + documentColumns + `
		FROM documents
		WHERE collection = ` + s.dialect.Placeholder(1) + ` AND id = ` + s.dialect.Placeholder(2)

	doc, err := scanDocument(partition, s.db.QueryRowContext(ctx, query, partition, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read document %s/%s: %w", partition, id, err)
	}

	return doc, nil
}

// Update replaces an existing document after checking its revision.
// A zero revision skips the check.
func (s *DocumentStore) Update(ctx context.Context, doc *persistence.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer s.rollback(ctx, tx)

	revision, createdAt, found, err := s.current(ctx, tx, doc.Partition, doc.ID)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewRecordError("Update", doc.Partition, doc.ID, persistence.ErrRecordNotFound)
	}

	if doc.Revision != 0 && doc.Revision != revision {
		return persistence.NewRecordError("Update", doc.Partition, doc.ID, persistence.ErrRevisionConflict)
	}

	replaced, err := s.replace(ctx, tx, doc, revision)
	if err != nil {
		return s.classify("Update", doc, err)
	}

	if !replaced {
		return persistence.NewRecordError("Update", doc.Partition, doc.ID, persistence.ErrRevisionConflict)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit update of %s/%s: %w", doc.Partition, doc.ID, err)
	}

	doc.Revision = revision + 1
	doc.CreatedAt = createdAt

	return nil
}

// Upsert inserts or replaces a document without a revision check.
func (s *DocumentStore) Upsert(ctx context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer s.rollback(ctx, tx)

	revision, createdAt, found, err := s.current(ctx, tx, doc.Partition, doc.ID)
	if err != nil {
		return err
	}

	if found {
		replaced, err := s.replace(ctx, tx, doc, revision)
		if err != nil {
			return s.classify("Upsert", doc, err)
		}

		if !replaced {
			return persistence.NewRecordError("Upsert", doc.Partition, doc.ID, persistence.ErrRevisionConflict)
		}

		doc.CreatedAt = createdAt
		revision++
	} else {
		revision = 1
		doc.Revision = revision

		err := s.insert(ctx, tx, doc)
		if err != nil {
			return s.classify("Upsert", doc, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit upsert of %s/%s: %w", doc.Partition, doc.ID, err)
	}

	doc.Revision = revision

	return nil
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, partition, id string) error {
	query := `DELETE FROM documents WHERE collection = ` + s.dialect.Placeholder(1) +
		` AND id = ` + s.dialect.Placeholder(2)

	result, err := s.db.ExecContext(ctx, query, partition, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", partition, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewRecordError("Delete", partition, id, persistence.ErrRecordNotFound)
	}

	return nil
}

// Find pushes the filter down as equality predicates on body fields.
func (s *DocumentStore) Find(ctx context.Context, partition string, filter persistence.Filter) ([]*persistence.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	args := []any{partition}
	query := `
		SELECT` + documentColumns + `
		FROM documents
		WHERE collection = ` + s.dialect.Placeholder(1)

	for _, field := range fields {
		args = append(args, filter[field])
		query += ` AND ` + s.dialect.JSONField(field) + ` = ` + s.dialect.Placeholder(len(args))
	}

	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", partition, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	docs := make([]*persistence.Document, 0)

	for rows.Next() {
		doc, err := scanDocument(partition, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		docs = append(docs, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", partition, err)
	}

	return docs, nil
}
