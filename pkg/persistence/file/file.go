// Package file provides file-based persistence implementation for approval workflows.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/concord/pkg/persistence"
)

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	return persistence.NewPersistence(NewDocumentStore(root))
}

// DocumentStore keeps one JSON file per document under root/<partition>/<id>.json.
type DocumentStore struct {
	root string
	mu   sync.Mutex
}

// envelope is the on-disk representation of a document.
type envelope struct {
	ID         string                 `json:"id"`
	Partition  string                 `json:"partition"`
	UniqueKeys persistence.UniqueKeys `json:"unique_keys"`
	Revision   int64                  `json:"revision"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Body       json.RawMessage        `json:"body"`
}

// NewDocumentStore creates a file document store rooted at root.
func NewDocumentStore(root string) *DocumentStore {
	return &DocumentStore{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (s *DocumentStore) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (s *DocumentStore) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *DocumentStore) partitionDir(partition string) string {
	return filepath.Clean(path.Join(s.root, partition))
}

func (s *DocumentStore) documentPath(partition, id string) string {
	return filepath.Clean(path.Join(s.root, partition, id+".json"))
}

func (s *DocumentStore) load(partition, id string) (*envelope, error) {
	body, err := os.ReadFile(s.documentPath(partition, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch document %s/%s: %w", partition, id, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, persistence.NewRecordError("Read", partition, id, fmt.Errorf("%w: %v", persistence.ErrSerialization, err))
	}

	return &env, nil
}

func (s *DocumentStore) loadAll(partition string) ([]*envelope, error) {
	dir := s.partitionDir(partition)

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", partition, err)
	}

	envelopes := make([]*envelope, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		env, err := s.load(partition, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if env != nil {
			envelopes = append(envelopes, env)
		}
	}

	sort.Slice(envelopes, func(i, j int) bool {
		if envelopes[i].CreatedAt.Equal(envelopes[j].CreatedAt) {
			return envelopes[i].ID < envelopes[j].ID
		}

		return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
	})

	return envelopes, nil
}

func (s *DocumentStore) write(env *envelope) error {
	if err := os.MkdirAll(s.partitionDir(env.Partition), 0o750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", env.Partition, err)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrSerialization, err)
	}

	// Write to a temp file first so readers never observe a partial document.
	target := s.documentPath(env.Partition, env.ID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", env.Partition, env.ID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit document %s/%s: %w", env.Partition, env.ID, err)
	}

	return nil
}

// checkUnique reports a conflict when another document in the partition
// shares the id or one of the resolved unique keys.
func (s *DocumentStore) checkUnique(op string, doc *persistence.Document, allowSelf bool) error {
	existing, err := s.loadAll(doc.Partition)
	if err != nil {
		return err
	}

	keys := doc.UniqueKeys.Resolve(doc.ID)

	for _, env := range existing {
		if env.ID == doc.ID {
			if allowSelf {
				continue
			}

			return persistence.NewConflictError(op, doc, nil)
		}

		other := env.UniqueKeys.Resolve(env.ID)
		for i := range keys {
			if keys[i] == other[i] {
				return persistence.NewConflictError(op, doc, nil)
			}
		}
	}

	return nil
}

func toDocument(env *envelope) *persistence.Document {
	return &persistence.Document{
		Partition:  env.Partition,
		ID:         env.ID,
		UniqueKeys: env.UniqueKeys,
		Body:       env.Body,
		Revision:   env.Revision,
		CreatedAt:  env.CreatedAt,
		UpdatedAt:  env.UpdatedAt,
	}
}

// Create stores a new document.
func (s *DocumentStore) Create(_ context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnique("Create", doc, false); err != nil {
		return err
	}

	doc.Revision = 1

	return s.write(&envelope{
		ID:         doc.ID,
		Partition:  doc.Partition,
		UniqueKeys: doc.UniqueKeys,
		Revision:   doc.Revision,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		Body:       doc.Body,
	})
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
func (s *DocumentStore) ReadOrNil(_ context.Context, partition, id string) (*persistence.Document, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, err
	}

	env, err := s.load(partition, id)
	if err != nil || env == nil {
		return nil, err
	}

	return toDocument(env), nil
}

// Update replaces an existing document after checking its revision.
func (s *DocumentStore) Update(_ context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(doc.Partition, doc.ID)
	if err != nil {
		return err
	}

	if current == nil {
		return persistence.NewRecordError("Update", doc.Partition, doc.ID, persistence.ErrRecordNotFound)
	}

	if doc.Revision != 0 && current.Revision != doc.Revision {
		return persistence.NewRecordError("Update", doc.Partition, doc.ID, persistence.ErrRevisionConflict)
	}

	if err := s.checkUnique("Update", doc, true); err != nil {
		return err
	}

	doc.Revision = current.Revision + 1
	doc.CreatedAt = current.CreatedAt

	return s.write(&envelope{
		ID:         doc.ID,
		Partition:  doc.Partition,
		UniqueKeys: doc.UniqueKeys,
		Revision:   doc.Revision,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		Body:       doc.Body,
	})
}

// Upsert inserts or replaces a document without a revision check.
func (s *DocumentStore) Upsert(_ context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(doc.Partition, doc.ID)
	if err != nil {
		return err
	}

	if err := s.checkUnique("Upsert", doc, true); err != nil {
		return err
	}

	doc.Revision = 1

	if current != nil {
		doc.Revision = current.Revision + 1
		doc.CreatedAt = current.CreatedAt
	}

	return s.write(&envelope{
		ID:         doc.ID,
		Partition:  doc.Partition,
		UniqueKeys: doc.UniqueKeys,
		Revision:   doc.Revision,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		Body:       doc.Body,
	})
}

// Delete removes a document from the file system.
func (s *DocumentStore) Delete(_ context.Context, partition, id string) error {
	if err := persistence.ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.documentPath(partition, id))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewRecordError("Delete", partition, id, persistence.ErrRecordNotFound)
		}

		return fmt.Errorf("failed to delete document %s/%s: %w", partition, id, err)
	}

	return nil
}

// Find loads the whole partition and filters it in memory.
func (s *DocumentStore) Find(_ context.Context, partition string, filter persistence.Filter) ([]*persistence.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	envelopes, err := s.loadAll(partition)
	if err != nil {
		return nil, err
	}

	docs := make([]*persistence.Document, 0, len(envelopes))

	for _, env := range envelopes {
		ok, err := filter.Matches(env.Body)
		if err != nil {
			return nil, persistence.NewRecordError("Find", partition, env.ID, err)
		}

		if ok {
			docs = append(docs, toDocument(env))
		}
	}

	return docs, nil
}
