// Package redis provides a Redis persistence implementation for approval workflows.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/concord/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "concord"
	maxTxRetries  = 8
)

var errNotFound = errors.New("document not found")

// DocumentStore keeps each document in a hash and claims unique keys with
// plain string keys. Writes run in WATCH/MULTI transactions.
type DocumentStore struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewPersistence connects to the Redis server addressed by databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	options, err := goredis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return persistence.NewPersistence(NewDocumentStore(client, defaultPrefix, logger)), nil
}

// NewDocumentStore wraps an existing client. Every key is namespaced by prefix.
func NewDocumentStore(client goredis.UniversalClient, prefix string, logger *slog.Logger) *DocumentStore {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &DocumentStore{
		client: client,
		prefix: prefix,
		logger: logger.With("module", "redis_store", "prefix", prefix),
	}
}

func (s *DocumentStore) docKey(partition, id string) string {
	return s.prefix + ":" + partition + ":doc:" + id
}

func (s *DocumentStore) uniqueKey(partition string, position int, value string) string {
	return s.prefix + ":" + partition + ":uk" + strconv.Itoa(position+1) + ":" + value
}

func (s *DocumentStore) indexKey(partition string) string {
	return s.prefix + ":" + partition + ":ids"
}

func (s *DocumentStore) uniqueKeys(partition string, keys persistence.UniqueKeys) []string {
	names := make([]string, len(keys))
	for i, value := range keys {
		names[i] = s.uniqueKey(partition, i, value)
	}

	return names
}

// Close closes the client.
func (s *DocumentStore) Close(_ context.Context) error {
	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck pings the server.
func (s *DocumentStore) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

type getter interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func (s *DocumentStore) load(ctx context.Context, client getter, partition, id string) (*persistence.Document, error) {
	fields, err := client.HGetAll(ctx, s.docKey(partition, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s/%s: %w", partition, id, err)
	}

	if len(fields) == 0 {
		return nil, nil
	}

	doc := &persistence.Document{
		Partition:  partition,
		ID:         id,
		UniqueKeys: persistence.UniqueKeys{fields["k1"], fields["k2"], fields["k3"]},
		Body:       []byte(fields["body"]),
	}

	doc.Revision, err = strconv.ParseInt(fields["rev"], 10, 64)
	if err != nil {
		return nil, persistence.NewRecordError("Read", partition, id, fmt.Errorf("%w: revision: %v", persistence.ErrSerialization, err))
	}

	doc.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, persistence.NewRecordError("Read", partition, id, fmt.Errorf("%w: created_at: %v", persistence.ErrSerialization, err))
	}

	doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, persistence.NewRecordError("Read", partition, id, fmt.Errorf("%w: updated_at: %v", persistence.ErrSerialization, err))
	}

	return doc, nil
}

// claimable reports whether every unique key is free or already owned by id.
func (s *DocumentStore) claimable(ctx context.Context, tx *goredis.Tx, doc *persistence.Document, names []string) (bool, error) {
	for _, name := range names {
		owner, err := tx.Get(ctx, name).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}

		if err != nil {
			return false, fmt.Errorf("failed to check unique key %s: %w", name, err)
		}

		if owner != doc.ID {
			return false, nil
		}
	}

	return true, nil
}

// write stages the document, its unique key claims and its index entry.
// Claims held by previous are released when they changed.
func (s *DocumentStore) write(ctx context.Context, pipe goredis.Pipeliner, doc *persistence.Document, previous *persistence.Document) {
	keys := doc.UniqueKeys.Resolve(doc.ID)

	if previous != nil {
		old := previous.UniqueKeys.Resolve(previous.ID)
		for i := range old {
			if old[i] != keys[i] {
				pipe.Del(ctx, s.uniqueKey(doc.Partition, i, old[i]))
			}
		}
	}

	pipe.HSet(ctx, s.docKey(doc.Partition, doc.ID),
		"body", string(doc.Body),
		"k1", keys[0],
		"k2", keys[1],
		"k3", keys[2],
		"rev", strconv.FormatInt(doc.Revision, 10),
		"created_at", doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)

	for _, name := range s.uniqueKeys(doc.Partition, keys) {
		pipe.Set(ctx, name, doc.ID, 0)
	}

	pipe.ZAdd(ctx, s.indexKey(doc.Partition), goredis.Z{
		Score:  float64(doc.CreatedAt.UnixMilli()),
		Member: doc.ID,
	})
}

// transact runs fn under WATCH on the document and its unique key names,
// retrying when a watched key changed before EXEC.
func (s *DocumentStore) transact(ctx context.Context, doc *persistence.Document, fn func(tx *goredis.Tx) error) error {
	watched := append([]string{s.docKey(doc.Partition, doc.ID)},
		s.uniqueKeys(doc.Partition, doc.UniqueKeys.Resolve(doc.ID))...)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, watched...)
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.DebugContext(ctx, "transaction retried", "partition", doc.Partition, "id", doc.ID, "attempt", attempt+1)

			continue
		}

		return err
	}

	return persistence.NewRecordError("Write", doc.Partition, doc.ID, persistence.ErrRevisionConflict)
}

// Create stores a new document.
func (s *DocumentStore) Create(ctx context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	names := s.uniqueKeys(doc.Partition, doc.UniqueKeys.Resolve(doc.ID))

	err := s.transact(ctx, doc, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, s.docKey(doc.Partition, doc.ID)).Result()
		if err != nil {
			return fmt.Errorf("failed to check document %s/%s: %w", doc.Partition, doc.ID, err)
		}

		if exists == 1 {
			return persistence.NewConflictError("Create", doc, nil)
		}

		free, err := s.claimable(ctx, tx, doc, names)
		if err != nil {
			return err
		}

		if !free {
			return persistence.NewConflictError("Create", doc, nil)
		}

		staged := *doc
		staged.Revision = 1

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.write(ctx, pipe, &staged, nil)

			return nil
		})

		return err
	})
	if err != nil {
		return err
	}

	doc.Revision = 1

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
	return s.load(ctx, s.client, partition, id)
}

// Update replaces an existing document after checking its revision.
// A zero revision skips the check.
func (s *DocumentStore) Update(ctx context.Context, doc *persistence.Document) error {
	return s.replace(ctx, "Update", doc, false)
}

// Upsert inserts or replaces a document without a revision check.
func (s *DocumentStore) Upsert(ctx context.Context, doc *persistence.Document) error {
	if err := persistence.ValidateID(doc.ID); err != nil {
		return err
	}

	return s.replace(ctx, "Upsert", doc, true)
}

func (s *DocumentStore) replace(ctx context.Context, op string, doc *persistence.Document, insert bool) error {
	names := s.uniqueKeys(doc.Partition, doc.UniqueKeys.Resolve(doc.ID))
	expected := doc.Revision

	if insert {
		expected = 0
	}

	var (
		revision  int64
		createdAt time.Time
	)

	err := s.transact(ctx, doc, func(tx *goredis.Tx) error {
		current, err := s.load(ctx, tx, doc.Partition, doc.ID)
		if err != nil {
			return err
		}

		if current == nil && !insert {
			return persistence.NewRecordError(op, doc.Partition, doc.ID, persistence.ErrRecordNotFound)
		}

		if current != nil && expected != 0 && current.Revision != expected {
			return persistence.NewRecordError(op, doc.Partition, doc.ID, persistence.ErrRevisionConflict)
		}

		free, err := s.claimable(ctx, tx, doc, names)
		if err != nil {
			return err
		}

		if !free {
			return persistence.NewConflictError(op, doc, nil)
		}

		staged := *doc
		staged.Revision = 1

		if current != nil {
			staged.Revision = current.Revision + 1
			staged.CreatedAt = current.CreatedAt
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.write(ctx, pipe, &staged, current)

			return nil
		})
		if err != nil {
			return err
		}

		revision, createdAt = staged.Revision, staged.CreatedAt

		return nil
	})
	if err != nil {
		return err
	}

	doc.Revision = revision
	doc.CreatedAt = createdAt

	return nil
}

// Delete removes a document together with its unique key claims.
func (s *DocumentStore) Delete(ctx context.Context, partition, id string) error {
	target := &persistence.Document{Partition: partition, ID: id}

	err := s.transact(ctx, target, func(tx *goredis.Tx) error {
		current, err := s.load(ctx, tx, partition, id)
		if err != nil {
			return err
		}

		if current == nil {
			return errNotFound
		}

		keys := current.UniqueKeys.Resolve(id)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.docKey(partition, id))

			for _, name := range s.uniqueKeys(partition, keys) {
				pipe.Del(ctx, name)
			}

			pipe.ZRem(ctx, s.indexKey(partition), id)

			return nil
		})

		return err
	})
	if errors.Is(err, errNotFound) {
		return persistence.NewRecordError("Delete", partition, id, persistence.ErrRecordNotFound)
	}

	return err
}

// Find walks the partition index in creation order and filters in memory.
func (s *DocumentStore) Find(ctx context.Context, partition string, filter persistence.Filter) ([]*persistence.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(partition), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}

	docs := make([]*persistence.Document, 0, len(ids))

	for _, id := range ids {
		doc, err := s.load(ctx, s.client, partition, id)
		if err != nil {
			return nil, err
		}

		if doc == nil {
			s.logger.WarnContext(ctx, "index entry without document", "partition", partition, "id", id)

			continue
		}

		ok, err := filter.Matches(doc.Body)
		if err != nil {
			return nil, persistence.NewRecordError("Find", partition, id, err)
		}

		if ok {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}
