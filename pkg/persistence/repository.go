package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/concord/pkg/models"
)

// Codec tells a Repository how to map a record type onto a Document.
type Codec[T any] struct {
	New         func() T
	ID          func(T) string
	Keys        func(T) UniqueKeys
	Revision    func(T) int64
	SetRevision func(T, int64)
	Touch       func(record T, created, updated time.Time)
}

// Repository is a typed view of one partition of a DocumentStore.
type Repository[T any] struct {
	store     DocumentStore
	partition string
	codec     Codec[T]
	now       func() time.Time
}

// NewRepository creates a typed repository over the given partition.
func NewRepository[T any](store DocumentStore, partition string, codec Codec[T]) *Repository[T] {
	return &Repository[T]{
		store:     store,
		partition: partition,
		codec:     codec,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for createdAt/updatedAt.
func (r *Repository[T]) WithClock(now func() time.Time) *Repository[T] {
	r.now = now

	return r
}

// Partition returns the partition the repository stores into.
func (r *Repository[T]) Partition() string {
	return r.partition
}

// timestamp returns the current time in UTC at second precision.
func (r *Repository[T]) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

func (r *Repository[T]) encode(record T) (*Document, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	doc := &Document{
		Partition: r.partition,
		ID:        r.codec.ID(record),
		Body:      body,
	}

	if r.codec.Keys != nil {
		doc.UniqueKeys = r.codec.Keys(record)
	}

	if r.codec.Revision != nil {
		doc.Revision = r.codec.Revision(record)
	}

	return doc, nil
}

func (r *Repository[T]) decode(doc *Document) (T, error) {
	record := r.codec.New()

	if err := json.Unmarshal(doc.Body, record); err != nil {
		var zero T

		return zero, NewRecordError("Decode", doc.Partition, doc.ID, fmt.Errorf("%w: %v", ErrSerialization, err))
	}

	if r.codec.SetRevision != nil {
		r.codec.SetRevision(record, doc.Revision)
	}

	return record, nil
}

// stamped encodes a copy of record carrying the new timestamps. The caller's
// record is only stamped by written, once the store accepted the document.
func (r *Repository[T]) stamped(record T, created, updated time.Time) (*Document, error) {
	doc, err := r.encode(record)
	if err != nil || r.codec.Touch == nil {
		return doc, err
	}

	clone, err := r.decode(doc)
	if err != nil {
		return nil, err
	}

	r.codec.Touch(clone, created, updated)

	return r.encode(clone)
}

func (r *Repository[T]) written(record T, revision int64, created, updated time.Time) {
	if r.codec.Touch != nil {
		r.codec.Touch(record, created, updated)
	}

	if r.codec.SetRevision != nil {
		r.codec.SetRevision(record, revision)
	}
}

// Create stores a new record, stamping both timestamps.
func (r *Repository[T]) Create(ctx context.Context, record T) error {
	now := r.timestamp()

	doc, err := r.stamped(record, now, now)
	if err != nil {
		return err
	}

	doc.CreatedAt, doc.UpdatedAt = now, now

	if err := r.store.Create(ctx, doc); err != nil {
		return err
	}

	r.written(record, doc.Revision, now, now)

	return nil
}

// Read loads a record, failing with ErrRecordNotFound when absent.
func (r *Repository[T]) Read(ctx context.Context, id string) (T, error) {
	doc, err := r.store.Read(ctx, r.partition, id)
	if err != nil {
		var zero T

		return zero, err
	}

	return r.decode(doc)
}

// ReadOrNil loads a record and reports found=false when absent.
func (r *Repository[T]) ReadOrNil(ctx context.Context, id string) (T, bool, error) {
	var zero T

	doc, err := r.store.ReadOrNil(ctx, r.partition, id)
	if err != nil || doc == nil {
		return zero, false, err
	}

	record, err := r.decode(doc)
	if err != nil {
		return zero, false, err
	}

	return record, true, nil
}

// Update replaces a record. The record's revision must match the stored one.
func (r *Repository[T]) Update(ctx context.Context, record T) error {
	now := r.timestamp()

	doc, err := r.stamped(record, time.Time{}, now)
	if err != nil {
		return err
	}

	doc.UpdatedAt = now

	if err := r.store.Update(ctx, doc); err != nil {
		return err
	}

	r.written(record, doc.Revision, time.Time{}, now)

	return nil
}

// Upsert inserts or replaces a record without a revision check.
func (r *Repository[T]) Upsert(ctx context.Context, record T) error {
	now := r.timestamp()

	doc, err := r.stamped(record, now, now)
	if err != nil {
		return err
	}

	doc.CreatedAt, doc.UpdatedAt = now, now

	if err := r.store.Upsert(ctx, doc); err != nil {
		return err
	}

	r.written(record, doc.Revision, now, now)

	return nil
}

// Delete removes a record by id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.partition, id)
}

// Find returns every record whose top-level fields match the filter.
func (r *Repository[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	docs, err := r.store.Find(ctx, r.partition, filter)
	if err != nil {
		return nil, err
	}

	records := make([]T, 0, len(docs))

	for _, doc := range docs {
		record, err := r.decode(doc)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

// touchCreated keeps an existing creation time, so updates never reset it.
func touchCreated(current *time.Time, created time.Time) {
	if !created.IsZero() && current.IsZero() {
		*current = created
	}
}

// WorkflowCodec maps workflows onto documents.
var WorkflowCodec = Codec[*models.Workflow]{
	New: func() *models.Workflow { return &models.Workflow{} },
	ID:  func(w *models.Workflow) string { return w.ID },
	Touch: func(w *models.Workflow, created, updated time.Time) {
		touchCreated(&w.CreatedAt, created)
		w.UpdatedAt = updated
	},
}

// DefinitionCodec maps definitions onto documents. The first unique key
// prevents two definitions claiming the same version of a workflow.
var DefinitionCodec = Codec[*models.Definition]{
	New: func() *models.Definition { return &models.Definition{} },
	ID:  func(d *models.Definition) string { return d.ID },
	Keys: func(d *models.Definition) UniqueKeys {
		return UniqueKeys{d.WorkflowID + "#" + strconv.Itoa(d.Version)}
	},
	Touch: func(d *models.Definition, created, _ time.Time) {
		touchCreated(&d.CreatedAt, created)
	},
}

// InstanceCodec maps instances onto documents and tracks their revision.
var InstanceCodec = Codec[*models.Instance]{
	New:         func() *models.Instance { return &models.Instance{} },
	ID:          func(i *models.Instance) string { return i.ID },
	Revision:    func(i *models.Instance) int64 { return i.Revision },
	SetRevision: func(i *models.Instance, revision int64) { i.Revision = revision },
	Touch: func(i *models.Instance, created, updated time.Time) {
		touchCreated(&i.CreatedAt, created)
		i.UpdatedAt = updated
	},
}

// OperationLogCodec maps operation logs onto documents.
var OperationLogCodec = Codec[*models.OperationLog]{
	New: func() *models.OperationLog { return &models.OperationLog{} },
	ID:  func(l *models.OperationLog) string { return l.ID },
	Touch: func(l *models.OperationLog, created, _ time.Time) {
		touchCreated(&l.CreatedAt, created)
	},
}
