// Package persistence provides the data storage abstraction used by the engine.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dukex/concord/pkg/models"
)

// Partitions used by the typed repositories.
const (
	PartitionWorkflows     = "workflows"
	PartitionDefinitions   = "definitions"
	PartitionInstances     = "instances"
	PartitionOperationLogs = "operation_logs"
)

// UniqueKeys holds up to three additional unique values of a document.
// Empty entries default to the document id.
type UniqueKeys [3]string

// Resolve returns the keys with empty entries replaced by id.
func (k UniqueKeys) Resolve(id string) UniqueKeys {
	resolved := k

	for i := range resolved {
		if resolved[i] == "" {
			resolved[i] = id
		}
	}

	return resolved
}

// Document is the unit stored by every backend.
type Document struct {
	Partition  string
	ID         string
	UniqueKeys UniqueKeys
	Body       json.RawMessage
	Revision   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Filter selects documents by equality on top-level body fields.
type Filter map[string]string

var filterFieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate rejects field names that are not plain snake_case identifiers.
func (f Filter) Validate() error {
	for field := range f {
		if !filterFieldPattern.MatchString(field) {
			return fmt.Errorf("%w: %q", ErrInvalidFilterField, field)
		}
	}

	return nil
}

// Matches evaluates the filter against a JSON body. Backends that cannot
// push filters down to the store use it after loading the partition.
func (f Filter) Matches(body []byte) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	for field, want := range f {
		value, ok := fields[field]
		if !ok || value == nil || fmt.Sprint(value) != want {
			return false, nil
		}
	}

	return true, nil
}

// ValidateID rejects ids that cannot be used as storage keys.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRecordID, id)
	}

	return nil
}

// DocumentStore is the backend contract. Uniqueness of the id and of each
// resolved unique key is enforced within a partition.
type DocumentStore interface {
	// Create inserts a new document with revision 1.
	Create(ctx context.Context, doc *Document) error
	// Read returns ErrRecordNotFound when the document is absent.
	Read(ctx context.Context, partition, id string) (*Document, error)
	// ReadOrNil returns nil without error when the document is absent.
	ReadOrNil(ctx context.Context, partition, id string) (*Document, error)
	// Update replaces an existing document whose revision matches doc.Revision.
	Update(ctx context.Context, doc *Document) error
	// Upsert inserts or replaces without a revision check.
	Upsert(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, partition, id string) error
	Find(ctx context.Context, partition string, filter Filter) ([]*Document, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Persistence exposes the typed repositories of the engine.
type Persistence interface {
	WorkflowRepository() *Repository[*models.Workflow]
	DefinitionRepository() *Repository[*models.Definition]
	InstanceRepository() *Repository[*models.Instance]
	OperationLogRepository() *Repository[*models.OperationLog]
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

type documentPersistence struct {
	store         DocumentStore
	workflows     *Repository[*models.Workflow]
	definitions   *Repository[*models.Definition]
	instances     *Repository[*models.Instance]
	operationLogs *Repository[*models.OperationLog]
}

// NewPersistence builds the typed repositories on top of a document store.
func NewPersistence(store DocumentStore) Persistence {
	return &documentPersistence{
		store:         store,
		workflows:     NewRepository(store, PartitionWorkflows, WorkflowCodec),
		definitions:   NewRepository(store, PartitionDefinitions, DefinitionCodec),
		instances:     NewRepository(store, PartitionInstances, InstanceCodec),
		operationLogs: NewRepository(store, PartitionOperationLogs, OperationLogCodec),
	}
}

func (p *documentPersistence) WorkflowRepository() *Repository[*models.Workflow] {
	return p.workflows
}

func (p *documentPersistence) DefinitionRepository() *Repository[*models.Definition] {
	return p.definitions
}

func (p *documentPersistence) InstanceRepository() *Repository[*models.Instance] {
	return p.instances
}

func (p *documentPersistence) OperationLogRepository() *Repository[*models.OperationLog] {
	return p.operationLogs
}

func (p *documentPersistence) HealthCheck(ctx context.Context) error {
	return p.store.HealthCheck(ctx)
}

func (p *documentPersistence) Close(ctx context.Context) error {
	return p.store.Close(ctx)
}
