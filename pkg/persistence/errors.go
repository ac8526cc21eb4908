// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRecordNotFound indicates no document exists for the partition and id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordConflict indicates a uniqueness violation on id or a unique key.
	ErrRecordConflict = errors.New("record conflict")

	// ErrRevisionConflict indicates the document changed since it was read.
	ErrRevisionConflict = errors.New("record was modified concurrently")

	// ErrSerialization indicates a stored document could not be reconstituted.
	ErrSerialization = errors.New("record serialization failed")

	// ErrInvalidFilterField indicates a Find filter named an unsupported field.
	ErrInvalidFilterField = errors.New("invalid filter field")

	// ErrInvalidRecordID indicates an id that cannot be stored.
	ErrInvalidRecordID = errors.New("invalid record id")
)

// ConflictKind classifies a uniqueness violation.
type ConflictKind string

const (
	// IDConflict is a true duplicate: id and every unique key carry one value.
	IDConflict ConflictKind = "ID_CONFLICT"

	// UniqueKeyConflict is a partial collision on declared unique keys.
	UniqueKeyConflict ConflictKind = "UNIQUE_KEY_CONFLICT"
)

// ClassifyConflict compares the distinct values of the id and the resolved
// unique keys. One distinct value means the record is a plain duplicate.
func ClassifyConflict(id string, keys UniqueKeys) ConflictKind {
	resolved := keys.Resolve(id)
	distinct := map[string]bool{id: true}

	for _, key := range resolved {
		distinct[key] = true
	}

	if len(distinct) == 1 {
		return IDConflict
	}

	return UniqueKeyConflict
}

// ConflictError carries the offending key values of a uniqueness violation.
type ConflictError struct {
	Op        string
	Partition string
	ID        string
	Keys      map[string]string
	Kind      ConflictKind
	Err       error // Driver error, if any
}

// NewConflictError builds a classified conflict for the given document.
func NewConflictError(op string, doc *Document, cause error) *ConflictError {
	resolved := doc.UniqueKeys.Resolve(doc.ID)

	return &ConflictError{
		Op:        op,
		Partition: doc.Partition,
		ID:        doc.ID,
		Keys: map[string]string{
			"id":           doc.ID,
			"unique_key_1": resolved[0],
			"unique_key_2": resolved[1],
			"unique_key_3": resolved[2],
		},
		Kind: ClassifyConflict(doc.ID, doc.UniqueKeys),
		Err:  cause,
	}
}

func (e *ConflictError) Error() string {
	names := make([]string, 0, len(e.Keys))
	for name := range e.Keys {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+e.Keys[name])
	}

	return fmt.Sprintf("%s operation failed for %s in partition %s: %s (%s)",
		e.Op, e.ID, e.Partition, strings.ToLower(string(e.Kind)), strings.Join(pairs, ", "))
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is makes every ConflictError match ErrRecordConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrRecordConflict
}

// RecordError wraps record-level errors with additional context.
type RecordError struct {
	Op        string // Operation being performed (e.g., "Read", "Update")
	Partition string
	ID        string
	Err       error
}

// NewRecordError creates a new record error with context.
func NewRecordError(op, partition, id string, err error) *RecordError {
	return &RecordError{Op: op, Partition: partition, ID: id, Err: err}
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s in partition %s: %v", e.Op, e.ID, e.Partition, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates a record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsConflict checks if an error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRecordConflict)
}

// IsIDConflict checks if an error is a uniqueness violation on a true duplicate.
func IsIDConflict(err error) bool {
	var conflict *ConflictError

	return errors.As(err, &conflict) && conflict.Kind == IDConflict
}

// IsUniqueKeyConflict checks if an error is a partial unique key collision.
func IsUniqueKeyConflict(err error) bool {
	var conflict *ConflictError

	return errors.As(err, &conflict) && conflict.Kind == UniqueKeyConflict
}

// IsRevisionConflict checks if an error reports a concurrent modification.
func IsRevisionConflict(err error) bool {
	return errors.Is(err, ErrRevisionConflict)
}

// IsSerialization checks if an error reports an undecodable document.
func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}
