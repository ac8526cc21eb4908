// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/concord/pkg/engine"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest            = errors.New("invalid request")
	ErrInvalidSortField          = errors.New("invalid sort field")
	ErrInvalidSortOrder          = errors.New("invalid sort order")
	ErrEmptyOwnerID              = errors.New("owner ID cannot be empty")
	ErrInvalidDefinition         = errors.New("invalid definition")
	ErrApplicationModeNotAllowed = errors.New("application mode not allowed by definition")

	// Not Found Errors (404 Not Found).
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrDefinitionNotFound = errors.New("definition not found")
	ErrInstanceNotFound   = errors.New("instance not found")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowNotPublished = errors.New("workflow has no published definition")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrApplicationModeNotAllowed) ||
		errors.Is(err, engine.ErrOperatorInvalid) ||
		errors.Is(err, engine.ErrUnknownAction) ||
		errors.Is(err, engine.ErrDefinitionRequired) ||
		errors.Is(err, engine.ErrDefinitionMismatch) ||
		errors.Is(err, persistence.ErrInvalidRecordID) ||
		errors.Is(err, persistence.ErrInvalidFilterField)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound)
}

// IsConflictError checks if an error is a business logic or storage conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotPublished) ||
		errors.Is(err, engine.ErrInvalidState) ||
		errors.Is(err, engine.ErrInstanceClosed) ||
		persistence.IsConflict(err) ||
		persistence.IsRevisionConflict(err)
}

// IsUnprocessableError checks if an error reports an action the bound
// definition cannot serve (HTTP 422).
func IsUnprocessableError(err error) bool {
	return engine.IsNodeNotFound(err) ||
		engine.IsPluginExecution(err) ||
		errors.Is(err, models.ErrNodeTypeMismatch) ||
		errors.Is(err, models.ErrUnknownApprovalType)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
