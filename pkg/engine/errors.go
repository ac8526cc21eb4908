package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/concord/pkg/models"
)

var (
	// ErrOperatorInvalid is returned when an action is issued without an operator.
	ErrOperatorInvalid = errors.New("operator id is required")

	// ErrNodeNotFound is returned when a referenced node is absent from the bound definition.
	ErrNodeNotFound = errors.New("node not found in definition")

	// ErrNodeTypeMismatch is returned when no behavior is registered for a node type.
	ErrNodeTypeMismatch = models.ErrNodeTypeMismatch

	// ErrInstanceClosed is returned for actions on an instance whose normal flow has ended.
	ErrInstanceClosed = errors.New("instance is closed")

	// ErrInvalidState is returned when an action does not apply to the instance's status.
	ErrInvalidState = errors.New("action not permitted in current instance state")

	// ErrUnknownAction is returned when no strategy is bound to an action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrDefinitionMismatch is returned when REBINDING targets another workflow.
	ErrDefinitionMismatch = errors.New("definition belongs to another workflow")

	// ErrDefinitionRequired is returned when REBINDING carries no target definition.
	ErrDefinitionRequired = errors.New("target definition is required")
)

// PluginExecutionError wraps a failure raised by a Robot-node plugin.
type PluginExecutionError struct {
	Plugin string
	NodeID string
	Err    error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin %s failed on node %s: %v", e.Plugin, e.NodeID, e.Err)
}

func (e *PluginExecutionError) Unwrap() error {
	return e.Err
}

// ActionError adds the action and instance to an error raised while dispatching.
type ActionError struct {
	Action     models.Action
	InstanceID string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on instance %s: %v", e.Action, e.InstanceID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsOperatorInvalid checks if an error reports a missing operator.
func IsOperatorInvalid(err error) bool {
	return errors.Is(err, ErrOperatorInvalid)
}

// IsNodeNotFound checks if an error reports a node missing from the definition.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsInstanceClosed checks if an error reports an action on a closed instance.
func IsInstanceClosed(err error) bool {
	return errors.Is(err, ErrInstanceClosed)
}

// IsPluginExecution checks if an error was raised by a plugin.
func IsPluginExecution(err error) bool {
	var pluginErr *PluginExecutionError

	return errors.As(err, &pluginErr)
}

func nodeNotFound(nodeID string) error {
	return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
}
