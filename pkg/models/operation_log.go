package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownContextKind is returned when a stored operator context carries a
// tag that is not registered.
var ErrUnknownContextKind = errors.New("unknown operator context kind")

// OperationLog is the audit record written for every resolved action.
type OperationLog struct {
	ID         string          `json:"id"`
	InstanceID string          `json:"instance_id"`
	WorkflowID string          `json:"workflow_id"`
	Action     Action          `json:"action"`
	OperatorID string          `json:"operator_id"`
	FromNodeID string          `json:"from_node_id"`
	ToNodeID   string          `json:"to_node_id"`
	FromStatus InstanceStatus  `json:"from_status"`
	ToStatus   InstanceStatus  `json:"to_status"`
	Comment    string          `json:"comment,omitempty"`
	Context    OperatorContext `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OperatorContext is extra, action-specific detail attached to a log entry.
type OperatorContext interface {
	ContextKind() string
}

// ApprovalContext describes the ledger after an AND-node vote.
type ApprovalContext struct {
	Approved []string `json:"approved"`
	Pending  []string `json:"pending"`
}

func (ApprovalContext) ContextKind() string { return "approval" }

// TransitionContext describes a positional jump.
type TransitionContext struct {
	BackMode     BackMode `json:"back_mode,omitempty"`
	TargetNodeID string   `json:"target_node_id,omitempty"`
	DefinitionID string   `json:"definition_id,omitempty"`
}

func (TransitionContext) ContextKind() string { return "transition" }

// PluginContext carries the outputs of Robot-node plugins.
type PluginContext struct {
	Results map[string]any `json:"results"`
}

func (PluginContext) ContextKind() string { return "plugin" }

var operatorContextKinds = map[string]func() OperatorContext{
	"approval":   func() OperatorContext { return &ApprovalContext{} },
	"transition": func() OperatorContext { return &TransitionContext{} },
	"plugin":     func() OperatorContext { return &PluginContext{} },
}

type taggedContext struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type operationLogJSON struct {
	*operationLogAlias
	Context *taggedContext `json:"context,omitempty"`
}

type operationLogAlias OperationLog

// MarshalJSON encodes the log with its context as a {kind, data} pair.
func (l OperationLog) MarshalJSON() ([]byte, error) {
	alias := operationLogAlias(l)
	out := operationLogJSON{operationLogAlias: &alias}

	if l.Context != nil {
		data, err := json.Marshal(l.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal operator context: %w", err)
		}

		out.Context = &taggedContext{Kind: l.Context.ContextKind(), Data: data}
	}

	return json.Marshal(out)
}

// UnmarshalJSON resolves the context through the registered kinds.
func (l *OperationLog) UnmarshalJSON(data []byte) error {
	alias := (*operationLogAlias)(l)
	in := operationLogJSON{operationLogAlias: alias}

	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	l.Context = nil

	if in.Context == nil {
		return nil
	}

	factory, ok := operatorContextKinds[in.Context.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContextKind, in.Context.Kind)
	}

	ctx := factory()
	if err := json.Unmarshal(in.Context.Data, ctx); err != nil {
		return fmt.Errorf("failed to unmarshal %s context: %w", in.Context.Kind, err)
	}

	l.Context = ctx

	return nil
}
