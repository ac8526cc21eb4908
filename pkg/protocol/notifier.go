package protocol

import (
	"context"

	"github.com/dukex/concord/pkg/models"
)

// Notification is the payload sent after an action was resolved and persisted.
type Notification struct {
	InstanceID string                `json:"instance_id"`
	WorkflowID string                `json:"workflow_id"`
	OperatorID string                `json:"operator_id"`
	Action     models.Action         `json:"action"`
	FromNodeID string                `json:"from_node_id"`
	ToNodeID   string                `json:"to_node_id"`
	Status     models.InstanceStatus `json:"status"`
	Withdrawn  bool                  `json:"withdrawn,omitempty"`
	Comment    string                `json:"comment,omitempty"`
}

// Notifier delivers notifications. Callers do not wait on delivery for correctness.
type Notifier interface {
	Send(ctx context.Context, instance *models.Instance, action models.Action, payload Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, *models.Instance, models.Action, Notification) error {
	return nil
}
