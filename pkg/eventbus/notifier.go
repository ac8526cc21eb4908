package eventbus

import (
	"context"
	"slices"

	"github.com/dukex/concord/pkg/events"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
)

// Notifier implements protocol.Notifier by publishing InstanceActioned events
// keyed by instance id.
type Notifier struct {
	bus EventPublisher
}

func NewNotifier(bus EventPublisher) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) Send(ctx context.Context, instance *models.Instance, action models.Action, payload protocol.Notification) error {
	event := &events.InstanceActioned{
		BaseEvent:          events.NewBaseEvent(events.InstanceActionedEvent, payload.WorkflowID),
		InstanceID:         payload.InstanceID,
		OperatorID:         payload.OperatorID,
		Action:             action,
		FromNodeID:         payload.FromNodeID,
		ToNodeID:           payload.ToNodeID,
		Status:             payload.Status,
		Withdrawn:          payload.Withdrawn,
		Comment:            payload.Comment,
		PendingOperatorIDs: slices.Clone(instance.ExpandOperatorIDs),
	}

	return n.bus.Publish(ctx, payload.InstanceID, event)
}
