package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/concord/pkg/events"
)

// LogActivity subscribes handlers that write every instance transition and
// definition publication to logger.
func LogActivity(sub EventSubscriber, logger *slog.Logger) error {
	l := logger.With("module", "activity")

	if err := On(sub, events.InstanceActionedEvent, func(ctx context.Context, event *events.InstanceActioned) error {
		l.InfoContext(ctx, "Instance actioned",
			"workflow_id", event.WorkflowID,
			"instance_id", event.InstanceID,
			"operator_id", event.OperatorID,
			"action", event.Action,
			"from_node_id", event.FromNodeID,
			"to_node_id", event.ToNodeID,
			"status", event.Status,
			"withdrawn", event.Withdrawn,
			"pending_operator_ids", event.PendingOperatorIDs)

		return nil
	}); err != nil {
		return err
	}

	return On(sub, events.DefinitionPublishedEvent, func(ctx context.Context, event *events.DefinitionPublished) error {
		l.InfoContext(ctx, "Definition published",
			"workflow_id", event.WorkflowID,
			"definition_id", event.DefinitionID,
			"version", event.Version)

		return nil
	})
}
