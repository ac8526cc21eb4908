// Package events defines the messages published when instances and workflows change.
package events

import (
	"time"

	"github.com/dukex/concord/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every concord event.
const Topic = "concord.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceActionedEvent    EventType = "instance.actioned"
	DefinitionPublishedEvent EventType = "definition.published"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

// NewBaseEvent creates a base event with a fresh id and the current time.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// InstanceActioned is published after an action on an instance was persisted.
type InstanceActioned struct {
	BaseEvent

	InstanceID string                `json:"instance_id"`
	OperatorID string                `json:"operator_id"`
	Action     models.Action         `json:"action"`
	FromNodeID string                `json:"from_node_id"`
	ToNodeID   string                `json:"to_node_id"`
	Status     models.InstanceStatus `json:"status"`
	Withdrawn  bool                  `json:"withdrawn,omitempty"`
	Comment    string                `json:"comment,omitempty"`

	// Approvers of the node the instance is now on.
	PendingOperatorIDs []string `json:"pending_operator_ids,omitempty"`
}

func (e InstanceActioned) GetType() EventType {
	return InstanceActionedEvent
}

// DefinitionPublished is published when a workflow gets a new definition version.
type DefinitionPublished struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
}

func (e DefinitionPublished) GetType() EventType {
	return DefinitionPublishedEvent
}

// Factories maps each event type to a constructor used when decoding messages.
var Factories = map[EventType]func() any{
	InstanceActionedEvent:    func() any { return &InstanceActioned{} },
	DefinitionPublishedEvent: func() any { return &DefinitionPublished{} },
}
