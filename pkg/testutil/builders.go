// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/concord/pkg/models"
	"github.com/google/uuid"
)

// StartNode returns a START marker.
func StartNode() *models.Node {
	return &models.Node{ID: "start", Type: models.NodeTypeStart, Name: "Start"}
}

// EndNode returns an END marker.
func EndNode() *models.Node {
	return &models.Node{ID: "end", Type: models.NodeTypeEnd, Name: "End"}
}

// SingleNode returns a SINGLE node approved by operatorID.
func SingleNode(id, operatorID string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeSingle, Name: "Approve " + id, OperatorID: operatorID}
}

// MultipleNode returns a MULTIPLE node with the given policy and approvers.
func MultipleNode(id string, approvalType models.ApprovalType, operatorIDs ...string) *models.Node {
	return &models.Node{
		ID:           id,
		Type:         models.NodeTypeMultiple,
		Name:         "Approve " + id,
		OperatorIDs:  operatorIDs,
		ApprovalType: approvalType,
	}
}

// RobotNode returns a ROBOT node running the given plugins.
func RobotNode(id string, plugins ...string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeRobot, Name: "Robot " + id, Plugins: plugins}
}

// CreateTestDefinition creates a definition wrapping nodes between START and
// END markers. Overrides are applied last.
func CreateTestDefinition(nodes []*models.Node, overrides ...func(*models.Definition)) *models.Definition {
	sequence := make([]*models.Node, 0, len(nodes)+2)
	sequence = append(sequence, StartNode())
	sequence = append(sequence, nodes...)
	sequence = append(sequence, EndNode())

	definition := &models.Definition{
		ID:               uuid.New().String(),
		WorkflowID:       "wf-test",
		Version:          1,
		Nodes:            sequence,
		ApplicationModes: []models.ApplicationMode{models.ApplicationModeSelf, models.ApplicationModeProxy},
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithWorkflow sets the workflow and version of the definition.
func WithWorkflow(workflowID string, version int) func(*models.Definition) {
	return func(d *models.Definition) {
		d.WorkflowID = workflowID
		d.Version = version
	}
}

// WithReturnToStart makes REJECT rewind to the START marker.
func WithReturnToStart() func(*models.Definition) {
	return func(d *models.Definition) {
		d.ReturnToStartNode = true
	}
}

// WithModes restricts the application modes of the definition.
func WithModes(modes ...models.ApplicationMode) func(*models.Definition) {
	return func(d *models.Definition) {
		d.ApplicationModes = modes
	}
}

// CreateTestInstance creates a NEW instance of definition sitting on its START marker.
func CreateTestInstance(definition *models.Definition, applicant string, overrides ...func(*models.Instance)) *models.Instance {
	instance := &models.Instance{
		ID:                uuid.New().String(),
		WorkflowID:        definition.WorkflowID,
		DefinitionID:      definition.ID,
		NodeID:            definition.StartNode().ID,
		Status:            models.InstanceStatusNew,
		ApplyMode:         models.ApplicationModeSelf,
		Applicant:         applicant,
		OperatorIDs:       []string{},
		OperatorOrgIDs:    []string{},
		ExpandOperatorIDs: []string{},
		ParallelApproval:  map[string]models.ApprovalStatus{},
	}

	for _, override := range overrides {
		override(instance)
	}

	return instance
}

// AtNode places the instance on nodeID with status PROCESSING.
func AtNode(nodeID string) func(*models.Instance) {
	return func(i *models.Instance) {
		i.NodeID = nodeID
		i.Status = models.InstanceStatusProcessing
	}
}
