package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ApplicationMode says who may submit an instance.
type ApplicationMode string

const (
	ApplicationModeSelf  ApplicationMode = "SELF"  // The applicant submits for themselves
	ApplicationModeProxy ApplicationMode = "PROXY" // Someone submits on the applicant's behalf
)

// Structural definition errors.
var (
	ErrStartNodeMissing  = errors.New("definition must start with a START node")
	ErrEndNodeMissing    = errors.New("definition must end with an END node")
	ErrMarkerMisplaced   = errors.New("START and END nodes may only appear at the boundaries")
	ErrDuplicateNodeID   = errors.New("duplicate node id")
	ErrNoActionableNode  = errors.New("definition must contain at least one node between START and END")
	ErrNoApplicationMode = errors.New("definition must allow at least one application mode")
)

// Definition is one immutable, versioned node graph of a workflow.
type Definition struct {
	ID                string            `json:"id"`
	WorkflowID        string            `json:"workflow_id"         validate:"required"`
	Version           int               `json:"version"`
	Nodes             []*Node           `json:"nodes"               validate:"required,min=3,dive"`
	ApplicationModes  []ApplicationMode `json:"application_modes"   validate:"required,min=1,dive,oneof=SELF PROXY"`
	ReturnToStartNode bool              `json:"return_to_start_node"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Validate checks the structural invariants of the node sequence.
func (d *Definition) Validate() error {
	if len(d.ApplicationModes) == 0 {
		return ErrNoApplicationMode
	}

	if len(d.Nodes) == 0 || d.Nodes[0].Type != NodeTypeStart {
		return ErrStartNodeMissing
	}

	last := len(d.Nodes) - 1
	if d.Nodes[last].Type != NodeTypeEnd {
		return ErrEndNodeMissing
	}

	if last < 2 {
		return ErrNoActionableNode
	}

	seen := make(map[string]bool, len(d.Nodes))

	for i, node := range d.Nodes {
		if !IsKnownNodeType(node.Type) {
			return fmt.Errorf("%w: %q at index %d", ErrNodeTypeMismatch, node.Type, i)
		}

		if node.ApprovalType != "" && !IsKnownApprovalType(node.ApprovalType) {
			return fmt.Errorf("%w: %q on node %s", ErrUnknownApprovalType, node.ApprovalType, node.ID)
		}

		if node.IsMarker() && i != 0 && i != last {
			return fmt.Errorf("%w: %s at index %d", ErrMarkerMisplaced, node.Type, i)
		}

		if seen[node.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		seen[node.ID] = true
	}

	return nil
}

// IndexOf returns the position of nodeID, or -1.
func (d *Definition) IndexOf(nodeID string) int {
	for i, node := range d.Nodes {
		if node.ID == nodeID {
			return i
		}
	}

	return -1
}

// NodeByID returns the node with the given id, or nil.
func (d *Definition) NodeByID(nodeID string) *Node {
	if i := d.IndexOf(nodeID); i >= 0 {
		return d.Nodes[i]
	}

	return nil
}

// NodeAt returns the node at index i, or nil when out of range.
func (d *Definition) NodeAt(i int) *Node {
	if i < 0 || i >= len(d.Nodes) {
		return nil
	}

	return d.Nodes[i]
}

// StartNode returns the START marker.
func (d *Definition) StartNode() *Node {
	return d.NodeAt(0)
}

// EndNode returns the END marker.
func (d *Definition) EndNode() *Node {
	return d.NodeAt(len(d.Nodes) - 1)
}

// FirstActionableNode returns the node right after the START marker.
func (d *Definition) FirstActionableNode() *Node {
	return d.NodeAt(1)
}

// SupportsMode reports whether instances may be submitted in the given mode.
func (d *Definition) SupportsMode(mode ApplicationMode) bool {
	return slices.Contains(d.ApplicationModes, mode)
}
