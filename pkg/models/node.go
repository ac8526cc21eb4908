// Package models defines the core domain models for approval workflows.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeType is the discriminant of the node variants.
type NodeType string

const (
	NodeTypeStart    NodeType = "START"
	NodeTypeEnd      NodeType = "END"
	NodeTypeSingle   NodeType = "SINGLE"   // One approver
	NodeTypeMultiple NodeType = "MULTIPLE" // Approver set resolved through the directory
	NodeTypeRobot    NodeType = "ROBOT"    // No human approver, runs plugins
)

// ApprovalType is the consensus policy of a node.
type ApprovalType string

const (
	ApprovalTypeSimple ApprovalType = "SIMPLE"
	ApprovalTypeOr     ApprovalType = "OR"
	ApprovalTypeAnd    ApprovalType = "AND"
)

var (
	// ErrNodeTypeMismatch is returned when a node carries an unknown discriminant.
	ErrNodeTypeMismatch = errors.New("node type mismatch")

	// ErrUnknownApprovalType is returned for an approval type no resolver handles.
	ErrUnknownApprovalType = errors.New("unknown approval type")
)

var knownNodeTypes = map[NodeType]bool{
	NodeTypeStart:    true,
	NodeTypeEnd:      true,
	NodeTypeSingle:   true,
	NodeTypeMultiple: true,
	NodeTypeRobot:    true,
}

var knownApprovalTypes = map[ApprovalType]bool{
	ApprovalTypeSimple: true,
	ApprovalTypeOr:     true,
	ApprovalTypeAnd:    true,
}

// IsKnownApprovalType reports whether t names a registered consensus policy.
func IsKnownApprovalType(t ApprovalType) bool {
	return knownApprovalTypes[t]
}

// IsKnownNodeType reports whether t is one of the supported node variants.
func IsKnownNodeType(t NodeType) bool {
	return knownNodeTypes[t]
}

// Node is one step of a definition. Variant-specific fields are only
// meaningful for the variant named by Type.
type Node struct {
	ID            string         `json:"node_id"                      validate:"required"`
	Type          NodeType       `json:"node_type"                    validate:"required"`
	Name          string         `json:"node_name"                    validate:"required,min=1"`
	Plugins       []string       `json:"plugins,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`

	// SINGLE
	OperatorID string `json:"operator_id,omitempty"`

	// MULTIPLE
	OperatorIDs    []string     `json:"operator_id_set,omitempty"`
	OperatorOrgIDs []string     `json:"operator_org_id_set,omitempty"`
	ApprovalType   ApprovalType `json:"approval_type,omitempty"   validate:"omitempty,oneof=SIMPLE OR AND"`
}

// UnmarshalJSON decodes a node and rejects unknown variants.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	if !IsKnownNodeType(decoded.Type) {
		return fmt.Errorf("%w: %q", ErrNodeTypeMismatch, decoded.Type)
	}

	*n = Node(decoded)

	return nil
}

// EffectiveApprovalType returns the policy used to resolve NEXT and BACK.
// Only MULTIPLE nodes may use AND; everything else resolves as SIMPLE.
func (n *Node) EffectiveApprovalType() ApprovalType {
	if n.Type != NodeTypeMultiple || n.ApprovalType == "" {
		return ApprovalTypeSimple
	}

	return n.ApprovalType
}

// IsMarker reports whether the node is the Start or End marker.
func (n *Node) IsMarker() bool {
	return n.Type == NodeTypeStart || n.Type == NodeTypeEnd
}

// AutoSkip reports whether the node is passed through without stopping.
func (n *Node) AutoSkip() bool {
	return n.Type == NodeTypeSingle && n.OperatorID == ""
}

// IsAllApproval reports whether every approver must approve.
func (n *Node) IsAllApproval() bool {
	return n.EffectiveApprovalType() == ApprovalTypeAnd
}
