package models

import (
	"maps"
	"slices"
	"time"
)

// InstanceStatus is the lifecycle state of an instance.
type InstanceStatus string

const (
	InstanceStatusNew        InstanceStatus = "NEW"
	InstanceStatusProcessing InstanceStatus = "PROCESSING"
	InstanceStatusRejected   InstanceStatus = "REJECTED"
	InstanceStatusCanceled   InstanceStatus = "CANCELED"
	InstanceStatusApproved   InstanceStatus = "APPROVED"
	InstanceStatusFinished   InstanceStatus = "FINISHED"
)

// AllInstanceStatuses lists every status in lifecycle order.
var AllInstanceStatuses = []InstanceStatus{
	InstanceStatusNew,
	InstanceStatusProcessing,
	InstanceStatusRejected,
	InstanceStatusCanceled,
	InstanceStatusApproved,
	InstanceStatusFinished,
}

// IsTerminal reports whether normal flow has ended for the status.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusRejected, InstanceStatusCanceled, InstanceStatusApproved, InstanceStatusFinished:
		return true
	default:
		return false
	}
}

// ApprovalStatus records one expected approver's vote at an AND node.
type ApprovalStatus struct {
	OperatorID string `json:"operator_id"`
	Approved   bool   `json:"approved"`
}

// Instance is one running execution of a definition.
type Instance struct {
	ID                string                    `json:"id"`
	WorkflowID        string                    `json:"workflow_id"`
	DefinitionID      string                    `json:"definition_id"`
	NodeID            string                    `json:"node_id"`
	PreNodeID         string                    `json:"pre_node_id,omitempty"`
	Status            InstanceStatus            `json:"status"`
	ApplyMode         ApplicationMode           `json:"apply_mode"`
	Applicant         string                    `json:"applicant"`
	ProxyApplicant    string                    `json:"proxy_applicant,omitempty"`
	OperatorIDs       []string                  `json:"operator_id_set"`
	OperatorOrgIDs    []string                  `json:"operator_org_id_set"`
	ExpandOperatorIDs []string                  `json:"expand_operator_id_set"`
	ParallelApproval  map[string]ApprovalStatus `json:"parallel_approval"`
	AllowedActions    []Action                  `json:"allowed_actions,omitempty"`
	Revision          int64                     `json:"revision"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// ClearOperators drops every approver field of the instance.
func (i *Instance) ClearOperators() {
	i.OperatorIDs = []string{}
	i.OperatorOrgIDs = []string{}
	i.ExpandOperatorIDs = []string{}
	i.ParallelApproval = map[string]ApprovalStatus{}
}

// IsExpandedOperator reports whether operatorID is one of the resolved approvers.
func (i *Instance) IsExpandedOperator(operatorID string) bool {
	return slices.Contains(i.ExpandOperatorIDs, operatorID)
}

// AllApproved reports whether every entry with an operator id has approved.
// An empty ledger counts as approved.
func (i *Instance) AllApproved() bool {
	for _, status := range i.ParallelApproval {
		if status.OperatorID != "" && !status.Approved {
			return false
		}
	}

	return true
}

// ApprovedCount returns how many entries in the ledger are approved.
func (i *Instance) ApprovedCount() int {
	count := 0

	for _, status := range i.ParallelApproval {
		if status.Approved {
			count++
		}
	}

	return count
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	clone := *i
	clone.OperatorIDs = slices.Clone(i.OperatorIDs)
	clone.OperatorOrgIDs = slices.Clone(i.OperatorOrgIDs)
	clone.ExpandOperatorIDs = slices.Clone(i.ExpandOperatorIDs)
	clone.AllowedActions = slices.Clone(i.AllowedActions)

	if i.ParallelApproval != nil {
		clone.ParallelApproval = maps.Clone(i.ParallelApproval)
	}

	return &clone
}

// ApplicationParam carries what a caller supplies to start an instance.
type ApplicationParam struct {
	ApplyMode      ApplicationMode `json:"apply_mode"      validate:"required,oneof=SELF PROXY"`
	Applicant      string          `json:"applicant"       validate:"required"`
	ProxyApplicant string          `json:"proxy_applicant" validate:"required_if=ApplyMode PROXY"`
}

// Operator returns who performs the APPLY action for this submission.
func (p ApplicationParam) Operator() string {
	if p.ApplyMode == ApplicationModeProxy {
		return p.ProxyApplicant
	}

	return p.Applicant
}
