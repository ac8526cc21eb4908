// Package web provides HTTP request and response types for the approval API.
package web

import "github.com/dukex/concord/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
}

// PublishDefinitionRequest is a draft definition. Node ids are optional and
// generated when missing.
type PublishDefinitionRequest struct {
	Nodes             []*models.Node           `json:"nodes"                validate:"required,min=3"`
	ApplicationModes  []models.ApplicationMode `json:"application_modes"    validate:"required,min=1,dive,oneof=SELF PROXY"`
	ReturnToStartNode bool                     `json:"return_to_start_node"`
}

// Definition converts the request into a draft definition.
func (r PublishDefinitionRequest) Definition() *models.Definition {
	return &models.Definition{
		Nodes:             r.Nodes,
		ApplicationModes:  r.ApplicationModes,
		ReturnToStartNode: r.ReturnToStartNode,
	}
}

// StartInstanceRequest starts an instance on an explicit definition or on
// the current definition of a workflow.
type StartInstanceRequest struct {
	WorkflowID     string                 `json:"workflow_id"     validate:"required_without=DefinitionID"`
	DefinitionID   string                 `json:"definition_id"`
	ApplyMode      models.ApplicationMode `json:"apply_mode"      validate:"required,oneof=SELF PROXY"`
	Applicant      string                 `json:"applicant"       validate:"required"`
	ProxyApplicant string                 `json:"proxy_applicant" validate:"required_if=ApplyMode PROXY"`
}

// ApplicationParam returns the submission part of the request.
func (r StartInstanceRequest) ApplicationParam() models.ApplicationParam {
	return models.ApplicationParam{
		ApplyMode:      r.ApplyMode,
		Applicant:      r.Applicant,
		ProxyApplicant: r.ProxyApplicant,
	}
}

// ActionRequest represents the request body for resolving an action.
type ActionRequest struct {
	Action     string              `json:"action"      validate:"required"`
	OperatorID string              `json:"operator_id" validate:"required"`
	Param      *models.ExtendParam `json:"param"`
}
