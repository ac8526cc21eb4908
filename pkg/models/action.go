package models

import (
	"fmt"
	"slices"
	"strings"
)

// Action is a caller-issued verb applied to an instance.
type Action string

const (
	ActionApply     Action = "APPLY"
	ActionSave      Action = "SAVE"
	ActionNext      Action = "NEXT"
	ActionBack      Action = "BACK"
	ActionReject    Action = "REJECT"
	ActionCancel    Action = "CANCEL"
	ActionRetrieve  Action = "RETRIEVE"
	ActionWithdraw  Action = "WITHDRAW"
	ActionRelocate  Action = "RELOCATE"
	ActionRebinding Action = "REBINDING"
)

// AllActions lists every action the dispatcher knows about.
var AllActions = []Action{
	ActionApply,
	ActionSave,
	ActionNext,
	ActionBack,
	ActionReject,
	ActionCancel,
	ActionRetrieve,
	ActionWithdraw,
	ActionRelocate,
	ActionRebinding,
}

// ParseAction converts a keyword into an Action, ignoring case.
func ParseAction(keyword string) (Action, error) {
	action := Action(strings.ToUpper(strings.TrimSpace(keyword)))
	if !slices.Contains(AllActions, action) {
		return "", fmt.Errorf("unknown action %q", keyword)
	}

	return action, nil
}

// BackMode selects where BACK moves the instance.
type BackMode string

const (
	BackModePrevious BackMode = "PREVIOUS"
	BackModeFirst    BackMode = "FIRST"
)

// ExtendParam carries action-specific options.
type ExtendParam struct {
	BackMode     BackMode       `json:"back_mode,omitempty"    validate:"omitempty,oneof=FIRST PREVIOUS"`
	BackNodeID   string         `json:"back_node_id,omitempty"`
	NodeID       string         `json:"node_id,omitempty"`       // RELOCATE target
	DefinitionID string         `json:"definition_id,omitempty"` // REBINDING target, empty means current version
	ResetAll     *bool          `json:"reset_all,omitempty"`     // RETRIEVE override
	PluginParam  map[string]any `json:"plugin_param,omitempty"`
	Comment      string         `json:"comment,omitempty"`

	// Resolved by the lifecycle service before a REBINDING dispatch.
	RebindDefinition *Definition `json:"-"`
}

// EffectiveBackMode returns the back mode, defaulting to PREVIOUS.
func (p *ExtendParam) EffectiveBackMode() BackMode {
	if p == nil || p.BackMode == "" {
		return BackModePrevious
	}

	return p.BackMode
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Action         Action         `json:"action"`
	ResetOperator  bool           `json:"reset_operator"`
	PluginResult   map[string]any `json:"plugin_result,omitempty"`
	Instance       *Instance      `json:"instance"`
	Node           *Node          `json:"node,omitempty"`
	Definition     *Definition    `json:"-"`
	Withdraw       bool           `json:"withdraw,omitempty"`
	AllowedActions []Action       `json:"allowed_actions,omitempty"`
}

// MergePluginResult adds the output of one plugin to the result.
func (r *ActionResult) MergePluginResult(plugin string, output any) {
	if r.PluginResult == nil {
		r.PluginResult = make(map[string]any)
	}

	r.PluginResult[plugin] = output
}
