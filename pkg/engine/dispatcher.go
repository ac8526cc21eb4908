package engine

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/models"
)

// terminalOverride reports whether action may run on an instance whose
// normal flow has ended.
func terminalOverride(action models.Action, status models.InstanceStatus) bool {
	switch action {
	case models.ActionRetrieve, models.ActionRelocate, models.ActionRebinding, models.ActionWithdraw:
		return true
	case models.ActionApply:
		return status == models.InstanceStatusRejected
	default:
		return false
	}
}

// AllowedActions returns what operatorID may do on instance. The set is
// advisory: Execute does not refuse an action missing from it.
func (e *Engine) AllowedActions(definition *models.Definition, instance *models.Instance, operatorID string) []models.Action {
	return e.restrictions.AllowedActions(definition, instance, operatorID)
}

// Execute resolves action on instance. The instance passed in is never
// modified; the returned result carries the new state.
func (e *Engine) Execute(
	ctx context.Context,
	action models.Action,
	definition *models.Definition,
	instance *models.Instance,
	operatorID string,
	param *models.ExtendParam,
) (*models.ActionResult, error) {
	result, err := e.execute(ctx, action, definition, instance, operatorID, param)
	if err != nil {
		e.logger.DebugContext(ctx, "action failed",
			"action", action, "instance_id", instance.ID, "operator_id", operatorID, "error", err)

		return nil, &ActionError{Action: action, InstanceID: instance.ID, Err: err}
	}

	e.logger.DebugContext(ctx, "action resolved",
		"action", action,
		"instance_id", instance.ID,
		"operator_id", operatorID,
		"from_node_id", instance.NodeID,
		"to_node_id", result.Instance.NodeID,
		"status", result.Instance.Status,
		"reset_operator", result.ResetOperator)

	return result, nil
}

func (e *Engine) execute(
	ctx context.Context,
	action models.Action,
	definition *models.Definition,
	instance *models.Instance,
	operatorID string,
	param *models.ExtendParam,
) (*models.ActionResult, error) {
	if operatorID == "" {
		return nil, ErrOperatorInvalid
	}

	strategy, ok := e.strategies[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if param == nil {
		param = &models.ExtendParam{}
	}

	allowed := e.AllowedActions(definition, instance, operatorID)

	if instance.Status.IsTerminal() && !terminalOverride(action, instance.Status) {
		return nil, fmt.Errorf("%w: status is %s", ErrInstanceClosed, instance.Status)
	}

	node := definition.NodeByID(instance.NodeID)
	if node == nil {
		return nil, nodeNotFound(instance.NodeID)
	}

	step := &Step{
		Definition: definition,
		Instance:   instance.Clone(),
		Node:       node,
		OperatorID: operatorID,
		Param:      param,
		engine:     e,
	}

	result, err := strategy.Execute(ctx, step)
	if err != nil {
		return nil, err
	}

	if result.Node == nil {
		result.Node = step.Definition.NodeByID(step.Instance.NodeID)
	}

	if result.ResetOperator {
		if err := e.ResetOperators(ctx, step.Definition, step.Instance); err != nil {
			return nil, err
		}
	}

	step.Instance.AllowedActions = e.AllowedActions(step.Definition, step.Instance, operatorID)

	result.Action = action
	result.Instance = step.Instance
	result.Definition = step.Definition
	result.AllowedActions = allowed

	return result, nil
}
