package engine

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/models"
)

// Strategy resolves one action against a Step.
type Strategy interface {
	Execute(ctx context.Context, step *Step) (*models.ActionResult, error)
}

// StrategyFunc adapts a function to a Strategy.
type StrategyFunc func(ctx context.Context, step *Step) (*models.ActionResult, error)

func (f StrategyFunc) Execute(ctx context.Context, step *Step) (*models.ActionResult, error) {
	return f(ctx, step)
}

func defaultStrategies() map[models.Action]Strategy {
	return map[models.Action]Strategy{
		models.ActionApply:     StrategyFunc(apply),
		models.ActionSave:      StrategyFunc(save),
		models.ActionNext:      StrategyFunc(next),
		models.ActionBack:      StrategyFunc(back),
		models.ActionReject:    StrategyFunc(reject),
		models.ActionCancel:    StrategyFunc(cancel),
		models.ActionRetrieve:  StrategyFunc(retrieve),
		models.ActionWithdraw:  StrategyFunc(withdraw),
		models.ActionRelocate:  StrategyFunc(relocate),
		models.ActionRebinding: StrategyFunc(rebinding),
	}
}

// RegisterStrategy binds a strategy to an action. It must only be called
// before the engine is shared.
func (e *Engine) RegisterStrategy(action models.Action, strategy Strategy) {
	e.strategies[action] = strategy
}

// apply binds a new or rejected instance to the first node that needs an approver.
func apply(ctx context.Context, step *Step) (*models.ActionResult, error) {
	status := step.Instance.Status
	if status != models.InstanceStatusNew && status != models.InstanceStatusRejected {
		return nil, fmt.Errorf("%w: cannot apply an instance in status %s", ErrInvalidState, status)
	}

	target := step.Definition.NodeAt(step.nextStop(0))
	if target == nil {
		return nil, fmt.Errorf("%w: definition %s has no node to apply to", ErrNodeNotFound, step.Definition.ID)
	}

	result := &models.ActionResult{ResetOperator: true}
	if err := step.Enter(ctx, target, result); err != nil {
		return nil, err
	}

	step.Instance.PreNodeID = ""

	return result, nil
}

// save refreshes the approvers of the current node when the directory
// resolves them differently than when the node was entered.
func save(ctx context.Context, step *Step) (*models.ActionResult, error) {
	behavior, err := step.engine.behavior(step.Node)
	if err != nil {
		return nil, err
	}

	expanded, err := behavior.ExpandOperatorIDs(ctx, step.Node)
	if err != nil {
		return nil, err
	}

	instance := step.Instance
	if models.SameIDs(expanded, instance.ExpandOperatorIDs) {
		return step.Stay(), nil
	}

	step.engine.logger.DebugContext(ctx, "approver drift detected",
		"instance_id", instance.ID, "node_id", step.Node.ID,
		"before", instance.ExpandOperatorIDs, "after", expanded)

	if step.Node.IsMarker() || step.Node.Type == models.NodeTypeRobot {
		instance.ClearOperators()
	} else {
		instance.OperatorIDs, instance.OperatorOrgIDs = rawOperators(step.Node)
	}

	instance.ExpandOperatorIDs = expanded

	if step.Node.IsAllApproval() {
		instance.ParallelApproval = step.engine.directory.ReconcileModifiedApproval(instance.ParallelApproval, expanded)
	}

	return step.Stay(), nil
}

func next(ctx context.Context, step *Step) (*models.ActionResult, error) {
	resolver, err := step.engine.resolver(step.Node)
	if err != nil {
		return nil, err
	}

	return resolver.Next(ctx, step)
}

func back(ctx context.Context, step *Step) (*models.ActionResult, error) {
	resolver, err := step.engine.resolver(step.Node)
	if err != nil {
		return nil, err
	}

	return resolver.Back(ctx, step)
}

func reject(_ context.Context, step *Step) (*models.ActionResult, error) {
	instance := step.Instance
	instance.PreNodeID = step.Node.ID
	instance.Status = models.InstanceStatusRejected

	if !step.Definition.ReturnToStartNode {
		return step.Stay(), nil
	}

	start := step.Definition.StartNode()
	instance.NodeID = start.ID

	return &models.ActionResult{ResetOperator: true, Node: start}, nil
}

func cancel(_ context.Context, step *Step) (*models.ActionResult, error) {
	step.Instance.Status = models.InstanceStatusCanceled

	return step.Stay(), nil
}

// retrieve pulls the instance back to the node it came from. Only the
// retriever has to approve again unless every approval is reset.
func retrieve(ctx context.Context, step *Step) (*models.ActionResult, error) {
	instance := step.Instance

	target := step.Definition.NodeByID(instance.PreNodeID)
	if target == nil || target.Type == models.NodeTypeStart {
		return nil, nodeNotFound(instance.PreNodeID)
	}

	behavior, err := step.engine.behavior(target)
	if err != nil {
		return nil, err
	}

	instance.NodeID = target.ID
	instance.PreNodeID = ""
	instance.Status = models.InstanceStatusProcessing

	if err := behavior.ResetCurrentOperators(ctx, target, instance); err != nil {
		return nil, err
	}

	if target.IsAllApproval() {
		resetAll := step.engine.retrieveResetAll
		if step.Param.ResetAll != nil {
			resetAll = *step.Param.ResetAll
		}

		instance.ParallelApproval = step.engine.directory.SeedRetrievalApproval(
			instance.OperatorIDs, instance.OperatorOrgIDs, instance.ExpandOperatorIDs, step.OperatorID, resetAll)
	}

	return &models.ActionResult{Node: target}, nil
}

// withdraw leaves the instance untouched; the caller removes it.
func withdraw(_ context.Context, step *Step) (*models.ActionResult, error) {
	result := step.Stay()
	result.Withdraw = true

	return result, nil
}

func relocate(ctx context.Context, step *Step) (*models.ActionResult, error) {
	nodeID := step.Param.NodeID

	target := step.Definition.NodeByID(nodeID)
	if target == nil || target.Type == models.NodeTypeStart {
		return nil, nodeNotFound(nodeID)
	}

	result := &models.ActionResult{ResetOperator: true}
	if err := step.Leave(ctx, target, result); err != nil {
		return nil, err
	}

	return result, nil
}

// rebinding moves the instance onto another definition of its workflow.
func rebinding(ctx context.Context, step *Step) (*models.ActionResult, error) {
	target := step.Param.RebindDefinition
	if target == nil {
		return nil, ErrDefinitionRequired
	}

	if target.WorkflowID != step.Instance.WorkflowID {
		return nil, fmt.Errorf("%w: %s is not a definition of workflow %s",
			ErrDefinitionMismatch, target.ID, step.Instance.WorkflowID)
	}

	step.Definition = target
	step.Instance.DefinitionID = target.ID

	node := target.NodeAt(step.nextStop(0))
	if node == nil {
		return nil, fmt.Errorf("%w: definition %s has no node to bind to", ErrNodeNotFound, target.ID)
	}

	result := &models.ActionResult{ResetOperator: true}
	if err := step.Enter(ctx, node, result); err != nil {
		return nil, err
	}

	step.Instance.PreNodeID = ""
	result.Definition = target

	return result, nil
}
