package engine

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/models"
)

// Resolver decides how NEXT and BACK move an instance off a node.
type Resolver interface {
	Next(ctx context.Context, step *Step) (*models.ActionResult, error)
	Back(ctx context.Context, step *Step) (*models.ActionResult, error)
}

// anyApproval moves on the first NEXT. It serves SIMPLE and OR nodes.
type anyApproval struct{}

func (anyApproval) Next(ctx context.Context, step *Step) (*models.ActionResult, error) {
	return step.Advance(ctx)
}

func (anyApproval) Back(ctx context.Context, step *Step) (*models.ActionResult, error) {
	return step.Retreat(ctx)
}

// allApproval records votes and moves on once every expected approver voted.
type allApproval struct{}

func (allApproval) Next(ctx context.Context, step *Step) (*models.ActionResult, error) {
	instance := step.Instance

	// An approver set that expands to nobody has nothing left to wait for.
	if len(instance.ExpandOperatorIDs) == 0 && instance.AllApproved() {
		return step.Advance(ctx)
	}

	if !instance.IsExpandedOperator(step.OperatorID) {
		step.engine.logger.DebugContext(ctx, "vote ignored, operator is not an approver of the node",
			"instance_id", instance.ID, "node_id", step.Node.ID, "operator_id", step.OperatorID)

		return step.Stay(), nil
	}

	if instance.ParallelApproval == nil {
		instance.ParallelApproval = make(map[string]models.ApprovalStatus)
	}

	instance.ParallelApproval[step.OperatorID] = models.ApprovalStatus{OperatorID: step.OperatorID, Approved: true}

	if !instance.AllApproved() {
		return step.Stay(), nil
	}

	return step.Advance(ctx)
}

// Back on an AND node needs no consensus.
func (allApproval) Back(ctx context.Context, step *Step) (*models.ActionResult, error) {
	return step.Retreat(ctx)
}

func defaultResolvers() map[models.ApprovalType]Resolver {
	return map[models.ApprovalType]Resolver{
		models.ApprovalTypeSimple: anyApproval{},
		models.ApprovalTypeOr:     anyApproval{},
		models.ApprovalTypeAnd:    allApproval{},
	}
}

// RegisterResolver replaces the resolver of an approval type. It must only
// be called before the engine is shared.
func (e *Engine) RegisterResolver(approvalType models.ApprovalType, resolver Resolver) {
	e.resolvers[approvalType] = resolver
}

func (e *Engine) resolver(node *models.Node) (Resolver, error) {
	approvalType := node.EffectiveApprovalType()

	resolver, ok := e.resolvers[approvalType]
	if !ok {
		return nil, fmt.Errorf("%w: %q on node %s", models.ErrUnknownApprovalType, approvalType, node.ID)
	}

	return resolver, nil
}
