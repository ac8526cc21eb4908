package engine

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/operators"
)

// NodeBehavior is what the engine needs from each node variant.
type NodeBehavior interface {
	// ResetCurrentOperators replaces the approver fields of instance with
	// those of node.
	ResetCurrentOperators(ctx context.Context, node *models.Node, instance *models.Instance) error

	// ExpandOperatorIDs resolves the approvers of node without touching any instance.
	ExpandOperatorIDs(ctx context.Context, node *models.Node) ([]string, error)
}

// markerBehavior serves START, END and ROBOT nodes, which have no approvers.
type markerBehavior struct{}

func (markerBehavior) ResetCurrentOperators(_ context.Context, _ *models.Node, instance *models.Instance) error {
	instance.ClearOperators()

	return nil
}

func (markerBehavior) ExpandOperatorIDs(context.Context, *models.Node) ([]string, error) {
	return []string{}, nil
}

// approverBehavior serves SINGLE and MULTIPLE nodes.
type approverBehavior struct {
	directory operators.Directory
}

// rawOperators returns the statically configured approvers of node.
func rawOperators(node *models.Node) ([]string, []string) {
	if node.Type == models.NodeTypeSingle {
		return models.UnionIDs([]string{node.OperatorID}), []string{}
	}

	return models.UnionIDs(node.OperatorIDs), models.UnionIDs(node.OperatorOrgIDs)
}

func (b approverBehavior) ExpandOperatorIDs(ctx context.Context, node *models.Node) ([]string, error) {
	operatorIDs, orgIDs := rawOperators(node)

	expanded, err := operators.Expand(ctx, b.directory, operatorIDs, orgIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to expand operators of node %s: %w", node.ID, err)
	}

	return expanded, nil
}

func (b approverBehavior) ResetCurrentOperators(ctx context.Context, node *models.Node, instance *models.Instance) error {
	instance.ClearOperators()

	expanded, err := b.ExpandOperatorIDs(ctx, node)
	if err != nil {
		return err
	}

	instance.OperatorIDs, instance.OperatorOrgIDs = rawOperators(node)
	instance.ExpandOperatorIDs = expanded

	if node.IsAllApproval() {
		instance.ParallelApproval = b.directory.SeedParallelApproval(instance.OperatorIDs, instance.OperatorOrgIDs, expanded)
	}

	return nil
}

func defaultNodeBehaviors(directory operators.Directory) map[models.NodeType]NodeBehavior {
	approver := approverBehavior{directory: directory}

	return map[models.NodeType]NodeBehavior{
		models.NodeTypeStart:    markerBehavior{},
		models.NodeTypeEnd:      markerBehavior{},
		models.NodeTypeRobot:    markerBehavior{},
		models.NodeTypeSingle:   approver,
		models.NodeTypeMultiple: approver,
	}
}

// RegisterNodeBehavior replaces the behavior of a node type. It must only be
// called before the engine is shared.
func (e *Engine) RegisterNodeBehavior(nodeType models.NodeType, behavior NodeBehavior) {
	e.nodes[nodeType] = behavior
}

func (e *Engine) behavior(node *models.Node) (NodeBehavior, error) {
	behavior, ok := e.nodes[node.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeTypeMismatch, node.Type)
	}

	return behavior, nil
}

// ResetOperators recomputes the approver fields of instance for the node it is on.
func (e *Engine) ResetOperators(ctx context.Context, definition *models.Definition, instance *models.Instance) error {
	node := definition.NodeByID(instance.NodeID)
	if node == nil {
		return nodeNotFound(instance.NodeID)
	}

	behavior, err := e.behavior(node)
	if err != nil {
		return err
	}

	return behavior.ResetCurrentOperators(ctx, node, instance)
}
