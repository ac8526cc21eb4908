package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
)

var errPluginNotRegistered = errors.New("plugin not registered")

// Step is one action travelling through a strategy. Instance is a private
// copy; strategies mutate it freely and the dispatcher discards it on error.
type Step struct {
	Definition *models.Definition
	Instance   *models.Instance
	Node       *models.Node // node the instance was on when the action was issued
	OperatorID string
	Param      *models.ExtendParam

	engine *Engine
}

// Stay returns a result that leaves the instance where it is.
func (s *Step) Stay() *models.ActionResult {
	return &models.ActionResult{Node: s.Node}
}

// nextStop returns the first index after from that is not auto-skipped.
// The END marker is never skipped.
func (s *Step) nextStop(from int) int {
	i := from + 1
	for i < len(s.Definition.Nodes)-1 && s.Definition.Nodes[i].AutoSkip() {
		i++
	}

	return i
}

// previousStop returns the closest index before from that is not
// auto-skipped, or 0 when only the START marker is left.
func (s *Step) previousStop(from int) int {
	i := from - 1
	for i > 0 && s.Definition.Nodes[i].AutoSkip() {
		i--
	}

	return max(i, 0)
}

// Enter moves the instance onto node. Plugins of a ROBOT node run first
// when plugin parameters were supplied, and a plugin failure leaves the
// instance untouched.
func (s *Step) Enter(ctx context.Context, node *models.Node, result *models.ActionResult) error {
	if node.Type == models.NodeTypeRobot && len(s.Param.PluginParam) > 0 {
		if err := s.runPlugins(ctx, node, result); err != nil {
			return err
		}
	}

	s.Instance.NodeID = node.ID
	s.Instance.Status = models.InstanceStatusProcessing

	if node.Type == models.NodeTypeEnd {
		s.Instance.Status = models.InstanceStatusFinished
	}

	result.Node = node

	return nil
}

// Leave moves the instance onto node, remembering the node it left behind.
func (s *Step) Leave(ctx context.Context, node *models.Node, result *models.ActionResult) error {
	previous := s.Instance.NodeID

	if err := s.Enter(ctx, node, result); err != nil {
		return err
	}

	s.Instance.PreNodeID = previous

	return nil
}

// Advance moves to the next node of the sequence.
func (s *Step) Advance(ctx context.Context) (*models.ActionResult, error) {
	from := s.Definition.IndexOf(s.Node.ID)
	if from < 0 {
		return nil, nodeNotFound(s.Node.ID)
	}

	target := s.Definition.NodeAt(s.nextStop(from))
	if target == nil {
		return nil, fmt.Errorf("%w: no node after %q", ErrNodeNotFound, s.Node.ID)
	}

	result := &models.ActionResult{ResetOperator: true}
	if err := s.Leave(ctx, target, result); err != nil {
		return nil, err
	}

	return result, nil
}

// Retreat moves backwards according to the requested back mode.
func (s *Step) Retreat(ctx context.Context) (*models.ActionResult, error) {
	var target *models.Node

	switch s.Param.EffectiveBackMode() {
	case models.BackModeFirst:
		target = s.Definition.NodeAt(s.nextStop(0))
	case models.BackModePrevious:
		if s.Param.BackNodeID != "" {
			target = s.Definition.NodeByID(s.Param.BackNodeID)
			if target == nil || target.IsMarker() {
				return nil, nodeNotFound(s.Param.BackNodeID)
			}

			break
		}

		from := s.Definition.IndexOf(s.Node.ID)
		if from <= 0 {
			return nil, nodeNotFound(s.Node.ID)
		}

		previous := s.previousStop(from)
		if previous == 0 {
			return nil, fmt.Errorf("%w: no node before %q", ErrNodeNotFound, s.Node.ID)
		}

		target = s.Definition.NodeAt(previous)
	default:
		return nil, fmt.Errorf("%w: unknown back mode %q", ErrInvalidState, s.Param.BackMode)
	}

	if target == nil || target.IsMarker() {
		return nil, fmt.Errorf("%w: no actionable node to go back to", ErrNodeNotFound)
	}

	result := &models.ActionResult{ResetOperator: true}
	if err := s.Leave(ctx, target, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Step) runPlugins(ctx context.Context, node *models.Node, result *models.ActionResult) error {
	for _, name := range node.Plugins {
		var (
			plugin protocol.Plugin
			ok     bool
		)

		if s.engine.plugins != nil {
			plugin, ok = s.engine.plugins.Plugin(name)
		}

		if !ok {
			return &PluginExecutionError{Plugin: name, NodeID: node.ID, Err: errPluginNotRegistered}
		}

		logger := s.engine.logger.With("plugin", name, "node_id", node.ID, "instance_id", s.Instance.ID)

		output, err := plugin.Handle(ctx, protocol.PluginCall{
			Instance: s.Instance.Clone(),
			Node:     node,
			Param:    s.Param.PluginParam,
			Logger:   logger,
		})
		if err != nil {
			return &PluginExecutionError{Plugin: name, NodeID: node.ID, Err: err}
		}

		logger.DebugContext(ctx, "plugin executed")
		result.MergePluginResult(name, output)
	}

	return nil
}
