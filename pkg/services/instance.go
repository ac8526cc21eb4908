package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/concord/pkg/engine"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/otelhelper"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Instance runs the lifecycle of workflow instances: it loads state, hands
// it to the engine and persists the outcome in a single write.
type Instance struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	notifier    protocol.Notifier
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewInstance creates a new instance service. A nil notifier drops notifications.
func NewInstance(
	persistence persistence.Persistence,
	engine *engine.Engine,
	notifier protocol.Notifier,
	logger *slog.Logger,
) *Instance {
	if notifier == nil {
		notifier = protocol.NopNotifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Instance{
		persistence: persistence,
		engine:      engine,
		notifier:    notifier,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otelhelper.Tracer("github.com/dukex/concord/pkg/services"),
		logger:      logger.With("module", "instance_service"),
	}
}

// Start creates an instance of definition and submits it with APPLY.
func (s *Instance) Start(ctx context.Context, definition *models.Definition, param models.ApplicationParam) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Instance.Start",
		attribute.String(otelhelper.WorkflowIDKey, definition.WorkflowID),
		attribute.String(otelhelper.DefinitionIDKey, definition.ID),
	)
	defer span.End()

	instance, err := s.start(ctx, definition, param)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	return instance, nil
}

func (s *Instance) start(ctx context.Context, definition *models.Definition, param models.ApplicationParam) (*models.Instance, error) {
	if err := s.validator.Struct(param); err != nil {
		return nil, NewValidationError("Start", "INVALID_APPLICATION", err.Error(), ErrInvalidRequest)
	}

	if !definition.SupportsMode(param.ApplyMode) {
		return nil, NewValidationError("Start", "APPLICATION_MODE_NOT_ALLOWED",
			fmt.Sprintf("definition %s does not accept %s applications", definition.ID, param.ApplyMode),
			ErrApplicationModeNotAllowed)
	}

	start := definition.StartNode()
	if start == nil {
		return nil, &ServiceError{Op: "Start", Code: "INVALID_DEFINITION", Err: models.ErrStartNodeMissing}
	}

	draft := &models.Instance{
		ID:             uuid.New().String(),
		WorkflowID:     definition.WorkflowID,
		DefinitionID:   definition.ID,
		NodeID:         start.ID,
		Status:         models.InstanceStatusNew,
		ApplyMode:      param.ApplyMode,
		Applicant:      param.Applicant,
		ProxyApplicant: param.ProxyApplicant,
	}
	draft.ClearOperators()

	operatorID := param.Operator()

	result, err := s.engine.Execute(ctx, models.ActionApply, definition, draft, operatorID, nil)
	if err != nil {
		return nil, err
	}

	instance := result.Instance
	if err := s.persistence.InstanceRepository().Create(ctx, instance); err != nil {
		return nil, err
	}

	s.record(ctx, draft, result, operatorID, nil)

	return instance, nil
}

// Resolve applies action to a stored instance and persists the outcome.
// The instance is resolved against the definition version it is bound to.
func (s *Instance) Resolve(
	ctx context.Context,
	instanceID string,
	action models.Action,
	operatorID string,
	param *models.ExtendParam,
) (*models.ActionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Instance.Resolve",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.ActionKey, string(action)),
		attribute.String(otelhelper.OperatorIDKey, operatorID),
	)
	defer span.End()

	result, err := s.resolve(ctx, instanceID, action, operatorID, param)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.NodeIDKey, result.Instance.NodeID),
		attribute.String(otelhelper.StatusKey, string(result.Instance.Status)),
	)

	return result, nil
}

func (s *Instance) resolve(
	ctx context.Context,
	instanceID string,
	action models.Action,
	operatorID string,
	param *models.ExtendParam,
) (*models.ActionResult, error) {
	instance, found, err := s.persistence.InstanceRepository().ReadOrNil(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	definition, err := s.boundDefinition(ctx, instance)
	if err != nil {
		return nil, err
	}

	if param == nil {
		param = &models.ExtendParam{}
	}

	if action == models.ActionRebinding && param.RebindDefinition == nil {
		target, err := s.rebindTarget(ctx, instance, param.DefinitionID)
		if err != nil {
			return nil, err
		}

		bound := *param
		bound.RebindDefinition = target
		param = &bound
	}

	result, err := s.engine.Execute(ctx, action, definition, instance, operatorID, param)
	if err != nil {
		return nil, err
	}

	if result.Withdraw {
		err = s.persistence.InstanceRepository().Delete(ctx, instance.ID)
	} else {
		err = s.persistence.InstanceRepository().Update(ctx, result.Instance)
	}

	if err != nil {
		return nil, err
	}

	s.record(ctx, instance, result, operatorID, param)

	return result, nil
}

// boundDefinition loads the definition version the instance runs on. A
// missing definition is a configuration error, not a lookup miss.
func (s *Instance) boundDefinition(ctx context.Context, instance *models.Instance) (*models.Definition, error) {
	definition, found, err := s.persistence.DefinitionRepository().ReadOrNil(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("instance %s is bound to %w: %s", instance.ID, ErrDefinitionNotFound, instance.DefinitionID)
	}

	return definition, nil
}

// rebindTarget resolves the REBINDING target: the named definition, or the
// workflow's current one when none is named.
func (s *Instance) rebindTarget(ctx context.Context, instance *models.Instance, definitionID string) (*models.Definition, error) {
	if definitionID == "" {
		workflow, found, err := s.persistence.WorkflowRepository().ReadOrNil(ctx, instance.WorkflowID)
		if err != nil {
			return nil, err
		}

		if !found {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, instance.WorkflowID)
		}

		if !workflow.HasPublishedVersion() {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotPublished, workflow.ID)
		}

		definitionID = workflow.CurrentDefinitionID
	}

	definition, found, err := s.persistence.DefinitionRepository().ReadOrNil(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, definitionID)
	}

	return definition, nil
}

// record appends the operation log and sends the notification. Both happen
// after the instance write committed, so failures are logged only.
func (s *Instance) record(
	ctx context.Context,
	before *models.Instance,
	result *models.ActionResult,
	operatorID string,
	param *models.ExtendParam,
) {
	after := result.Instance

	var comment string
	if param != nil {
		comment = param.Comment
	}

	entry := &models.OperationLog{
		ID:         newLogID(),
		InstanceID: after.ID,
		WorkflowID: after.WorkflowID,
		Action:     result.Action,
		OperatorID: operatorID,
		FromNodeID: before.NodeID,
		ToNodeID:   after.NodeID,
		FromStatus: before.Status,
		ToStatus:   after.Status,
		Comment:    comment,
		Context:    operatorContext(before, result, param),
	}

	if err := s.persistence.OperationLogRepository().Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "Failed to append operation log",
			"instance_id", after.ID, "action", result.Action, "error", err)
	}

	payload := protocol.Notification{
		InstanceID: after.ID,
		WorkflowID: after.WorkflowID,
		OperatorID: operatorID,
		Action:     result.Action,
		FromNodeID: before.NodeID,
		ToNodeID:   after.NodeID,
		Status:     after.Status,
		Withdrawn:  result.Withdraw,
		Comment:    comment,
	}

	if err := s.notifier.Send(ctx, after, result.Action, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to send notification",
			"instance_id", after.ID, "action", result.Action, "error", err)
	}
}

func operatorContext(before *models.Instance, result *models.ActionResult, param *models.ExtendParam) models.OperatorContext {
	after := result.Instance

	switch result.Action {
	case models.ActionNext, models.ActionSave:
		if len(result.PluginResult) > 0 {
			return &models.PluginContext{Results: result.PluginResult}
		}

		if after.NodeID == before.NodeID && len(after.ParallelApproval) > 0 {
			return approvalContext(after.ParallelApproval)
		}
	case models.ActionBack:
		return &models.TransitionContext{BackMode: param.EffectiveBackMode(), TargetNodeID: after.NodeID}
	case models.ActionRelocate, models.ActionRetrieve:
		return &models.TransitionContext{TargetNodeID: after.NodeID}
	case models.ActionRebinding:
		return &models.TransitionContext{TargetNodeID: after.NodeID, DefinitionID: after.DefinitionID}
	}

	return nil
}

func approvalContext(ledger map[string]models.ApprovalStatus) *models.ApprovalContext {
	approval := &models.ApprovalContext{Approved: []string{}, Pending: []string{}}

	for _, status := range ledger {
		if status.OperatorID == "" {
			continue
		}

		if status.Approved {
			approval.Approved = append(approval.Approved, status.OperatorID)
		} else {
			approval.Pending = append(approval.Pending, status.OperatorID)
		}
	}

	slices.Sort(approval.Approved)
	slices.Sort(approval.Pending)

	return approval
}

// GetInstanceWithAllowedActions returns the instance with the actions
// operatorID may take attached. Nothing is persisted. A missing instance
// yields nil without error.
func (s *Instance) GetInstanceWithAllowedActions(ctx context.Context, instanceID, operatorID string) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Instance.GetInstanceWithAllowedActions",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.OperatorIDKey, operatorID),
	)
	defer span.End()

	instance, err := s.FetchByID(ctx, instanceID)
	if err != nil || instance == nil {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return nil, err
	}

	definition, err := s.boundDefinition(ctx, instance)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	instance.AllowedActions = s.engine.AllowedActions(definition, instance, operatorID)

	return instance, nil
}

// FetchByID returns the stored instance, or nil when it does not exist.
func (s *Instance) FetchByID(ctx context.Context, instanceID string) (*models.Instance, error) {
	instance, found, err := s.persistence.InstanceRepository().ReadOrNil(ctx, instanceID)
	if err != nil || !found {
		return nil, err
	}

	return instance, nil
}

// ListByWorkflow lists the instances of a workflow, optionally narrowed to one status.
func (s *Instance) ListByWorkflow(ctx context.Context, workflowID string, status models.InstanceStatus) ([]*models.Instance, error) {
	filter := persistence.Filter{"workflow_id": workflowID}
	if status != "" {
		if !slices.Contains(models.AllInstanceStatuses, status) {
			return nil, NewValidationError("ListByWorkflow", "INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", status), ErrInvalidRequest)
		}

		filter["status"] = string(status)
	}

	instances, err := s.persistence.InstanceRepository().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// OperationLogs returns the audit trail of an instance, oldest first.
func (s *Instance) OperationLogs(ctx context.Context, instanceID string) ([]*models.OperationLog, error) {
	logs, err := s.persistence.OperationLogRepository().Find(ctx, persistence.Filter{"instance_id": instanceID})
	if err != nil {
		return nil, fmt.Errorf("failed to list operation logs: %w", err)
	}

	slices.SortFunc(logs, func(a, b *models.OperationLog) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return logs, nil
}

// newLogID returns a time-ordered id so logs written within one second keep
// their order.
func newLogID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}
