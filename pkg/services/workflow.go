package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/concord/pkg/eventbus"
	"github.com/dukex/concord/pkg/events"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/otelhelper"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefinitionValidator checks plugin references and plugin configuration of a definition.
type DefinitionValidator interface {
	ValidateDefinition(definition *models.Definition) error
}

// Workflow manages workflows and the definitions published for them.
type Workflow struct {
	persistence persistence.Persistence
	plugins     DefinitionValidator
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. plugins may be nil, in which
// case plugin configuration is not checked on publish.
func NewWorkflow(persistence persistence.Persistence, plugins DefinitionValidator, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}

	return &Workflow{
		persistence: persistence,
		plugins:     plugins,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otelhelper.Tracer("github.com/dukex/concord/pkg/services"),
		logger:      logger.With("module", "workflow_service"),
	}
}

// WithPublisher makes Publish emit a DefinitionPublished event.
func (w *Workflow) WithPublisher(publisher eventbus.EventPublisher) *Workflow {
	w.publisher = publisher

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	OwnerID string

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
// Sorting and paging happen in memory on top of the store's equality filter.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	filter := persistence.Filter{}
	if req.OwnerID != "" {
		filter["owner"] = req.OwnerID
	}

	workflows, err := w.persistence.WorkflowRepository().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	slices.SortStableFunc(workflows, workflowOrder(req.SortBy, req.SortOrder))

	total := len(workflows)
	start := min(req.Offset, total)
	end := min(start+req.Limit, total)

	return &ListWorkflowsResponse{
		Workflows:   workflows[start:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

func workflowOrder(sortBy, sortOrder string) func(a, b *models.Workflow) int {
	return func(a, b *models.Workflow) int {
		var cmp int

		switch sortBy {
		case "name":
			cmp = strings.Compare(a.Name, b.Name)
		case "updated_at":
			cmp = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}

		if sortOrder == "desc" {
			return -cmp
		}

		return cmp
	}
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	// Set defaults
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		if req.OwnerID == "" {
			return ErrEmptyOwnerID
		}
	}

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, found, err := w.persistence.WorkflowRepository().ReadOrNil(ctx, id)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	return workflow, nil
}

// Create adds a new workflow with no published definition.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if err := w.validator.Struct(workflow); err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	workflow.CurrentVersion = 0
	workflow.CurrentDefinitionID = ""

	if err := w.persistence.WorkflowRepository().Create(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Publish stores draft as the next definition version of the workflow and
// makes it current. Node ids are generated where missing. Instances bound to
// older versions keep resolving against them.
func (w *Workflow) Publish(ctx context.Context, workflowID string, draft *models.Definition) (*models.Definition, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "Workflow.Publish",
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	definition, err := w.publish(ctx, workflowID, draft)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.DefinitionIDKey, definition.ID),
		attribute.Int("concord.definition.version", definition.Version),
	)

	return definition, nil
}

func (w *Workflow) publish(ctx context.Context, workflowID string, draft *models.Definition) (*models.Definition, error) {
	if draft == nil {
		return nil, NewValidationError("Publish", "INVALID_DEFINITION", "definition is required", ErrInvalidDefinition)
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	definition := *draft
	definition.ID = uuid.New().String()
	definition.WorkflowID = workflow.ID
	definition.Version = workflow.CurrentVersion + 1
	definition.Nodes = make([]*models.Node, len(draft.Nodes))

	for i, node := range draft.Nodes {
		if node == nil {
			return nil, NewValidationError("Publish", "INVALID_DEFINITION",
				fmt.Sprintf("node at index %d is empty", i), ErrInvalidDefinition)
		}

		copied := *node
		if copied.ID == "" {
			copied.ID = uuid.New().String()
		}

		definition.Nodes[i] = &copied
	}

	if err := w.ValidateDefinition(&definition); err != nil {
		return nil, err
	}

	if err := w.persistence.DefinitionRepository().Create(ctx, &definition); err != nil {
		return nil, fmt.Errorf("failed to store definition: %w", err)
	}

	workflow.CurrentVersion = definition.Version
	workflow.CurrentDefinitionID = definition.ID

	if err := w.persistence.WorkflowRepository().Update(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow version: %w", err)
	}

	w.logger.InfoContext(ctx, "Definition published",
		"workflow_id", workflow.ID,
		"definition_id", definition.ID,
		"version", definition.Version)

	if w.publisher != nil {
		event := &events.DefinitionPublished{
			BaseEvent:    events.NewBaseEvent(events.DefinitionPublishedEvent, workflow.ID),
			DefinitionID: definition.ID,
			Version:      definition.Version,
		}

		if err := w.publisher.Publish(ctx, workflow.ID, event); err != nil {
			w.logger.ErrorContext(ctx, "Failed to publish definition event", "workflow_id", workflow.ID, "error", err)
		}
	}

	return &definition, nil
}

// ValidateDefinition runs the field, structural and plugin checks applied on publish.
func (w *Workflow) ValidateDefinition(definition *models.Definition) error {
	if err := w.validator.Struct(definition); err != nil {
		return NewValidationError("ValidateDefinition", "INVALID_DEFINITION", err.Error(), ErrInvalidDefinition)
	}

	if err := definition.Validate(); err != nil {
		return &ServiceError{Op: "ValidateDefinition", Code: "INVALID_DEFINITION", Err: fmt.Errorf("%w: %w", ErrInvalidDefinition, err)}
	}

	if w.plugins != nil {
		if err := w.plugins.ValidateDefinition(definition); err != nil {
			return &ServiceError{Op: "ValidateDefinition", Code: "INVALID_PLUGIN_CONFIGURATION", Err: fmt.Errorf("%w: %w", ErrInvalidDefinition, err)}
		}
	}

	return nil
}

// CurrentDefinition returns the definition new instances of the workflow are bound to.
func (w *Workflow) CurrentDefinition(ctx context.Context, workflowID string) (*models.Definition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.HasPublishedVersion() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotPublished, workflowID)
	}

	return w.DefinitionByID(ctx, workflow.CurrentDefinitionID)
}

// DefinitionByID returns any published definition version, current or not.
func (w *Workflow) DefinitionByID(ctx context.Context, id string) (*models.Definition, error) {
	definition, found, err := w.persistence.DefinitionRepository().ReadOrNil(ctx, id)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}

	return definition, nil
}

// Definitions lists every published version of a workflow, oldest first.
func (w *Workflow) Definitions(ctx context.Context, workflowID string) ([]*models.Definition, error) {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return nil, err
	}

	definitions, err := w.persistence.DefinitionRepository().Find(ctx, persistence.Filter{"workflow_id": workflowID})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	slices.SortFunc(definitions, func(a, b *models.Definition) int {
		return a.Version - b.Version
	})

	return definitions, nil
}
