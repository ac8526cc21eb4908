package services

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/concord/pkg/engine"
	"github.com/dukex/concord/pkg/mocks"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/persistence/file"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/dukex/concord/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type instanceFixture struct {
	store     persistence.Persistence
	workflows *Workflow
	instances *Instance
	notifier  *mocks.MockNotifier
	workflow  *models.Workflow
}

func newInstanceFixture(t *testing.T) *instanceFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	notifier := &mocks.MockNotifier{}
	notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	workflows := NewWorkflow(store, nil, slog.Default())
	workflow, err := workflows.Create(t.Context(), &models.Workflow{Name: "Expense approval"})
	require.NoError(t, err)

	return &instanceFixture{
		store:     store,
		workflows: workflows,
		instances: NewInstance(store, engine.New(engine.Config{}), notifier, slog.Default()),
		notifier:  notifier,
		workflow:  workflow,
	}
}

func (f *instanceFixture) publish(t *testing.T, nodes ...*models.Node) *models.Definition {
	t.Helper()

	definition, err := f.workflows.Publish(t.Context(), f.workflow.ID, draftDefinition(nodes...))
	require.NoError(t, err)

	return definition
}

func (f *instanceFixture) start(t *testing.T, definition *models.Definition, applicant string) *models.Instance {
	t.Helper()

	instance, err := f.instances.Start(t.Context(), definition, models.ApplicationParam{
		ApplyMode: models.ApplicationModeSelf,
		Applicant: applicant,
	})
	require.NoError(t, err)

	return instance
}

func TestInstance_SequentialApproval(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t,
		testutil.SingleNode("manager", "m1"),
		testutil.SingleNode("finance", "f1"),
	)

	instance := f.start(t, definition, "alice")
	assert.Equal(t, "manager", instance.NodeID)
	assert.Equal(t, models.InstanceStatusProcessing, instance.Status)
	assert.Equal(t, []string{"m1"}, instance.ExpandOperatorIDs)

	result, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "m1", nil)
	require.NoError(t, err)
	assert.Equal(t, "finance", result.Instance.NodeID)
	assert.Equal(t, "manager", result.Instance.PreNodeID)

	result, err = f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "f1", &models.ExtendParam{Comment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "end", result.Instance.NodeID)
	assert.Equal(t, models.InstanceStatusFinished, result.Instance.Status)

	stored, err := f.instances.FetchByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFinished, stored.Status)
	assert.Equal(t, int64(3), stored.Revision)

	logs, err := f.instances.OperationLogs(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	assert.Equal(t, models.ActionApply, logs[0].Action)
	assert.Equal(t, "alice", logs[0].OperatorID)
	assert.Equal(t, models.InstanceStatusNew, logs[0].FromStatus)
	assert.Equal(t, models.ActionNext, logs[1].Action)
	assert.Equal(t, "manager", logs[1].FromNodeID)
	assert.Equal(t, "finance", logs[1].ToNodeID)
	assert.Equal(t, models.InstanceStatusFinished, logs[2].ToStatus)
	assert.Equal(t, "ok", logs[2].Comment)

	f.notifier.AssertNumberOfCalls(t, "Send", 3)
	f.notifier.AssertCalled(t, "Send", mock.Anything, mock.Anything, models.ActionNext, mock.MatchedBy(
		func(n protocol.Notification) bool {
			return n.ToNodeID == "end" && n.Status == models.InstanceStatusFinished && n.Comment == "ok"
		}))
}

func TestInstance_AllApprovalGate(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t,
		testutil.MultipleNode("board", models.ApprovalTypeAnd, "a", "b"),
	)

	instance := f.start(t, definition, "alice")

	result, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "board", result.Instance.NodeID)
	assert.False(t, result.ResetOperator)

	logs, err := f.instances.OperationLogs(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	approval, ok := logs[1].Context.(*models.ApprovalContext)
	require.True(t, ok, "AND votes carry the ledger")
	assert.Equal(t, []string{"a"}, approval.Approved)
	assert.Equal(t, []string{"b"}, approval.Pending)

	result, err = f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "b", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFinished, result.Instance.Status)
}

func TestInstance_Start_Validation(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))

	selfOnly := *definition
	selfOnly.ApplicationModes = []models.ApplicationMode{models.ApplicationModeSelf}

	tests := []struct {
		name       string
		definition *models.Definition
		param      models.ApplicationParam
		target     error
	}{
		{
			name:       "missing applicant",
			definition: definition,
			param:      models.ApplicationParam{ApplyMode: models.ApplicationModeSelf},
			target:     ErrInvalidRequest,
		},
		{
			name:       "proxy without proxy applicant",
			definition: definition,
			param:      models.ApplicationParam{ApplyMode: models.ApplicationModeProxy, Applicant: "alice"},
			target:     ErrInvalidRequest,
		},
		{
			name:       "mode not allowed",
			definition: &selfOnly,
			param: models.ApplicationParam{
				ApplyMode:      models.ApplicationModeProxy,
				Applicant:      "alice",
				ProxyApplicant: "assistant",
			},
			target: ErrApplicationModeNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.instances.Start(t.Context(), tt.definition, tt.param)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, IsValidationError(err))
		})
	}

	instances, err := f.instances.ListByWorkflow(t.Context(), f.workflow.ID, "")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestInstance_Start_Proxy(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))

	instance, err := f.instances.Start(t.Context(), definition, models.ApplicationParam{
		ApplyMode:      models.ApplicationModeProxy,
		Applicant:      "alice",
		ProxyApplicant: "assistant",
	})
	require.NoError(t, err)

	assert.Equal(t, "assistant", instance.ProxyApplicant)

	logs, err := f.instances.OperationLogs(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "assistant", logs[0].OperatorID)
}

func TestInstance_Resolve_NotFound(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.instances.Resolve(t.Context(), "missing", models.ActionNext, "m1", nil)
	require.ErrorIs(t, err, ErrInstanceNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestInstance_Resolve_EngineErrorsLeaveStateUntouched(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))
	instance := f.start(t, definition, "alice")

	_, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionRelocate, "admin",
		&models.ExtendParam{NodeID: "nowhere"})
	require.Error(t, err)
	assert.True(t, engine.IsNodeNotFound(err))
	assert.True(t, IsUnprocessableError(err))

	_, err = f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "", nil)
	require.ErrorIs(t, err, engine.ErrOperatorInvalid)
	assert.True(t, IsValidationError(err))

	stored, err := f.instances.FetchByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.Revision, stored.Revision)
	assert.Equal(t, "n1", stored.NodeID)
}

func TestInstance_Resolve_ClosedInstance(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))
	instance := f.start(t, definition, "alice")

	_, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionCancel, "alice", nil)
	require.NoError(t, err)

	_, err = f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "m1", nil)
	require.ErrorIs(t, err, engine.ErrInstanceClosed)
	assert.True(t, IsConflictError(err))
}

func TestInstance_Resolve_StaleRevision(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"), testutil.SingleNode("n2", "m2"))
	instance := f.start(t, definition, "alice")

	// Another writer updates the record after our copy was read.
	stale := instance.Clone()
	_, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionSave, "m1", nil)
	require.NoError(t, err)

	err = f.store.InstanceRepository().Update(t.Context(), stale)
	require.Error(t, err)
	assert.True(t, persistence.IsRevisionConflict(err))
	assert.True(t, IsConflictError(err))
}

func TestInstance_Withdraw(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))
	instance := f.start(t, definition, "alice")

	result, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionWithdraw, "alice", nil)
	require.NoError(t, err)
	assert.True(t, result.Withdraw)

	stored, err := f.instances.FetchByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	f.notifier.AssertCalled(t, "Send", mock.Anything, mock.Anything, models.ActionWithdraw, mock.MatchedBy(
		func(n protocol.Notification) bool { return n.Withdrawn }))
}

func TestInstance_Rebinding(t *testing.T) {
	f := newInstanceFixture(t)
	v1 := f.publish(t, testutil.SingleNode("n1", "m1"), testutil.SingleNode("n2", "m2"))
	instance := f.start(t, v1, "alice")

	_, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "m1", nil)
	require.NoError(t, err)

	v2 := f.publish(t, testutil.SingleNode("review", "r1"), testutil.SingleNode("n2", "m2"))

	t.Run("defaults to the current definition", func(t *testing.T) {
		result, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionRebinding, "admin", nil)
		require.NoError(t, err)

		assert.Equal(t, v2.ID, result.Instance.DefinitionID)
		assert.Equal(t, "review", result.Instance.NodeID)

		logs, err := f.instances.OperationLogs(t.Context(), instance.ID)
		require.NoError(t, err)

		transition, ok := logs[len(logs)-1].Context.(*models.TransitionContext)
		require.True(t, ok)
		assert.Equal(t, v2.ID, transition.DefinitionID)
	})

	t.Run("historical definitions stay resolvable", func(t *testing.T) {
		result, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionRebinding, "admin",
			&models.ExtendParam{DefinitionID: v1.ID})
		require.NoError(t, err)
		assert.Equal(t, v1.ID, result.Instance.DefinitionID)

		result, err = f.instances.Resolve(t.Context(), instance.ID, models.ActionNext, "m1", nil)
		require.NoError(t, err)
		assert.Equal(t, "n2", result.Instance.NodeID)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := f.instances.Resolve(t.Context(), instance.ID, models.ActionRebinding, "admin",
			&models.ExtendParam{DefinitionID: "missing"})
		require.ErrorIs(t, err, ErrDefinitionNotFound)
	})
}

func TestInstance_NotificationFailureIsNotReturned(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	notifier := &mocks.MockNotifier{}
	notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	workflows := NewWorkflow(store, nil, slog.Default())
	workflow, err := workflows.Create(t.Context(), &models.Workflow{Name: "Expense approval"})
	require.NoError(t, err)

	definition, err := workflows.Publish(t.Context(), workflow.ID, draftDefinition(testutil.SingleNode("n1", "m1")))
	require.NoError(t, err)

	instances := NewInstance(store, engine.New(engine.Config{}), notifier, slog.Default())

	instance, err := instances.Start(t.Context(), definition, models.ApplicationParam{
		ApplyMode: models.ApplicationModeSelf,
		Applicant: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "n1", instance.NodeID)

	notifier.AssertExpectations(t)
}

func TestInstance_GetInstanceWithAllowedActions(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))
	instance := f.start(t, definition, "alice")

	t.Run("missing instance", func(t *testing.T) {
		found, err := f.instances.GetInstanceWithAllowedActions(t.Context(), "missing", "m1")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("approver", func(t *testing.T) {
		found, err := f.instances.GetInstanceWithAllowedActions(t.Context(), instance.ID, "m1")
		require.NoError(t, err)

		assert.Contains(t, found.AllowedActions, models.ActionNext)
		assert.NotContains(t, found.AllowedActions, models.ActionCancel)
	})

	t.Run("applicant", func(t *testing.T) {
		found, err := f.instances.GetInstanceWithAllowedActions(t.Context(), instance.ID, "alice")
		require.NoError(t, err)

		assert.Contains(t, found.AllowedActions, models.ActionCancel)
		assert.NotContains(t, found.AllowedActions, models.ActionNext)
	})

	t.Run("nothing is persisted", func(t *testing.T) {
		stored, err := f.instances.FetchByID(t.Context(), instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.Revision, stored.Revision)
	})
}

func TestInstance_ListByWorkflow(t *testing.T) {
	f := newInstanceFixture(t)
	definition := f.publish(t, testutil.SingleNode("n1", "m1"))

	first := f.start(t, definition, "alice")
	f.start(t, definition, "bob")

	_, err := f.instances.Resolve(t.Context(), first.ID, models.ActionReject, "m1", nil)
	require.NoError(t, err)

	all, err := f.instances.ListByWorkflow(t.Context(), f.workflow.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rejected, err := f.instances.ListByWorkflow(t.Context(), f.workflow.ID, models.InstanceStatusRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, first.ID, rejected[0].ID)

	_, err = f.instances.ListByWorkflow(t.Context(), f.workflow.ID, "PENDING")
	require.ErrorIs(t, err, ErrInvalidRequest)
}
