package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDefinition() *Definition {
	return &Definition{
		ID:               "def-1",
		WorkflowID:       "wf-1",
		Version:          1,
		ApplicationModes: []ApplicationMode{ApplicationModeSelf},
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart, Name: "Start"},
			{ID: "n1", Type: NodeTypeSingle, Name: "Manager", OperatorID: "op-1"},
			{ID: "n2", Type: NodeTypeMultiple, Name: "Board", OperatorIDs: []string{"a", "b"}, ApprovalType: ApprovalTypeAnd},
			{ID: "end", Type: NodeTypeEnd, Name: "End"},
		},
	}
}

func TestDefinition_Validate_Valid(t *testing.T) {
	def := sampleDefinition()

	require.NoError(t, def.Validate())
	require.NoError(t, validator.New().Struct(def))
}

func TestDefinition_Validate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr error
	}{
		{
			name:    "missing start",
			mutate:  func(d *Definition) { d.Nodes[0].Type = NodeTypeSingle },
			wantErr: ErrStartNodeMissing,
		},
		{
			name:    "missing end",
			mutate:  func(d *Definition) { d.Nodes[3].Type = NodeTypeRobot },
			wantErr: ErrEndNodeMissing,
		},
		{
			name:    "end in the middle",
			mutate:  func(d *Definition) { d.Nodes[1].Type = NodeTypeEnd },
			wantErr: ErrMarkerMisplaced,
		},
		{
			name:    "duplicate node id",
			mutate:  func(d *Definition) { d.Nodes[2].ID = "n1" },
			wantErr: ErrDuplicateNodeID,
		},
		{
			name: "only markers",
			mutate: func(d *Definition) {
				d.Nodes = []*Node{d.Nodes[0], d.Nodes[3]}
			},
			wantErr: ErrNoActionableNode,
		},
		{
			name:    "no application mode",
			mutate:  func(d *Definition) { d.ApplicationModes = nil },
			wantErr: ErrNoApplicationMode,
		},
		{
			name:    "unknown node type",
			mutate:  func(d *Definition) { d.Nodes[1].Type = "HUMAN" },
			wantErr: ErrNodeTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := sampleDefinition()
			tt.mutate(def)

			err := def.Validate()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDefinition_Lookups(t *testing.T) {
	def := sampleDefinition()

	assert.Equal(t, 2, def.IndexOf("n2"))
	assert.Equal(t, -1, def.IndexOf("missing"))
	assert.Nil(t, def.NodeByID("missing"))
	assert.Equal(t, "n1", def.FirstActionableNode().ID)
	assert.Equal(t, "start", def.StartNode().ID)
	assert.Equal(t, "end", def.EndNode().ID)
	assert.Nil(t, def.NodeAt(10))
	assert.True(t, def.SupportsMode(ApplicationModeSelf))
	assert.False(t, def.SupportsMode(ApplicationModeProxy))
}

func TestNode_UnmarshalJSON_RejectsUnknownType(t *testing.T) {
	var node Node

	err := json.Unmarshal([]byte(`{"node_id":"x","node_type":"HUMAN","node_name":"X"}`), &node)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeTypeMismatch))

	err = json.Unmarshal([]byte(`{"node_id":"x","node_type":"MULTIPLE","node_name":"X","approval_type":"AND","operator_id_set":["a"]}`), &node)
	require.NoError(t, err)
	assert.Equal(t, NodeTypeMultiple, node.Type)
	assert.True(t, node.IsAllApproval())
}

func TestDefinition_Validate_UnknownApprovalType(t *testing.T) {
	def := &Definition{
		ID:               "d1",
		WorkflowID:       "wf",
		ApplicationModes: []ApplicationMode{ApplicationModeSelf},
		Nodes: []*Node{
			{ID: "s", Type: NodeTypeStart, Name: "Start"},
			{ID: "board", Type: NodeTypeMultiple, Name: "Board", OperatorIDs: []string{"a", "b"}, ApprovalType: "ALL"},
			{ID: "e", Type: NodeTypeEnd, Name: "End"},
		},
	}

	err := def.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownApprovalType)

	def.Nodes[1].ApprovalType = ApprovalTypeAnd
	assert.NoError(t, def.Validate())

	assert.True(t, IsKnownApprovalType(ApprovalTypeOr))
	assert.False(t, IsKnownApprovalType("ALL"))
}

func TestNode_EffectiveApprovalType(t *testing.T) {
	tests := []struct {
		node *Node
		want ApprovalType
	}{
		{&Node{Type: NodeTypeSingle, ApprovalType: ApprovalTypeAnd}, ApprovalTypeSimple},
		{&Node{Type: NodeTypeMultiple}, ApprovalTypeSimple},
		{&Node{Type: NodeTypeMultiple, ApprovalType: ApprovalTypeOr}, ApprovalTypeOr},
		{&Node{Type: NodeTypeMultiple, ApprovalType: ApprovalTypeAnd}, ApprovalTypeAnd},
		{&Node{Type: NodeTypeRobot}, ApprovalTypeSimple},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.node.EffectiveApprovalType())
	}

	assert.True(t, (&Node{Type: NodeTypeSingle}).AutoSkip())
	assert.False(t, (&Node{Type: NodeTypeSingle, OperatorID: "x"}).AutoSkip())
}

func TestInstance_AllApprovedAndClone(t *testing.T) {
	instance := &Instance{
		ExpandOperatorIDs: []string{"a", "b"},
		ParallelApproval: map[string]ApprovalStatus{
			"a": {OperatorID: "a", Approved: true},
			"b": {OperatorID: "b", Approved: false},
			"":  {OperatorID: "", Approved: false},
		},
	}

	assert.False(t, instance.AllApproved())
	assert.Equal(t, 1, instance.ApprovedCount())

	clone := instance.Clone()
	clone.ParallelApproval["b"] = ApprovalStatus{OperatorID: "b", Approved: true}
	clone.ExpandOperatorIDs[0] = "z"

	assert.True(t, clone.AllApproved(), "entries without an operator id are ignored")
	assert.False(t, instance.AllApproved(), "clone must not share the ledger")
	assert.Equal(t, "a", instance.ExpandOperatorIDs[0])
}

func TestInstanceStatus_IsTerminal(t *testing.T) {
	assert.False(t, InstanceStatusNew.IsTerminal())
	assert.False(t, InstanceStatusProcessing.IsTerminal())

	for _, status := range []InstanceStatus{InstanceStatusRejected, InstanceStatusCanceled, InstanceStatusApproved, InstanceStatusFinished} {
		assert.True(t, status.IsTerminal(), status)
	}
}

func TestApplicationParam_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	assert.NoError(t, validate.Struct(ApplicationParam{ApplyMode: ApplicationModeSelf, Applicant: "u1"}))
	assert.Error(t, validate.Struct(ApplicationParam{ApplyMode: ApplicationModeProxy, Applicant: "u1"}))
	assert.Error(t, validate.Struct(ApplicationParam{ApplyMode: "OTHER", Applicant: "u1"}))

	proxy := ApplicationParam{ApplyMode: ApplicationModeProxy, Applicant: "u1", ProxyApplicant: "assistant"}
	assert.NoError(t, validate.Struct(proxy))
	assert.Equal(t, "assistant", proxy.Operator())
}

func TestParseAction(t *testing.T) {
	action, err := ParseAction(" next ")
	require.NoError(t, err)
	assert.Equal(t, ActionNext, action)

	_, err = ParseAction("approve")
	assert.Error(t, err)
}

func TestUnionIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UnionIDs([]string{"c", "a", ""}, []string{"b", "a"}))
	assert.Equal(t, []string{}, UnionIDs(nil))
	assert.True(t, SameIDs([]string{"b", "a", "a"}, []string{"a", "b"}))
	assert.False(t, SameIDs([]string{"a"}, []string{"a", "b"}))
}

func TestOperationLog_TaggedContext(t *testing.T) {
	log := OperationLog{
		ID:         "log-1",
		InstanceID: "inst-1",
		Action:     ActionNext,
		OperatorID: "a",
		Context:    ApprovalContext{Approved: []string{"a"}, Pending: []string{"b"}},
	}

	data, err := json.Marshal(log)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"approval"`)

	var decoded OperationLog
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "inst-1", decoded.InstanceID)

	approval, ok := decoded.Context.(*ApprovalContext)
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, approval.Pending)
}

func TestOperationLog_UnknownContextKind(t *testing.T) {
	var decoded OperationLog

	err := json.Unmarshal([]byte(`{"id":"x","context":{"kind":"com.example.Legacy","data":{}}}`), &decoded)
	assert.ErrorIs(t, err, ErrUnknownContextKind)
}
