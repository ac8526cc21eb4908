package transform

import (
	"context"
	"testing"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugin_Handle(t *testing.T) {
	tests := []struct {
		name       string
		expression any
		want       any
		wantErr    string
	}{
		{
			name:       "object",
			expression: `{"applicant": "{{.instance.applicant}}", "amount": {{.param.amount}}}`,
			want:       map[string]any{"result": map[string]any{"applicant": "alice", "amount": 120.0}},
		},
		{
			name:       "scalar",
			expression: `{{ gt .param.amount 100 }}`,
			want:       map[string]any{"result": true},
		},
		{name: "missing expression", wantErr: "missing required field 'expression'"},
		{name: "broken json", expression: `{"a": {{.param.amount}},}`, wantErr: "transformation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := map[string]any{}
			if tt.expression != nil {
				config["expression"] = tt.expression
			}

			result, err := New().Handle(context.Background(), protocol.PluginCall{
				Instance: &models.Instance{ID: "inst-1", Applicant: "alice"},
				Node:     &models.Node{ID: "bot", Type: models.NodeTypeRobot, Configuration: map[string]any{Name: config}},
				Param:    map[string]any{"amount": 120},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestPlugin_ConfigurationMustBeObject(t *testing.T) {
	_, err := New().Handle(context.Background(), protocol.PluginCall{
		Node: &models.Node{ID: "bot", Configuration: map[string]any{Name: "oops"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an object")
}
