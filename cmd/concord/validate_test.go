package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDefinition = `
application_modes: [SELF, PROXY]
nodes:
  - node_type: START
    node_name: Start
  - node_id: manager
    node_type: SINGLE
    node_name: Manager
    operator_id: m1
  - node_type: ROBOT
    node_name: Audit
    plugins: [log]
    configuration:
      log:
        message: "Instance {{.instance.id}} audited"
  - node_type: END
    node_name: End
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(t.Context(), append([]string{"concord"}, args...))

	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
		output  string
	}{
		{
			name:    "yaml definition",
			file:    "definition.yaml",
			content: yamlDefinition,
			output:  "valid definition with 4 nodes",
		},
		{
			name:    "json definition",
			file:    "definition.json",
			content: `{"application_modes":["SELF"],"nodes":[{"node_type":"START","node_name":"S"},{"node_type":"SINGLE","node_name":"M","operator_id":"m1"},{"node_type":"END","node_name":"E"}]}`,
			output:  "valid definition with 3 nodes",
		},
		{
			name:    "missing end marker",
			file:    "definition.json",
			content: `{"application_modes":["SELF"],"nodes":[{"node_type":"START","node_name":"S"},{"node_type":"SINGLE","node_name":"M","operator_id":"m1"},{"node_type":"SINGLE","node_name":"N","operator_id":"m2"}]}`,
			wantErr: true,
		},
		{
			name:    "unknown plugin",
			file:    "definition.yml",
			content: "application_modes: [SELF]\nnodes:\n  - {node_type: START, node_name: S}\n  - {node_type: ROBOT, node_name: R, plugins: [missing]}\n  - {node_type: END, node_name: E}\n",
			wantErr: true,
		},
		{
			name:    "unknown node type",
			file:    "definition.json",
			content: `{"application_modes":["SELF"],"nodes":[{"node_type":"GATEWAY","node_name":"G"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := run(t, "validate", writeFile(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Contains(t, output, tt.output)
		})
	}
}

func TestValidateCommand_MissingArgument(t *testing.T) {
	_, err := run(t, "validate")
	assert.ErrorIs(t, err, ErrDefinitionFileRequired)
}

func TestPluginsCommand(t *testing.T) {
	output, err := run(t, "plugins")
	require.NoError(t, err)

	assert.Contains(t, output, "Available Plugins:")
	assert.Contains(t, output, "  - httprequest:")
	assert.Contains(t, output, "  - log:")
	assert.Contains(t, output, "  - transform:")
}
