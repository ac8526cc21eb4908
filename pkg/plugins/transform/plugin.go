// Package transform provides a plugin that renders a template into the action result.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/concord/pkg/plugins"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/dukex/concord/pkg/template"
)

const Name = "transform"

// Plugin evaluates an expression and returns its value as the plugin result.
type Plugin struct{}

// New creates the transform plugin.
func New() protocol.Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) Description() string {
	return "Renders a Go template against the instance and returns the decoded value"
}

func (p *Plugin) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template whose output is decoded as JSON, number, boolean or string",
				"examples": []string{
					`{"applicant": "{{.instance.applicant}}", "amount": {{.param.amount}}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

func (p *Plugin) Handle(_ context.Context, call protocol.PluginCall) (any, error) {
	config, err := plugins.Section(call.Node, Name)
	if err != nil {
		return nil, err
	}

	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	result, err := template.RenderWithCall(expression, call)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	return map[string]any{"result": result}, nil
}
