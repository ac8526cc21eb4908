// Package log provides a plugin that writes a templated message to the engine log.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/concord/pkg/plugins"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/dukex/concord/pkg/template"
)

const Name = "log"

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Plugin logs a message when a Robot node is entered.
type Plugin struct{}

// New creates the log plugin.
func New() protocol.Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) Description() string {
	return "Logs a message at the given level with template support for instance data"
}

func (p *Plugin) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating with instance data.",
				"examples": []string{
					"Instance {{.instance.id}} reached {{.node.name}}",
					"Expense of {{.param.amount}} submitted by {{.instance.applicant}}",
				},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"message"},
	}
}

func (p *Plugin) Handle(ctx context.Context, call protocol.PluginCall) (any, error) {
	config, err := plugins.Section(call.Node, Name)
	if err != nil {
		return nil, err
	}

	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	levelName := "info"
	if lvl, ok := config["level"].(string); ok {
		levelName = lvl
	}

	level, ok := levels[levelName]
	if !ok {
		return nil, fmt.Errorf("invalid log level '%s' (must be debug, info, warn, or error)", levelName)
	}

	rendered, err := template.RenderWithCall(message, call)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message template: %w", err)
	}

	text := fmt.Sprintf("%v", rendered)

	logger := call.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Log(ctx, level, text)

	return map[string]any{
		"message": text,
		"level":   levelName,
		"logged":  true,
	}, nil
}
