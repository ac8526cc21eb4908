// Package protocol defines the interfaces the engine expects from its host.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/concord/pkg/models"
)

// PluginCall is what a plugin receives when a Robot node is entered.
type PluginCall struct {
	// Instance is a snapshot of the instance being moved; plugins must not mutate it.
	Instance *models.Instance
	Node     *models.Node
	Param    map[string]any
	Logger   *slog.Logger
}

// Plugin is a unit of automation attached to Robot nodes by name.
type Plugin interface {
	// Name returns the unique type name nodes refer to
	Name() string

	// Description returns a description of what this plugin does
	Description() string

	// Schema returns the JSON schema for the node configuration this plugin reads
	Schema() map[string]any

	// Handle runs the plugin and returns its result
	Handle(ctx context.Context, call PluginCall) (any, error)
}

// PluginLookup finds plugins by type name.
type PluginLookup interface {
	Plugin(name string) (Plugin, bool)
}
