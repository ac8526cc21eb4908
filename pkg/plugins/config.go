// Package plugins holds helpers shared by the built-in Robot node plugins.
package plugins

import (
	"fmt"

	"github.com/dukex/concord/pkg/models"
)

// Section returns the configuration a node carries for the named plugin.
// Nodes key plugin settings by plugin name so several plugins can share a node.
func Section(node *models.Node, plugin string) (map[string]any, error) {
	if node == nil || node.Configuration == nil {
		return map[string]any{}, nil
	}

	raw, ok := node.Configuration[plugin]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}

	section, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("configuration of plugin %s on node %s must be an object", plugin, node.ID)
	}

	return section, nil
}
