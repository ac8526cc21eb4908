// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/concord/pkg/registry"
)

// NewRegistry registers the built-in plugins, then any .so plugins found in
// pluginsPath. An empty path skips loading.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultPlugins()

	if pluginsPath == "" {
		return reg, nil
	}

	if err := reg.LoadPlugins(pluginsPath); err != nil {
		return nil, err
	}

	return reg, nil
}
