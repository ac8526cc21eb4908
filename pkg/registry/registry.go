// Package registry keeps the plugins Robot nodes may run.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"strings"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrPluginNotRegistered is returned when a node names an unknown plugin.
var ErrPluginNotRegistered = errors.New("plugin not registered")

// Registry maps plugin names to plugins. It is filled at startup and only
// read afterwards.
type Registry struct {
	logger  *slog.Logger
	plugins map[string]protocol.Plugin
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log.With("module", "registry"),
		plugins: make(map[string]protocol.Plugin),
	}
}

// Register adds a plugin, replacing any plugin with the same name.
func (r *Registry) Register(plugin protocol.Plugin) {
	r.plugins[plugin.Name()] = plugin
}

// Plugin implements protocol.PluginLookup.
func (r *Registry) Plugin(name string) (protocol.Plugin, bool) {
	plugin, ok := r.plugins[name]

	return plugin, ok
}

// HealthCheck reports how many plugins are available. A registry without
// plugins is healthy; definitions without Robot nodes never need one.
func (r *Registry) HealthCheck() (string, bool) {
	return fmt.Sprintf("%d plugins registered", len(r.plugins)), true
}

// Plugins returns every registered plugin ordered by name.
func (r *Registry) Plugins() []protocol.Plugin {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}

	slices.Sort(names)

	out := make([]protocol.Plugin, 0, len(names))
	for _, name := range names {
		out = append(out, r.plugins[name])
	}

	return out
}

// ValidateDefinition checks that every plugin a node names is registered and
// that the node's configuration for it matches the plugin schema.
func (r *Registry) ValidateDefinition(definition *models.Definition) error {
	for _, node := range definition.Nodes {
		for _, name := range node.Plugins {
			if err := r.validateNode(node, name); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Registry) validateNode(node *models.Node, name string) error {
	plugin, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s on node %s", ErrPluginNotRegistered, name, node.ID)
	}

	schema := plugin.Schema()
	if schema == nil {
		return nil
	}

	config := map[string]any{}

	if raw, ok := node.Configuration[name]; ok {
		section, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("configuration of plugin %s on node %s must be an object", name, node.ID)
		}

		config = section
	}

	if err := validateJSONSchema(config, schema); err != nil {
		return fmt.Errorf("invalid configuration of plugin %s on node %s: %w", name, node.ID, err)
	}

	return nil
}

func validateJSONSchema(data map[string]any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// LoadPlugins opens every .so file under pluginsPath and registers the
// value each one exports as the symbol "Plugin".
func (r *Registry) LoadPlugins(pluginsPath string) error {
	paths, err := fs.Glob(os.DirFS(pluginsPath), "*.so")
	if err != nil {
		return err
	}

	l := r.logger.With(slog.String("path", pluginsPath))
	l.Info("Loading plugins", "count", len(paths))

	for _, p := range paths {
		loaded, err := loadPlugin(filepath.Join(pluginsPath, p))
		if err != nil {
			return err
		}

		r.Register(loaded)
		l.Info("Loaded plugin", slog.String("file", p), slog.String("plugin", loaded.Name()))
	}

	return nil
}

func loadPlugin(path string) (protocol.Plugin, error) {
	plg, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}

	symbol, err := plg.Lookup("Plugin")
	if err != nil {
		return nil, fmt.Errorf("failed to find Plugin symbol in %s: %w", path, err)
	}

	// Exported variables come back as pointers to the variable.
	switch v := symbol.(type) {
	case protocol.Plugin:
		return v, nil
	case *protocol.Plugin:
		return *v, nil
	default:
		return nil, fmt.Errorf("symbol Plugin in %s does not implement protocol.Plugin", path)
	}
}
