// Package config loads the engine configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/concord/pkg/engine"
	"github.com/dukex/concord/pkg/operators"
	"github.com/dukex/concord/pkg/protocol"
	"gopkg.in/yaml.v3"
)

// Config represents the structure of the concord.yaml file.
type Config struct {
	// RetrieveResetAll makes RETRIEVE reset every approval of the node.
	RetrieveResetAll bool `yaml:"retrieve_reset_all"`

	// PluginsPath is a directory of .so plugins loaded at startup.
	PluginsPath string `yaml:"plugins_path"`

	// Organizations maps an organization id to its member operator ids for
	// the built-in directory.
	Organizations map[string][]string `yaml:"organizations"`

	// Restrictions are added to the default restriction hooks.
	Restrictions []operators.Rule `yaml:"restrictions"`
}

// Load reads the configuration file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration, rejecting unknown keys.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	for i, rule := range cfg.Restrictions {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("restriction rule %d: %w", i, err)
		}
	}

	return &cfg, nil
}

// Engine builds an engine from the configuration.
func (c *Config) Engine(plugins protocol.PluginLookup, logger *slog.Logger) (*engine.Engine, error) {
	rules, err := operators.RuleRestrictions(c.Restrictions)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Config{
		Directory:        operators.NewDefaultDirectory(c.Organizations),
		Restrictions:     operators.DefaultRestrictions().Merge(rules),
		Plugins:          plugins,
		Logger:           logger,
		RetrieveResetAll: c.RetrieveResetAll,
	}), nil
}
