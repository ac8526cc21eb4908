package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/concord/pkg/cmd"
	"github.com/dukex/concord/pkg/log"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/services"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var ErrDefinitionFileRequired = errors.New("a definition file is required")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a definition file (JSON or YAML) before publishing it",
		ArgsUsage: "<definition-file>",
		Flags:     append([]cli.Flag{pluginsPathFlag()}, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("validate")

			path := command.Args().First()
			if path == "" {
				return ErrDefinitionFileRequired
			}

			definition, err := readDefinition(path)
			if err != nil {
				return err
			}

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return fmt.Errorf("failed to load plugins: %w", err)
			}

			draft := prepareDraft(definition)

			if err := services.NewWorkflow(nil, registry, logger).ValidateDefinition(draft); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "%s: valid definition with %d nodes\n", path, len(draft.Nodes))

			return nil
		},
	}
}

// readDefinition decodes a definition from JSON, or from YAML when the file
// extension says so. YAML goes through JSON so both share the node decoding.
func readDefinition(path string) (*models.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML definition: %w", err)
		}

		data, err = json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML definition: %w", err)
		}
	}

	var definition models.Definition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}

	return &definition, nil
}

// prepareDraft fills in the identifiers publishing would assign.
func prepareDraft(definition *models.Definition) *models.Definition {
	draft := *definition
	if draft.WorkflowID == "" {
		draft.WorkflowID = "draft"
	}

	draft.Nodes = make([]*models.Node, len(definition.Nodes))

	for i, node := range definition.Nodes {
		if node == nil {
			continue
		}

		copied := *node
		if copied.ID == "" {
			copied.ID = fmt.Sprintf("node-%d", i)
		}

		draft.Nodes[i] = &copied
	}

	return &draft
}
