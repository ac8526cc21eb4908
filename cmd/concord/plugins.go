package main

import (
	"context"
	"fmt"

	"github.com/dukex/concord/pkg/cmd"
	"github.com/dukex/concord/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewPluginsCommand() *cli.Command {
	return &cli.Command{
		Name:    "plugins",
		Aliases: []string{"ls"},
		Usage:   "List the plugins Robot nodes can use",
		Flags:   append([]cli.Flag{pluginsPathFlag()}, logFlags()...),
		Action: func(_ context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			registry, err := cmd.NewRegistry(log.WithModule("plugins"), command.String("plugins-path"))
			if err != nil {
				return fmt.Errorf("failed to load plugins: %w", err)
			}

			out := command.Root().Writer

			_, _ = fmt.Fprintln(out, "Available Plugins:")
			_, _ = fmt.Fprintln(out, "==================")

			for _, plugin := range registry.Plugins() {
				_, _ = fmt.Fprintf(out, "  - %s: %s\n", plugin.Name(), plugin.Description())
			}

			return nil
		},
	}
}
