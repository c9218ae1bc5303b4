package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatbot/internal/mcpserver"
	"github.com/flemzord/chatbot/pkg/app"
)

func mcpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the conversation as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			// Stdout carries the protocol, so logs go to stderr.
			rt, err := app.Build(ctx, app.Params{
				ConfigPath: flags.configPath,
				DataDir:    flags.dataDir,
				Version:    version,
				LogOutput:  os.Stderr,
				Modules:    app.PersistenceOnly,
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Start(); err != nil {
				return err
			}

			srv := mcpserver.New(rt.Engine, version, rt.Logger.With("component", "mcp"))
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
