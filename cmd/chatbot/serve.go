package main

import (
	"github.com/spf13/cobra"

	"github.com/flemzord/chatbot/pkg/app"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and every configured module until interrupted",
		Long: "Run the gateway and every configured module until SIGINT or SIGTERM.\n" +
			"SIGHUP or an edit of the configuration file re-applies the configuration.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.Build(cmd.Context(), app.Params{
				ConfigPath: flags.configPath,
				DataDir:    flags.dataDir,
				Version:    version,
			})
			if err != nil {
				return err
			}
			return rt.Serve(cmd.Context())
		},
	}
}
