package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/settings"
	"github.com/flemzord/chatbot/pkg/app"
)

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(flags), configShowCmd(flags), configEditCmd(flags))
	return cmd
}

func configCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate the configuration and provision its modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				found, ok := config.Find("")
				if !ok {
					return errors.New("no configuration file found")
				}
				path = found
			}

			rt, err := app.Build(cmd.Context(), app.Params{
				ConfigPath: path,
				DataDir:    flags.dataDir,
				Version:    version,
				LogOutput:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			mods := rt.Modules()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(mods))
			for _, id := range mods {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
}

func configShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := config.LoadOrDefault(flags.configPath)
			if err != nil {
				return err
			}
			cfg.Assistant = cfg.Assistant.Redacted()

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
			return nil
		},
	}
}

func configEditCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Edit the assistant settings in an interactive form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := config.LoadOrDefault(flags.configPath)
			if err != nil {
				return err
			}

			edited, err := settings.Edit(cmd.Context(), cfg.Assistant)
			if errors.Is(err, settings.ErrAborted) {
				fmt.Fprintln(cmd.OutOrStdout(), "No changes saved.")
				return nil
			}
			if err != nil {
				return err
			}

			if err := config.UpdateAssistant(path, edited); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}
}
