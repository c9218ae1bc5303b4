package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatbot/internal/daemon"
	"github.com/flemzord/chatbot/pkg/app"
)

func serviceCmd(flags *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "service <" + strings.Join(append(daemon.Actions(), "run"), "|") + ">",
		Short: "Manage the chatbot gateway as a system service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveArgs := []string{"serve"}
			if flags.configPath != "" {
				abs, err := filepath.Abs(flags.configPath)
				if err != nil {
					return err
				}
				serveArgs = append(serveArgs, "--config", abs)
			}
			if flags.dataDir != "" {
				abs, err := filepath.Abs(flags.dataDir)
				if err != nil {
					return err
				}
				serveArgs = append(serveArgs, "--data-dir", abs)
			}

			prog := daemon.NewProgram(func(ctx context.Context) error {
				rt, err := app.Build(ctx, app.Params{
					ConfigPath: flags.configPath,
					DataDir:    flags.dataDir,
					Version:    version,
				})
				if err != nil {
					return err
				}
				return rt.Serve(ctx)
			}, nil)

			svc, err := daemon.New(daemon.Config{Name: name, Arguments: serveArgs}, prog)
			if err != nil {
				return err
			}

			if args[0] == "run" {
				return svc.Run()
			}
			if err := daemon.Control(svc, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: %s done\n", name, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", daemon.DefaultName, "service name")
	return cmd
}
