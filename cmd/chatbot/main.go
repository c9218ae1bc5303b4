// Package main is the entry point for the chatbot CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatbot/internal/console"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/pkg/app"

	// Compiled-in modules.
	_ "github.com/flemzord/chatbot/internal/cron"
	_ "github.com/flemzord/chatbot/internal/gateway"
	_ "github.com/flemzord/chatbot/modules/persist/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	dataDir    string
	verbose    bool
	style      string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "chatbot",
		Short:         "A resilient chat assistant with local fallback answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "directory for persistent data")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log to stderr in interactive commands")
	root.PersistentFlags().StringVar(&flags.style, "style", "", "markdown style: dark, light, notty (default: detect)")

	root.AddCommand(
		versionCmd(),
		serveCmd(flags),
		chatCmd(flags),
		sendCmd(flags),
		historyCmd(flags),
		clearCmd(flags),
		configCmd(flags),
		mcpCmd(flags),
		serviceCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatbot %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

// openInteractive builds a runtime with persistence only, rendering engine
// notifications to out, and starts it. Callers must Close it.
func openInteractive(ctx context.Context, flags *globalFlags, out io.Writer) (*app.Runtime, *console.Presenter, error) {
	var opts []console.Option
	if flags.style != "" {
		opts = append(opts, console.WithStyle(flags.style))
	}
	presenter, err := console.NewPresenter(out, opts...)
	if err != nil {
		return nil, nil, err
	}

	var logOutput io.Writer = io.Discard
	if flags.verbose {
		logOutput = os.Stderr
	}

	rt, err := app.Build(ctx, app.Params{
		ConfigPath: flags.configPath,
		DataDir:    flags.dataDir,
		Version:    version,
		LogOutput:  logOutput,
		Presenters: []dispatch.Presenter{presenter},
		Modules:    app.PersistenceOnly,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := rt.Start(); err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, presenter, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
