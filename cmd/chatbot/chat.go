package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatbot/internal/console"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/settings"
)

func chatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, presenter, err := openInteractive(ctx, flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			presenter.Println("Type a message, or /help for commands.")
			repl := &console.REPL{
				Engine:       rt.Engine,
				Presenter:    presenter,
				In:           cmd.InOrStdin(),
				EditSettings: settings.Edit,
				SaveSettings: rt.SaveAssistant,
				Prompt:       "> ",
			}
			return repl.Run(ctx)
		},
	}
}

func sendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, _, err := openInteractive(ctx, flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Engine.Dispatch(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if flags.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "outcome=%s attempts=%d method=%s elapsed=%s\n",
					res.Outcome, res.Attempts, res.Method, res.Elapsed)
			}
			return nil
		},
	}
}

func historyCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			rt, presenter, err := openInteractive(cmd.Context(), flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			turns := rt.Engine.Transcript(limit)
			if len(turns) == 0 {
				presenter.Println("No conversation yet.")
				return nil
			}
			presenter.Transcript(turns)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", dispatch.DefaultTranscriptTurns, "number of turns to show, 0 for all")
	return cmd
}

func clearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Start a new conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, _, err := openInteractive(cmd.Context(), flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Engine.Reset(cmd.Context())
		},
	}
}
