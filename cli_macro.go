package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMacroCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macro",
		Short: "Record, show and delete per-app skip macros",
	}
	cmd.AddCommand(newMacroRecordCmd(), newMacroShowCmd(), newMacroDeleteCmd())
	return cmd
}

func newMacroRecordCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record <app-id>",
		Short: "Record device touches as the skip macro of an app",
		Long: `Captures every touch on the device screen until Ctrl-C (or --duration) and
saves the taps as the app's macro. A running daemon picks the new macro up
from the macro directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := s.app.StartMacroRecording(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Recording %s. Touch the screen, then press Ctrl-C to save.\n", args[0])

			if duration > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(duration):
				}
			} else {
				<-ctx.Done()
			}

			appID, m, err := s.app.StopMacroRecording(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d actions for %s\n%s\n", len(m), appID, m)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop automatically after this long")
	return cmd
}

func newMacroShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [app-id]",
		Short: "Show one macro, or list apps that have one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, id := range s.app.MacroApps() {
					fmt.Fprintln(out, id)
				}
				return nil
			}
			m, ok := s.app.Macro(args[0])
			if !ok {
				return fmt.Errorf("no macro saved for %s", args[0])
			}
			fmt.Fprintln(out, m)
			return nil
		},
	}
}

func newMacroDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <app-id>",
		Short: "Delete the macro of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			deleted, err := s.app.DeleteMacro(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("no macro saved for %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted macro for %s\n", args[0])
			return nil
		},
	}
}
