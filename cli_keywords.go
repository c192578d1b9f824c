package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Inspect and edit the per-app ad keyword table",
	}
	cmd.AddCommand(newKeywordsListCmd(), newKeywordsAddCmd(), newKeywordsRemoveCmd(), newKeywordsResetCmd())
	return cmd
}

func newKeywordsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list [app-id]",
		Short: "List keywords, for every app or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			targets := s.app.Targets()
			if len(args) == 1 {
				t, ok := s.app.Target(args[0])
				if !ok {
					return fmt.Errorf("app %q has no keywords configured", args[0])
				}
				targets = append(targets[:0:0], t)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(targets)
			}
			for _, t := range targets {
				fmt.Fprintf(out, "%s\n  keywords: %s\n  scroll: %.2f -> %.2f in %dms, cooldown %dms\n",
					t.AppID, strings.Join(t.Keywords, ", "),
					t.ScrollConfig.StartRatio, t.ScrollConfig.EndRatio,
					t.ScrollConfig.DurationMs, t.ScrollConfig.CooldownMs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newKeywordsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <app-id> <keyword>",
		Short: "Add a keyword (case-insensitive, duplicates ignored)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			added, err := s.app.AddKeyword(args[0], args[1])
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%q already present for %s\n", args[1], args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %q for %s\n", args[1], args[0])
			return nil
		},
	}
}

func newKeywordsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <app-id> <keyword>",
		Short: "Remove a keyword",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.app.RemoveKeyword(args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("keyword %q not found for %s", args[1], args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %q from %s\n", args[1], args[0])
			return nil
		},
	}
}

func newKeywordsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard edits and restore the bundled keyword table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.app.ResetKeywords(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keywords reset (%d apps)\n", len(s.app.Targets()))
			return nil
		},
	}
}
