package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/storage"
)

func newPatternsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage match patterns",
	}

	cmd.AddCommand(
		newPatternsAddCommand(a),
		newPatternsListCommand(a),
		newPatternsToggleCommand(a, "enable", true),
		newPatternsToggleCommand(a, "disable", false),
		newPatternsDeleteCommand(a),
	)
	return cmd
}

func newPatternsAddCommand(a *app) *cobra.Command {
	var (
		flags       string
		description string
		inactive    bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> <regex>",
		Short: "Add a pattern",
		Long: `Add a pattern. --flags takes symbolic tokens such as
"IGNORECASE|MULTILINE" or an integer bitmask.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := pattern.ParseFlagString(flags)
			if _, err := pattern.Compile(args[1], parsed); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var stored any
			if flags != "" {
				stored = flags
			}

			p, err := store.CreatePattern(cmd.Context(), storage.NewPattern{
				Name:        args[0],
				Source:      args[1],
				Flags:       stored,
				Description: description,
				Inactive:    inactive,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created pattern: %s\n", p.Name)
			fmt.Fprintf(out, "  ID: %d\n", p.ID)
			fmt.Fprintf(out, "  Pattern: %s\n", p.Source)
			if parsed != 0 {
				fmt.Fprintf(out, "  Flags: %s\n", parsed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags, "flags", "", "regex flags, e.g. IGNORECASE|DOTALL")
	cmd.Flags().StringVar(&description, "description", "", "what the pattern is for")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the pattern disabled")
	return cmd
}

func newPatternsListCommand(a *app) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			patterns, err := store.ListPatterns(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}

			renderPatterns(cmd.OutOrStdout(), patterns)
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active patterns")
	return cmd
}

func newPatternsToggleCommand(a *app, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: fmt.Sprintf("%s a pattern", capitalize(verb)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern ID: %s", args[0])
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetPatternActive(cmd.Context(), id, active); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %sd pattern: %d\n", capitalize(verb), id)
			return nil
		},
	}
}

func newPatternsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"remove"},
		Short:   "Delete a pattern; matches it recorded are kept",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern ID: %s", args[0])
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeletePattern(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete pattern: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted pattern: %d\n", id)
			return nil
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
