package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/asinscan/storage"
)

func newTargetsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage scan targets",
	}

	cmd.AddCommand(
		newTargetsAddCommand(a),
		newTargetsListCommand(a),
		newTargetsToggleCommand(a, "enable", true),
		newTargetsToggleCommand(a, "disable", false),
		newTargetsDeleteCommand(a),
	)
	return cmd
}

func newTargetsAddCommand(a *app) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "add <identifier>",
		Short: "Add a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.CreateTarget(cmd.Context(), args[0], note)
			if errors.Is(err, storage.ErrDuplicateTarget) {
				return fmt.Errorf("target %s already exists", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created target: %s\n", target.Identifier)
			fmt.Fprintf(out, "  ID: %d\n", target.ID)
			if target.Note != "" {
				fmt.Fprintf(out, "  Note: %s\n", target.Note)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

func newTargetsListCommand(a *app) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			filter := storage.TargetFilter{}
			if activeOnly {
				filter.Active = &activeOnly
			}

			targets, err := store.ListTargets(cmd.Context(), filter)
			if err != nil {
				return err
			}

			renderTargets(cmd.OutOrStdout(), targets)
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active targets")
	return cmd
}

func newTargetsToggleCommand(a *app, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <identifier>",
		Short: fmt.Sprintf("%s a target", capitalize(verb)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.SetTargetActive(cmd.Context(), target.ID, active); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %sd target: %s\n", capitalize(verb), target.Identifier)
			return nil
		},
	}
}

func newTargetsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <identifier>",
		Aliases: []string{"remove"},
		Short:   "Delete a target and its recorded matches",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteTarget(cmd.Context(), target.ID); err != nil {
				return fmt.Errorf("failed to delete target: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted target: %s\n", target.Identifier)
			return nil
		},
	}
}
