package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/asinscan/fetcher"
)

func newScanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <identifier>",
		Short: "Scan a single product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			identifier := args[0]
			matches, err := a.newScanner(store, nil).RunOne(cmd.Context(), identifier)
			if err != nil {
				var fetchErr *fetcher.FetchError
				if errors.As(err, &fetchErr) {
					return fmt.Errorf("could not fetch %s: %w", identifier, err)
				}
				return fmt.Errorf("failed to scan %s: %w", identifier, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Scanned %s: %d matches\n", identifier, matches)
			return nil
		},
	}
}

func newRunCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every active target",
		Long: `Scan every active target in ascending id order, pausing
scan.request_interval after each one. Targets that fail are logged and
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Scan.Limit
			}

			total, err := a.newScanner(store, nil).RunAll(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("batch run stopped after %d matches: %w", total, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Batch run finished: %d matches\n", total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "scan at most this many targets (0 = all)")
	return cmd
}
