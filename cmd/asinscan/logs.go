package main

import (
	"github.com/spf13/cobra"

	"github.com/pevans/asinscan/storage"
)

func newLogsCommand(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent scan attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logs, err := store.ListScanLogs(cmd.Context(), storage.ScanLogFilter{
				RunID: runID,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			renderScanLogs(cmd.OutOrStdout(), logs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows to show (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "only show rows of this run id")
	return cmd
}

func newMatchesCommand(a *app) *cobra.Command {
	var (
		limit      int
		identifier string
	)

	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Show recent match records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListMatchRecords(cmd.Context(), storage.MatchFilter{
				Identifier: identifier,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			renderMatches(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows to show (0 = all)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "only show matches for this identifier")
	return cmd
}
