package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/storage"
)

var errChecksFailed = errors.New("health checks failed")

func newDoctorCommand(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the database, patterns and schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			hasErrors := false
			hasWarnings := false

			fmt.Fprintln(out, "Checking asinscan health...")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Database:")
			fmt.Fprintf(out, "  DSN: %s\n", a.cfg.Storage.DSN)

			if _, err := os.Stat(a.cfg.Storage.DSN); os.IsNotExist(err) {
				fmt.Fprintln(out, "  ⚠ Database file does not exist yet; it is created on first use")
				hasWarnings = true
			}

			store, err := a.openStore()
			if err != nil {
				fmt.Fprintf(out, "  ✗ %v\n", err)
				return errChecksFailed
			}
			defer store.Close()
			fmt.Fprintln(out, "  ✓ Database is accessible and migrated")

			if stat, err := os.Stat(a.cfg.Storage.DSN); err == nil {
				perm := stat.Mode().Perm()
				if verbose {
					fmt.Fprintf(out, "  Permissions: %o\n", perm)
				}
				if perm&0o077 != 0 {
					fmt.Fprintln(out, "  ⚠ Warning: Database file has overly permissive permissions")
					fmt.Fprintf(out, "    Current: %o, expected: 600\n", perm)
					hasWarnings = true
				}
			}

			targets, err := store.ListTargets(cmd.Context(), storage.TargetFilter{})
			if err != nil {
				fmt.Fprintf(out, "  ✗ Could not list targets: %v\n", err)
				hasErrors = true
			} else {
				active := 0
				for _, t := range targets {
					if t.Active {
						active++
					}
				}
				fmt.Fprintf(out, "  Targets: %d (%d active)\n", len(targets), active)
				if active == 0 {
					fmt.Fprintln(out, "  ⚠ Warning: No active targets; batch runs will do nothing")
					hasWarnings = true
				}
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Patterns:")
			var invalid []*pattern.InvalidPatternError
			loader := pattern.NewLoader(store, zap.NewNop())
			loader.OnInvalid = func(e *pattern.InvalidPatternError) { invalid = append(invalid, e) }

			compiled, err := loader.LoadActive(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "  ✗ %v\n", err)
				hasErrors = true
			} else {
				fmt.Fprintf(out, "  ✓ %d active pattern(s) compile\n", len(compiled))
				if verbose {
					for _, c := range compiled {
						fmt.Fprintf(out, "    #%d %s %s\n", c.ID, c.Name, c.Regex)
					}
				}
				for _, e := range invalid {
					fmt.Fprintf(out, "  ⚠ Warning: %v\n", e)
					hasWarnings = true
				}
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Scanning:")
			fmt.Fprintf(out, "  Product URL: %s/dp/<identifier>\n", a.cfg.Fetch.BaseURL)
			fmt.Fprintf(out, "  Request interval: %s\n", a.cfg.Scan.RequestInterval)
			if schedule, err := cron.ParseStandard(a.cfg.Scan.Schedule); err == nil {
				fmt.Fprintf(out, "  Schedule: %s (next %s)\n",
					a.cfg.Scan.Schedule, schedule.Next(time.Now()).Format(timeLayout))
			}
			fmt.Fprintln(out)

			switch {
			case hasErrors:
				fmt.Fprintln(out, "✗ Some checks failed")
				return errChecksFailed
			case hasWarnings:
				fmt.Fprintln(out, "✓ Functional but has warnings")
				if !verbose {
					fmt.Fprintln(out, "  Run 'asinscan doctor --verbose' for more details")
				}
			default:
				fmt.Fprintln(out, "✓ All checks passed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "show detailed diagnostic information")
	return cmd
}
