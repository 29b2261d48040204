package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/api"
	"github.com/pevans/asinscan/scan"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			m := newMetrics()
			scanner := a.newScanner(store, m)
			runner := scan.NewRunner(scanner, a.logger.Named("runner"))

			if !noSchedule && a.cfg.Scan.Schedule != "" {
				scheduler, err := scan.NewScheduler(runner, a.cfg.Scan.Schedule, a.cfg.Scan.Limit, a.logger.Named("scheduler"))
				if err != nil {
					return err
				}
				scheduler.Start()
				defer scheduler.Stop()
			}

			if !a.cfg.Log.Debug {
				gin.SetMode(gin.ReleaseMode)
			}
			server := api.NewServer(scanner, runner, store, m.Handler(), a.logger.Named("api"))

			httpServer := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           server.SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting API server", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without the cron schedule")
	return cmd
}
