package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/config"
	"github.com/pevans/asinscan/extract"
	"github.com/pevans/asinscan/fetcher"
	"github.com/pevans/asinscan/logging"
	"github.com/pevans/asinscan/metrics"
	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/scan"
	"github.com/pevans/asinscan/storage"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "asinscan",
		Short: "Scan product pages for regex patterns",
		Long: `asinscan fetches product pages by identifier, runs every active
pattern over the page title, text, markup and links, and records each
occurrence together with a per-attempt scan log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"config file (default is ~/.asinscan/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newScanCommand(a),
		newRunCommand(a),
		newServeCommand(a),
		newTargetsCommand(a),
		newPatternsCommand(a),
		newLogsCommand(a),
		newMatchesCommand(a),
		newDoctorCommand(a),
	)

	return root
}

// init loads .env, the configuration and the logger.
func (a *app) init() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.debug {
		cfg.Log.Debug = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// newScanner wires the fetcher, extractor, pattern loader and store into a
// scanner. m may be nil.
func (a *app) newScanner(store *storage.Store, m *metrics.Metrics) *scan.Scanner {
	loader := pattern.NewLoader(store, a.logger.Named("pattern"))
	if m != nil {
		loader.OnInvalid = func(*pattern.InvalidPatternError) { m.InvalidPatterns.Inc() }
	}

	return scan.NewScanner(scan.Deps{
		Fetcher:   fetcher.New(a.cfg.Fetch, a.logger.Named("fetcher")),
		Extractor: extract.New(a.cfg.Extract, a.logger.Named("extract")),
		Patterns:  loader,
		Store:     store,
		Metrics:   m,
	}, a.cfg.Scan, a.logger.Named("scan"))
}

// newMetrics registers the scanner metrics and the Go runtime collectors.
func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg)
}
