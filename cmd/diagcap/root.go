package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/dataset"
	"github.com/arloliu/diagcap/ingest"
	"github.com/arloliu/diagcap/internal/config"
	"github.com/arloliu/diagcap/internal/logger"
	"github.com/arloliu/diagcap/internal/metrics"
)

var version = "dev"

// app carries the settings shared by every subcommand.
type app struct {
	configFile  string
	lazy        bool
	workers     int
	logLevel    string
	showMetrics bool

	cfg      *config.Config
	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "diagcap",
		Short: "Inspect diagnostic capture files",
		Long: `diagcap decodes diagnostic capture files (a metadata document followed by
compressed chunks of periodic metric samples) and prints their metrics.

Settings are read from diagcap.toml and DIAGCAP_* environment variables;
flags override both.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.dumpMetrics(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: ./diagcap.toml or $HOME/.diagcap/diagcap.toml)")
	flags.BoolVar(&a.lazy, "lazy", false, "decode metric columns on first access")
	flags.IntVarP(&a.workers, "workers", "w", 0, "decode workers (0 uses all CPUs)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error or off")
	flags.BoolVar(&a.showMetrics, "show-metrics", false, "print ingestion metrics to stderr when done")

	root.AddCommand(
		newMetricsCmd(a),
		newQueryCmd(a),
		newFilesCmd(a),
		newVersionCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("lazy") {
		cfg.Decode.Lazy = a.lazy
	}
	if flags.Changed("workers") {
		cfg.Decode.Workers = a.workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("show-metrics") {
		cfg.Metrics.Enabled = a.showMetrics
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

	a.cfg = cfg
	a.registry = prometheus.NewRegistry()

	return nil
}

// load ingests paths into a new dataset using the configured decoder.
func (a *app) load(ctx context.Context, paths []string, metadataOnly bool) (*dataset.Dataset, error) {
	collector, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}

	dec, err := chunk.NewDecoder(a.cfg.Decode.DecoderOptions()...)
	if err != nil {
		return nil, err
	}

	ds, err := dataset.New(
		dataset.WithLogger(logger.Get("dataset")),
		dataset.WithMetrics(collector),
	)
	if err != nil {
		return nil, err
	}

	opts := append(a.cfg.Decode.ReaderOptions(),
		ingest.WithDecoder(dec),
		ingest.WithMetadataOnly(metadataOnly),
		ingest.WithMetrics(collector),
	)
	r, err := ingest.NewReader(ds, opts...)
	if err != nil {
		return nil, err
	}

	if err := r.ReadFiles(ctx, paths); err != nil {
		return nil, err
	}

	return ds, nil
}

func (a *app) dumpMetrics(w io.Writer) error {
	if a.cfg == nil || !a.cfg.Metrics.Enabled {
		return nil
	}

	families, err := a.registry.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("diagcap version %s\n", version)
		},
	}
}

func requireFiles(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: at least one capture file is required", cmd.Name())
	}

	return nil
}
