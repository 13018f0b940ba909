package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	datadog "github.com/juvenn/datadog-reporter"
	"github.com/juvenn/datadog-reporter/internal/config"
	"github.com/juvenn/datadog-reporter/internal/health"
	"github.com/juvenn/datadog-reporter/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddreporter",
		Short: "Report go-metrics to Datadog",
		Long: `ddreporter periodically drains a go-metrics registry, expands
meters, histograms and timers into Datadog series, and sends them
over HTTP, to a file, to stdout or to InfluxDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(runCmd(), flushCmd(), versionCmd())

	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Report every interval until interrupted",
		RunE:  run,
	}
	markConfigRequired(cmd)

	return cmd
}

func flushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Report once and exit",
		RunE:  flush,
	}
	markConfigRequired(cmd)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func markConfigRequired(cmd *cobra.Command) {
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if cfgFile == "" {
			return fmt.Errorf(`required flag "config" not set`)
		}
		return nil
	}
}

// setup loads the config and the logger shared by run and flush.
func setup() (*config.Config, *logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return cfg, log, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	// The daemon reports its own runtime through the default registry.
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
	go metrics.CaptureRuntimeMemStats(metrics.DefaultRegistry, cfg.Interval)

	srv := health.NewServer(log, cfg.Health)

	opts, err := cfg.ReporterOptions(ctx, log, srv.Registry())
	if err != nil {
		return fmt.Errorf("configuring reporter: %w", err)
	}

	rep, err := datadog.NewReporter(metrics.DefaultRegistry, cfg.Interval, opts...)
	if err != nil {
		return fmt.Errorf("creating reporter: %w", err)
	}

	if cfg.Health.Addr != "" {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting health server: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"host":     rep.Host(),
		"interval": cfg.Interval,
	}).Info("Starting ddreporter")

	rep.Start(ctx)

	<-ctx.Done()

	log.Info("Shutting down ddreporter")

	if err := rep.Close(); err != nil {
		log.WithError(err).Error("Error closing reporter")
	}

	if err := srv.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping health server: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

func flush(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
	defer cancel()

	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
	metrics.CaptureRuntimeMemStatsOnce(metrics.DefaultRegistry)

	opts, err := cfg.ReporterOptions(ctx, log, nil)
	if err != nil {
		return fmt.Errorf("configuring reporter: %w", err)
	}

	// Flushing on close would send a second batch.
	opts = append(opts, datadog.WithFlushOnClose(false))

	rep, err := datadog.NewReporter(metrics.DefaultRegistry, cfg.Interval, opts...)
	if err != nil {
		return fmt.Errorf("creating reporter: %w", err)
	}

	start := time.Now()
	rep.Run(ctx)

	log.WithField("took", time.Since(start)).Info("Flushed")

	return rep.Close()
}
