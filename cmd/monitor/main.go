package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	httpadapter "github.com/vicwatch/vicemergency-monitor/internal/adapter/http"
	kafkaadapter "github.com/vicwatch/vicemergency-monitor/internal/adapter/kafka"
	"github.com/vicwatch/vicemergency-monitor/internal/adapter/nominatim"
	"github.com/vicwatch/vicemergency-monitor/internal/adapter/vicemergency"
	"github.com/vicwatch/vicemergency-monitor/internal/config"
	"github.com/vicwatch/vicemergency-monitor/internal/domain"
	"github.com/vicwatch/vicemergency-monitor/internal/history"
	"github.com/vicwatch/vicemergency-monitor/internal/observability"
	"github.com/vicwatch/vicemergency-monitor/internal/pipeline"
	"github.com/vicwatch/vicemergency-monitor/internal/postcode"
	"github.com/vicwatch/vicemergency-monitor/internal/state"
)

type options struct {
	schedule    bool
	interval    time.Duration
	format      string
	changesOnly bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Polls VIC emergency feeds and reports status changes by postcode",
		Long: `monitor fetches Victorian emergency incident data, resolves free-text
locations to postcodes, and classifies status changes against the
previously observed state. By default it runs a single check and prints
the result; with --schedule it polls continuously and serves health and
metrics endpoints.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.schedule, "schedule", false, "poll continuously instead of a single check")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "poll interval in schedule mode (default from POLL_INTERVAL)")
	cmd.Flags().StringVar(&opts.format, "format", "table", "output format: table, csv, or json")
	cmd.Flags().BoolVar(&opts.changesOnly, "changes", false, "only print records with a status change")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.interval <= 0 {
		opts.interval = cfg.PollInterval
	}
	if opts.format != "table" && opts.format != "csv" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	index := postcode.LoadIndex(cfg.PostcodeCSVPath, logger)

	var geocoder domain.ReverseGeocoder
	if cfg.GeocodeEnabled {
		geocoder = nominatim.NewClient(cfg.GeocodeUserAgent, cfg.GeocodeTimeout, logger)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("reverse geocoding enabled", "timeout", cfg.GeocodeTimeout)
	} else {
		logger.Info("reverse geocoding disabled")
	}

	resolver := postcode.NewResolver(index, geocoder, logger, metrics)
	feed := vicemergency.NewClient(cfg.FeedURL, cfg.TextOnlyURL, cfg.FetchTimeout, clock, logger)

	var warnings pipeline.WarningFetcher
	if cfg.WarningsEnabled {
		warnings = feed
	}

	var publisher pipeline.ChangePublisher
	var kafkaPub *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kafkaPub = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kafkaPub
		logger.Info("kafka change feed enabled", "topic", cfg.KafkaTopic)
	}

	store := state.NewStore(cfg.StateFile, clock, logger)
	tracker := history.NewTracker(cfg.HistoryFile, clock, logger)

	monitor := pipeline.NewMonitor(feed, warnings, resolver, store, tracker, publisher,
		clock, logger, metrics)

	defer func() {
		if kafkaPub != nil {
			if err := kafkaPub.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}
	}()

	if !opts.schedule {
		statuses, err := monitor.RunCycle(ctx)
		if err != nil {
			return err
		}
		return render(opts, statuses)
	}

	return runScheduled(ctx, cfg, opts, monitor, logger)
}

func runScheduled(ctx context.Context, cfg *config.Config, opts options, monitor *pipeline.Monitor, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := httpadapter.NewServer(cfg.HTTPAddr, monitor, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	onResult := func(statuses []domain.EmergencyStatus) {
		if err := render(opts, statuses); err != nil {
			logger.Error("render error", "error", err)
		}
	}

	if err := monitor.Run(ctx, opts.interval, onResult); err != nil {
		logger.Error("monitor error", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func render(opts options, statuses []domain.EmergencyStatus) error {
	if opts.changesOnly {
		statuses = pipeline.ChangesOnly(statuses)
	}
	switch opts.format {
	case "csv":
		return pipeline.RenderCSV(os.Stdout, statuses)
	case "json":
		return pipeline.RenderJSON(os.Stdout, statuses)
	default:
		return pipeline.RenderTable(os.Stdout, statuses)
	}
}
