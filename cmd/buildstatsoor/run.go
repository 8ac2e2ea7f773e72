package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/lock"
	"github.com/ethpandaops/buildstatsoor/pkg/notify"
	"github.com/ethpandaops/buildstatsoor/pkg/provider"
	"github.com/ethpandaops/buildstatsoor/pkg/report"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
	"github.com/ethpandaops/buildstatsoor/pkg/telemetry"
	"github.com/ethpandaops/buildstatsoor/pkg/upload"
)

var (
	dryRun    bool
	nowFlag   string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily report",
	Long: `Fetch yesterday's builds, append one row to each report table and post
the hold time summary. Scheduling is left to cron or a similar trigger.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Write into an in-memory store and skip the notifier, lock, uploads and metrics push")
	runCmd.Flags().StringVar(&nowFlag, "now", "",
		"Pretend the run happens at this RFC3339 time (backfills a past day)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "table",
		"Result output format (table, json)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if dryRun {
		cfg.Store.Driver = "memory"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if runOutput != "table" && runOutput != "json" {
		return fmt.Errorf("unsupported output format %q", runOutput)
	}

	now := time.Now
	if nowFlag != "" {
		fixed, err := time.Parse(time.RFC3339, nowFlag)
		if err != nil {
			return fmt.Errorf("parsing --now: %w", err)
		}

		now = func() time.Time { return fixed }
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	labelLoc, err := cfg.LabelLocation()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := provider.NewClient(log, provider.Options{
		BaseURL:           cfg.Provider.BaseURL,
		Token:             cfg.Provider.Token,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	store, err := sheet.NewStore(log, &cfg.Store)
	if err != nil {
		return fmt.Errorf("creating table store: %w", err)
	}

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting table store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop table store")
		}
	}()

	deps := report.Dependencies{
		Log:      log,
		Provider: client,
		Store:    store,
		Now:      now,
		Options:  reportOptions(cfg, loc, labelLoc),
	}

	if !dryRun {
		if err := wireSinks(ctx, cfg, &deps); err != nil {
			return err
		}

		if deps.Locker != nil {
			defer func() { _ = deps.Locker.Close() }()
		}
	}

	result, err := report.Run(ctx, deps)
	if err != nil {
		return err
	}

	if runOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(result)
	}

	return result.Render(os.Stdout)
}

func reportOptions(cfg *config.Config, loc, labelLoc *time.Location) report.Options {
	return report.Options{
		Location:       loc,
		LabelLocation:  labelLoc,
		DateLayout:     cfg.Report.DateLayout,
		MorningHour:    &cfg.Report.MorningHour,
		Concurrency:    cfg.Provider.Concurrency,
		Tables:         cfg.Report.Tables,
		NotifyPrefix:   cfg.Notifier.Prefix,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJob:     cfg.Metrics.Job,
	}
}

// wireSinks attaches the notifier, run lock, uploader and metrics.
func wireSinks(ctx context.Context, cfg *config.Config, deps *report.Dependencies) error {
	deps.Notifier = notify.New(log, notify.Options{
		WebhookURL: cfg.Notifier.WebhookURL,
		Timeout:    cfg.Notifier.Timeout,
	})

	locker, err := lock.New(ctx, log, &cfg.Lock.Redis)
	if err != nil {
		return fmt.Errorf("creating run lock: %w", err)
	}

	deps.Locker = locker

	if cfg.Upload.S3.Enabled {
		uploader := upload.NewS3Uploader(log, &cfg.Upload.S3)

		if err := uploader.Preflight(ctx); err != nil {
			_ = locker.Close()

			return fmt.Errorf("s3 preflight check: %w", err)
		}

		deps.Uploader = uploader
	}

	if cfg.Metrics.PushgatewayURL != "" {
		deps.Metrics = telemetry.New()
	}

	return nil
}
