// Package report runs the daily build statistics report: it fetches the
// builds of the previous day, aggregates them, appends one row to each
// report table and posts a summary.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/lock"
	"github.com/ethpandaops/buildstatsoor/pkg/notify"
	"github.com/ethpandaops/buildstatsoor/pkg/provider"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
	"github.com/ethpandaops/buildstatsoor/pkg/stats"
	"github.com/ethpandaops/buildstatsoor/pkg/telemetry"
	"github.com/ethpandaops/buildstatsoor/pkg/upload"
	"github.com/ethpandaops/buildstatsoor/pkg/window"
)

const (
	// objectDayLayout names the report day in upload keys.
	objectDayLayout = "2006-01-02"

	pushTimeout = 10 * time.Second
)

// Options tunes a run. Location defaults to time.Local and LabelLocation
// to Location. A nil MorningHour means config.DefaultMorningHour. Empty
// DateLayout, MetricsJob and table names take their config defaults, and
// Concurrency below 1 runs one fetch at a time. NotifyPrefix and
// PushgatewayURL stay empty when unset.
type Options struct {
	Location       *time.Location
	LabelLocation  *time.Location
	DateLayout     string
	MorningHour    *int
	Concurrency    int
	Tables         config.TablesConfig
	NotifyPrefix   string
	PushgatewayURL string
	MetricsJob     string
}

// Dependencies are the collaborators of a run. Provider and Store are
// required; the rest are optional and skipped when nil. Store must already
// be started.
type Dependencies struct {
	Log      logrus.FieldLogger
	Provider provider.Client
	Store    sheet.Store
	Notifier notify.Notifier
	Locker   lock.Locker
	Uploader upload.Uploader
	Metrics  *telemetry.Metrics
	Now      func() time.Time
	Options  Options
}

// TableWrite records the row appended to one table.
type TableWrite struct {
	Name    string   `json:"name"`
	Row     int      `json:"row"`
	Columns int      `json:"columns"`
	Added   []string `json:"added,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID        string                `json:"run_id"`
	Window       window.Window         `json:"window"`
	Label        string                `json:"label"`
	Apps         []stats.AppStatistic  `json:"apps"`
	Types        []stats.TypeStatistic `json:"types"`
	Tables       []TableWrite          `json:"tables"`
	Notification string                `json:"notification,omitempty"`
	Notified     bool                  `json:"notified"`
	Uploaded     []string              `json:"uploaded,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

// Run executes one report pass. Any fetch or write error aborts the run;
// tables already written keep their new row.
func Run(ctx context.Context, deps Dependencies) (*Result, error) {
	if deps.Provider == nil {
		return nil, errors.New("report: provider is required")
	}

	if deps.Store == nil {
		return nil, errors.New("report: table store is required")
	}

	deps.applyDefaults()

	runID := uuid.NewString()
	log := deps.Log.WithFields(logrus.Fields{
		"component": "report",
		"run_id":    runID,
	})

	started := time.Now()

	result, err := runLocked(ctx, log, &deps, runID)

	took := time.Since(started)

	if deps.Metrics != nil {
		status := telemetry.StatusSuccess

		switch {
		case errors.Is(err, lock.ErrLocked):
			status = telemetry.StatusLocked
		case err != nil:
			status = telemetry.StatusFailure
		}

		deps.Metrics.ObserveRun(status, took, deps.Now())
		pushMetrics(ctx, log, &deps)
	}

	if err != nil {
		log.WithError(err).WithField("took", units.HumanDuration(took)).Error("Report run failed")

		return nil, err
	}

	log.WithFields(logrus.Fields{
		"took":   units.HumanDuration(took),
		"apps":   len(result.Apps),
		"builds": stats.TotalBuilds(result.Apps),
	}).Info("Report run completed")

	return result, nil
}

func (d *Dependencies) applyDefaults() {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}

	if d.Now == nil {
		d.Now = time.Now
	}

	o := &d.Options

	if o.Location == nil {
		o.Location = time.Local
	}

	if o.LabelLocation == nil {
		o.LabelLocation = o.Location
	}

	if o.DateLayout == "" {
		o.DateLayout = config.DefaultDateLayout
	}

	if o.MorningHour == nil {
		morning := config.DefaultMorningHour
		o.MorningHour = &morning
	}

	if o.Concurrency < 1 {
		o.Concurrency = 1
	}

	if o.Tables.BuildAvgTime == "" {
		o.Tables.BuildAvgTime = config.DefaultBuildAvgTimeTable
	}

	if o.Tables.BuildCount == "" {
		o.Tables.BuildCount = config.DefaultBuildCountTable
	}

	if o.Tables.HoldAvgTime == "" {
		o.Tables.HoldAvgTime = config.DefaultHoldAvgTimeTable
	}

	if o.MetricsJob == "" {
		o.MetricsJob = config.DefaultMetricsJob
	}
}

func runLocked(
	ctx context.Context, log logrus.FieldLogger, deps *Dependencies, runID string,
) (*Result, error) {
	if deps.Locker == nil {
		return run(ctx, log, deps, runID)
	}

	if err := deps.Locker.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}

	defer func() {
		if err := deps.Locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	return run(ctx, log, deps, runID)
}

func run(
	ctx context.Context, log logrus.FieldLogger, deps *Dependencies, runID string,
) (*Result, error) {
	opts := deps.Options
	now := deps.Now()
	w := window.New(now, opts.Location, *opts.MorningHour)
	day := window.ReportDay(now)

	result := &Result{
		RunID:     runID,
		Window:    w,
		Label:     window.FormatDateLabel(day, opts.LabelLocation, opts.DateLayout),
		StartedAt: now,
	}

	log.WithFields(logrus.Fields{
		"window": w.String(),
		"label":  result.Label,
	}).Info("Starting report run")

	apps, err := deps.Provider.ListApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching apps: %w", err)
	}

	enabled := provider.EnabledApps(apps)

	log.WithFields(logrus.Fields{
		"apps":     len(apps),
		"enabled":  len(enabled),
		"disabled": len(apps) - len(enabled),
	}).Info("Fetched apps")

	statistics, err := collect(ctx, log, deps.Provider, enabled, w, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	result.Apps = statistics
	result.Types = stats.AggregateByType(statistics)

	if deps.Metrics != nil {
		deps.Metrics.SetApps(len(enabled))
		deps.Metrics.AddBuilds(stats.TotalBuilds(statistics))
	}

	syncer := sheet.NewSynchronizer(log, deps.Store)

	for _, t := range tablePlan(opts.Tables, result) {
		res, err := syncer.Sync(ctx, t.name, result.Label, t.entries)
		if err != nil {
			return nil, fmt.Errorf("writing table %q: %w", t.name, err)
		}

		result.Tables = append(result.Tables, TableWrite{
			Name:    res.Table,
			Row:     res.Row,
			Columns: res.Columns,
			Added:   res.Added,
		})

		if deps.Metrics != nil {
			deps.Metrics.RowAppended(res.Table, res.Columns)
		}
	}

	if err := notifySummary(ctx, log, deps, result); err != nil {
		return nil, err
	}

	if deps.Uploader != nil {
		objectDay := day.In(opts.LabelLocation).Format(objectDayLayout)

		for _, tw := range result.Tables {
			key, err := uploadTable(ctx, deps, objectDay, tw.Name)
			if err != nil {
				return nil, err
			}

			result.Uploaded = append(result.Uploaded, key)
		}
	}

	result.FinishedAt = deps.Now()

	return result, nil
}

// collect fetches the builds of every app and aggregates them. Results keep
// the order of apps.
func collect(
	ctx context.Context,
	log logrus.FieldLogger,
	client provider.Client,
	apps []provider.App,
	w window.Window,
	concurrency int,
) ([]stats.AppStatistic, error) {
	statistics := make([]stats.AppStatistic, len(apps))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, app := range apps {
		g.Go(func() error {
			builds, err := client.ListBuilds(gCtx, app.Slug, w.AfterUnix(), w.BeforeUnix())
			if err != nil {
				return fmt.Errorf("fetching builds of %s (%s): %w", app.Title, app.Slug, err)
			}

			statistics[i] = stats.AggregateApp(app, builds)

			log.WithFields(logrus.Fields{
				"app":    app.Title,
				"type":   app.ProjectType,
				"builds": len(builds),
			}).Debug("Aggregated app builds")

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return statistics, nil
}

type tableEntries struct {
	name    string
	entries []sheet.Entry
}

// tablePlan lists the rows written by a run, in write order.
func tablePlan(tables config.TablesConfig, result *Result) []tableEntries {
	avgBuild := make([]sheet.Entry, 0, len(result.Apps))
	count := make([]sheet.Entry, 0, len(result.Apps))

	for _, s := range result.Apps {
		avgBuild = append(avgBuild, sheet.Entry{Key: s.Name, Value: sheet.Number(s.AvgBuildTime)})
		count = append(count, sheet.Entry{Key: s.Name, Value: sheet.Int(s.Count)})
	}

	holdAvg := make([]sheet.Entry, 0, len(result.Types))

	for _, t := range result.Types {
		holdAvg = append(holdAvg, sheet.Entry{Key: t.Type, Value: sheet.Number(t.AvgHoldTime)})
	}

	return []tableEntries{
		{name: tables.BuildAvgTime, entries: avgBuild},
		{name: tables.BuildCount, entries: count},
		{name: tables.HoldAvgTime, entries: holdAvg},
	}
}

func notifySummary(
	ctx context.Context, log logrus.FieldLogger, deps *Dependencies, result *Result,
) error {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		log.Debug("No notifier configured, skipping summary")

		return nil
	}

	result.Notification = notify.FormatHoldSummary(deps.Options.NotifyPrefix, result.Types)

	if err := deps.Notifier.Notify(ctx, result.Notification); err != nil {
		return fmt.Errorf("sending summary: %w", err)
	}

	result.Notified = true

	return nil
}

func uploadTable(ctx context.Context, deps *Dependencies, day, name string) (string, error) {
	table, err := deps.Store.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("opening table %q for upload: %w", name, err)
	}

	snap, err := sheet.TakeSnapshot(ctx, table)
	if err != nil {
		return "", err
	}

	key, err := deps.Uploader.Upload(ctx, day, snap)
	if err != nil {
		return "", err
	}

	return key, nil
}

func pushMetrics(ctx context.Context, log logrus.FieldLogger, deps *Dependencies) {
	url := deps.Options.PushgatewayURL
	if url == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := deps.Metrics.Push(pushCtx, url, deps.Options.MetricsJob); err != nil {
		log.WithError(err).Warn("Failed to push run metrics")

		return
	}

	log.WithField("gateway", url).Debug("Pushed run metrics")
}
