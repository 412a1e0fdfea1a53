package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/ledger"
	"github.com/harrisonrobin/gpxstrava/pkg/metrics"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/report"
	"github.com/harrisonrobin/gpxstrava/pkg/upload"
)

func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload every track that is not on Strava yet",
		Long: `Fetches all Strava activities, skips local tracks that match one of them
and uploads the rest. Uploads queued by an earlier --no-poll run are resolved
first.`,
		Args: cobra.NoArgs,
		RunE: a.runSync,
	}

	flags := cmd.Flags()
	flags.Bool("dry-run", false, "log the upload payloads but do not call the upload API")
	flags.Bool("no-poll", false, "do not wait for Strava to finish processing uploads")
	flags.Duration("poll-interval", 0, "time between upload status checks (default 5s)")
	flags.Duration("poll-timeout", 0, "give up waiting for an upload after this long (default 3m)")
	flags.String("calendar", "", "record uploads in this Google calendar")
	bindFlags(a.v, flags, map[string]string{
		"dry_run":       "dry-run",
		"no_poll":       "no-poll",
		"poll_interval": "poll-interval",
		"poll_timeout":  "poll-timeout",
		"calendar":      "calendar",
	})
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	started := time.Now()
	cfg := a.cfg

	format, err := a.format()
	if err != nil {
		return err
	}
	m, err := metrics.NewRecorder()
	if err != nil {
		return err
	}
	dir, err := gpx.OpenDir(cfg.GPXDir)
	if err != nil {
		return err
	}

	a.logger.Info().Bool("dry_run", cfg.DryRun).Str("dir", cfg.GPXDir).Int("files", dir.Len()).Msg("starting Strava GPX uploader")

	client, err := a.newRemote(ctx)
	if err != nil {
		return err
	}

	engine := reconcile.NewEngine(client, a.logger, reconcile.WithMetrics(m), reconcile.WithWorkers(cfg.Workers))
	res, err := engine.Run(ctx, dir)
	if err != nil {
		return err
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	options := []upload.Option{upload.WithLedger(l), upload.WithMetrics(m)}
	if cfg.Calendar != "" && !cfg.DryRun {
		j, err := a.newJournal(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Str("calendar", cfg.Calendar).Msg("journal disabled")
		} else {
			options = append(options, upload.WithJournal(j))
		}
	}

	uploader := upload.New(client, a.logger, upload.Options{
		DryRun:       cfg.DryRun,
		NoPoll:       cfg.NoPoll,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}, options...)

	summary, err := uploader.ResolvePending(ctx)
	if err != nil {
		return err
	}
	uploaded, err := uploader.Run(ctx, res.Jobs)
	summary.Merge(uploaded)
	if err != nil {
		return err
	}

	if err := report.Uploads(cmd.OutOrStdout(), format, summary); err != nil {
		return err
	}

	m.ObserveRun(time.Since(started))
	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			a.logger.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("could not write metrics")
		}
	}
	return nil
}
