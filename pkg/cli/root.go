// Package cli wires configuration, logging and the pipeline packages into
// the gpxstrava command tree.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/harrisonrobin/gpxstrava/pkg/auth"
	"github.com/harrisonrobin/gpxstrava/pkg/config"
	"github.com/harrisonrobin/gpxstrava/pkg/journal"
	"github.com/harrisonrobin/gpxstrava/pkg/logging"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/report"
	"github.com/harrisonrobin/gpxstrava/pkg/strava"
	"github.com/harrisonrobin/gpxstrava/pkg/upload"
)

// remote is everything the pipeline needs from Strava.
type remote interface {
	reconcile.RemoteActivitySource
	upload.Sink
}

// app carries state shared by all commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	output     string

	cfg    *config.Config
	logger zerolog.Logger
	runID  string

	newRemote  func(ctx context.Context) (remote, error)
	newJournal func(ctx context.Context) (upload.Journal, error)
}

func newApp() *app {
	a := &app{v: config.New(), logger: zerolog.Nop()}
	a.newRemote = a.stravaClient
	a.newJournal = a.calendarJournal
	return a
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand(newApp())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gpxstrava",
		Short: "Upload GPX tracks to Strava without creating duplicates",
		Long: `gpxstrava compares a directory of GPX tracks against the activities
already on your Strava account and uploads only the new ones.

A track counts as already uploaded when a Strava activity starts within two
minutes of it, lasts within three minutes as long, and starts at the same
coordinates (rounded to four decimals).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is $HOME/.config/gpxstrava/config.yaml)")
	flags.StringVarP(&a.output, "output", "o", "table", "output format: table, json or yaml")
	flags.String("dir", "", "directory of GPX files (default ./gpx_files)")
	flags.Int("workers", 0, "files to parse in parallel")
	flags.String("ledger", "", "upload ledger file")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error or disabled")
	flags.String("log-format", "", "log format: json, console or auto")
	flags.String("log-output", "", "log output: stderr, stdout, discard or a file path")
	bindFlags(a.v, flags, map[string]string{
		"gpx_dir":      "dir",
		"workers":      "workers",
		"ledger_path":  "ledger",
		"metrics_file": "metrics-file",
		"log.level":    "log-level",
		"log.format":   "log-format",
		"log.output":   "log-output",
	})

	root.AddCommand(
		newSyncCommand(a),
		newPlanCommand(a),
		newInspectCommand(a),
		newAuthCommand(a),
		newConfigCommand(a),
	)
	return root
}

// setup loads configuration and builds the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	config.LoadEnvFiles()

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.runID = uuid.NewString()
	a.logger = logger.With().Str("run_id", a.runID).Logger()
	a.logger.Debug().Str("command", cmd.CommandPath()).Msg("starting")
	return nil
}

func (a *app) format() (report.Format, error) {
	return report.ParseFormat(a.output)
}

func (a *app) stravaClient(ctx context.Context) (remote, error) {
	sc := a.cfg.Strava
	if sc.ClientID == "" || sc.ClientSecret == "" {
		return nil, errors.New("missing Strava credentials, set STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET")
	}

	store, err := auth.NewTokenStore(auth.StravaTokenFile)
	if err != nil {
		return nil, err
	}
	httpClient, err := auth.StravaClient(ctx, auth.StravaConfig(sc.ClientID, sc.ClientSecret), sc.RefreshToken, store, a.logger)
	if err != nil {
		return nil, err
	}
	return strava.NewClient(httpClient, a.logger, strava.WithBaseURL(sc.BaseURL)), nil
}

func (a *app) calendarJournal(ctx context.Context) (upload.Journal, error) {
	httpClient, err := auth.GoogleClient(ctx, auth.CalendarScopes, a.logger)
	if err != nil {
		return nil, err
	}
	srv, err := journal.NewService(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	return journal.Open(ctx, srv, a.cfg.Calendar, a.logger)
}

// bindFlags maps config keys to flags. BindPFlag only fails for a nil flag.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}
