package cli

import (
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/report"
)

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [dir]",
		Short: "Summarise every GPX file without contacting Strava",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			path := a.cfg.GPXDir
			if len(args) == 1 {
				path = args[0]
			}
			dir, err := gpx.OpenDir(path)
			if err != nil {
				return err
			}

			items := make([]report.Inspection, 0, dir.Len())
			for _, file := range dir.Files() {
				items = append(items, inspectFile(a, file))
			}
			return report.Inspect(cmd.OutOrStdout(), format, items)
		},
	}
}

func inspectFile(a *app, path string) report.Inspection {
	it := report.Inspection{Path: path}

	summary, counts, err := gpx.ExtractWithExtensions(path)
	if err != nil {
		a.logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable track")
		it.Error = err.Error()
		return it
	}
	it.Summary = summary
	it.Extensions = counts
	return it
}
