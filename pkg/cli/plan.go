package cli

import (
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/report"
)

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show which tracks would be uploaded and which are duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			dir, err := gpx.OpenDir(a.cfg.GPXDir)
			if err != nil {
				return err
			}
			client, err := a.newRemote(cmd.Context())
			if err != nil {
				return err
			}

			res, err := reconcile.NewEngine(client, a.logger, reconcile.WithWorkers(a.cfg.Workers)).Run(cmd.Context(), dir)
			if err != nil {
				return err
			}
			return report.Plan(cmd.OutOrStdout(), format, res)
		},
	}
}
