package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/gpxstrava/pkg/auth"
)

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize gpxstrava with Strava or Google",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "strava",
		Short: "Obtain a Strava refresh token through the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Strava
			if sc.ClientID == "" || sc.ClientSecret == "" {
				return errors.New("missing Strava credentials, set STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET")
			}
			store, err := auth.NewTokenStore(auth.StravaTokenFile)
			if err != nil {
				return err
			}
			tok, err := auth.AuthorizeStrava(cmd.Context(), auth.StravaConfig(sc.ClientID, sc.ClientSecret), store, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Strava authorized, token expires %s\n", tok.Expiry.Format("2006-01-02 15:04"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "google",
		Short: "Authorize access to Google Calendar for the upload journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := auth.AuthorizeGoogle(cmd.Context(), auth.CalendarScopes, cmd.OutOrStdout(), a.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Google Calendar authorized")
			return nil
		},
	})
	return cmd
}
