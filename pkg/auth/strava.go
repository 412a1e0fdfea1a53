package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	StravaTokenFile = "strava_token.json"

	// Strava takes a comma separated scope list in a single parameter.
	stravaScope = "read,activity:read_all,activity:write"

	// Strava access tokens are renewed this long before they expire.
	stravaEarlyExpiry = 30 * time.Second
)

var StravaEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.strava.com/oauth/authorize",
	TokenURL:  "https://www.strava.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ErrNoStravaToken means neither a stored token nor a configured refresh
// token is available.
var ErrNoStravaToken = errors.New("no strava refresh token configured, set STRAVA_REFRESH_TOKEN or run `gpxstrava auth strava`")

// StravaConfig returns the OAuth2 configuration for the Strava API.
func StravaConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     StravaEndpoint,
		RedirectURL:  fmt.Sprintf("http://localhost:%s/callback", LocalhostAuthPort),
		Scopes:       []string{stravaScope},
	}
}

// StravaTokenSource seeds a refreshing token source from the stored token,
// or from refreshToken when nothing has been stored yet. A stored token wins
// because Strava may have rotated the configured refresh token.
func StravaTokenSource(ctx context.Context, cfg *oauth2.Config, refreshToken string, store *TokenStore, logger zerolog.Logger) (oauth2.TokenSource, error) {
	var seed *oauth2.Token
	if store != nil {
		tok, err := store.Load()
		switch {
		case err == nil:
			seed = tok
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn().Err(err).Str("path", store.Path).Msg("ignoring unreadable stored token")
		}
	}
	if seed == nil || seed.RefreshToken == "" {
		if refreshToken == "" {
			return nil, ErrNoStravaToken
		}
		seed = &oauth2.Token{RefreshToken: refreshToken}
	}
	return tokenSource(ctx, cfg, seed, store, stravaEarlyExpiry, logger), nil
}

// StravaClient returns an HTTP client that authenticates Strava API requests.
func StravaClient(ctx context.Context, cfg *oauth2.Config, refreshToken string, store *TokenStore, logger zerolog.Logger) (*http.Client, error) {
	ts, err := StravaTokenSource(ctx, cfg, refreshToken, store, logger)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

// AuthorizeStrava runs the browser consent flow for Strava.
func AuthorizeStrava(ctx context.Context, cfg *oauth2.Config, store *TokenStore, w io.Writer, logger zerolog.Logger) (*oauth2.Token, error) {
	return Authorize(ctx, cfg, store, w, logger,
		oauth2.SetAuthURLParam("approval_prompt", "force"))
}
