package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	// ClientSecretsFile is the downloaded Google API credentials.json, read
	// from the config directory.
	ClientSecretsFile = "credentials.json"

	GoogleTokenFile = "google_token.json"
)

// CalendarScopes are needed to find the journal calendar and write events.
var CalendarScopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// GoogleConfig creates an oauth2.Config from the client secrets file.
func GoogleConfig(scopes []string, logger zerolog.Logger) (*oauth2.Config, error) {
	dir, err := XdgHome()
	if err != nil {
		return nil, err
	}

	clientSecretsFile := filepath.Join(dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}
	return googleConfigFromJSON(b, scopes, logger)
}

func googleConfigFromJSON(b []byte, scopes []string, logger zerolog.Logger) (*oauth2.Config, error) {
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = normalizeRedirect(config.RedirectURL, logger)
	return config, nil
}

// normalizeRedirect points localhost and out-of-band redirect URIs at the
// local callback server.
func normalizeRedirect(redirect string, logger zerolog.Logger) string {
	if redirect == "" || redirect == "urn:ietf:wg:oauth:2.0:oob" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
	}

	u, err := url.Parse(redirect)
	if err != nil {
		logger.Warn().Err(err).Str("redirect_url", redirect).Msg("could not parse redirect URL, using it as is")
		return redirect
	}
	if u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		logger.Warn().Str("redirect_url", redirect).Msg("redirect URL is not a localhost callback")
		return redirect
	}
	if u.Port() != LocalhostAuthPort {
		if u.Port() != "" {
			logger.Warn().Str("port", u.Port()).Str("expected", LocalhostAuthPort).Msg("forcing localhost redirect port")
		}
		u.Host = u.Hostname() + ":" + LocalhostAuthPort
	}
	return u.String()
}

// GoogleClient returns an HTTP client authorized with the stored Google
// token. It never starts an interactive flow; run `gpxstrava auth google`
// first.
func GoogleClient(ctx context.Context, scopes []string, logger zerolog.Logger) (*http.Client, error) {
	config, err := GoogleConfig(scopes, logger)
	if err != nil {
		return nil, err
	}

	store, err := NewTokenStore(GoogleTokenFile)
	if err != nil {
		return nil, err
	}
	tok, err := store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no google token at %s, run `gpxstrava auth google`", store.Path)
		}
		return nil, err
	}

	return oauth2.NewClient(ctx, tokenSource(ctx, config, tok, store, 0, logger)), nil
}

// AuthorizeGoogle runs the browser consent flow for the calendar journal.
func AuthorizeGoogle(ctx context.Context, scopes []string, w io.Writer, logger zerolog.Logger) (*oauth2.Token, error) {
	config, err := GoogleConfig(scopes, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewTokenStore(GoogleTokenFile)
	if err != nil {
		return nil, err
	}
	// AccessTypeOffline is needed for a refresh token.
	return Authorize(ctx, config, store, w, logger,
		oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}
