package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// LocalhostAuthPort is where the local callback server listens during an
	// authorization flow. The redirect URI registered with the provider must
	// use the same port.
	LocalhostAuthPort = "6789"

	xdgAppName = "gpxstrava"

	authTimeout = 5 * time.Minute
)

// XdgHome is ~/.config/gpxstrava.
func XdgHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// TokenStore persists an oauth2.Token as JSON.
type TokenStore struct {
	Path string
}

// NewTokenStore returns a store for name inside the config directory.
func NewTokenStore(name string) (*TokenStore, error) {
	dir, err := XdgHome()
	if err != nil {
		return nil, err
	}
	return &TokenStore{Path: filepath.Join(dir, name)}, nil
}

func (s *TokenStore) Load() (*oauth2.Token, error) {
	return tokenFromFile(s.Path)
}

func (s *TokenStore) Save(tok *oauth2.Token) error {
	return saveToken(s.Path, tok)
}

// persistingSource writes every token whose refresh token differs from the
// last one seen. Providers that rotate refresh tokens invalidate the old one.
type persistingSource struct {
	src    oauth2.TokenSource
	store  *TokenStore
	last   string
	logger zerolog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.store != nil && tok.RefreshToken != "" && tok.RefreshToken != p.last {
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn().Err(err).Str("path", p.store.Path).Msg("could not persist refreshed token")
		} else {
			p.logger.Debug().Str("path", p.store.Path).Msg("saved refreshed token")
			p.last = tok.RefreshToken
		}
	}
	return tok, nil
}

// tokenSource refreshes seed through cfg, renewing earlyExpiry before the
// access token runs out and persisting rotated tokens to store.
func tokenSource(ctx context.Context, cfg *oauth2.Config, seed *oauth2.Token, store *TokenStore, earlyExpiry time.Duration, logger zerolog.Logger) oauth2.TokenSource {
	p := &persistingSource{
		src:    cfg.TokenSource(ctx, seed),
		store:  store,
		last:   seed.RefreshToken,
		logger: logger,
	}
	return oauth2.ReuseTokenSourceWithExpiry(seed, p, earlyExpiry)
}

// Authorize runs the authorization code flow against a local callback
// server and stores the resulting token.
func Authorize(ctx context.Context, cfg *oauth2.Config, store *TokenStore, w io.Writer, logger zerolog.Logger, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	u, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL %q: %w", cfg.RedirectURL, err)
	}

	listener, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on %s: %w", u.Host, err)
	}

	tok, err := getTokenFromWeb(ctx, cfg, listener, uuid.NewString(), w, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Save(tok); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Saved authentication token to %s\n", store.Path)
	return tok, nil
}

// getTokenFromWeb serves the redirect on listener, prints the consent URL to
// w and exchanges the returned code. The listener is closed on return.
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config, listener net.Listener, state string, w io.Writer, logger zerolog.Logger, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	callbackPath := "/"
	if u, err := url.Parse(cfg.RedirectURL); err == nil && u.Path != "" {
		callbackPath = u.Path
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if msg := q.Get("error"); msg != "" {
			http.Error(rw, "Authorization denied", http.StatusBadRequest)
			sendErr(errCh, fmt.Errorf("authorization denied: %s", msg))
			return
		}
		if q.Get("state") != state {
			http.Error(rw, "State mismatch", http.StatusBadRequest)
			sendErr(errCh, errors.New("state mismatch in redirect URL"))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(rw, "Authorization code not found", http.StatusBadRequest)
			sendErr(errCh, errors.New("authorization code not found in redirect URL"))
			return
		}
		fmt.Fprint(rw, "Authentication successful! You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Close()

	go func() {
		logger.Debug().Str("redirect_url", cfg.RedirectURL).Msg("waiting for OAuth2 redirect")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(errCh, fmt.Errorf("HTTP server error: %w", err))
		}
	}()

	authURL := cfg.AuthCodeURL(state, opts...)
	fmt.Fprintf(w, "Please open the following URL in your browser to authorize gpxstrava:\n%s\n", authURL)

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, errors.New("authorization timed out, please try again")
	}
}

func sendErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
