package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const (
	DefaultBaseURL = "https://www.strava.com/api/v3"

	defaultPageSize = 100
)

// Client talks to the Strava v3 API. The HTTP client is expected to carry
// authentication, normally one built by auth.StravaClient.
type Client struct {
	http     *http.Client
	baseURL  string
	retry    RetryPolicy
	pageSize int
	logger   zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a Strava client.
func NewClient(httpClient *http.Client, logger zerolog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:     httpClient,
		baseURL:  DefaultBaseURL,
		retry:    DefaultRetryPolicy(),
		pageSize: defaultPageSize,
		logger:   logger.With().Str("component", "strava").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends an idempotent request built by newReq and decodes a JSON body
// into out. newReq is called once per attempt so request bodies can be
// replayed.
func (c *Client) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	return c.send(ctx, true, newReq, out)
}

// send is do with control over retries. A request that is not idempotent is
// only retried when rate limited, since the server rejected it unapplied.
func (c *Client) send(ctx context.Context, idempotent bool, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	return retry(ctx, c.retry, c.logger, func() error {
		err := c.roundTrip(ctx, newReq, out)
		var retryErr *retryableError
		if !idempotent && errors.As(err, &retryErr) && !retryErr.RateLimited {
			return retryErr.Err
		}
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	req, err := newReq(ctx)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			code := 0
			if rerr.Response != nil {
				code = rerr.Response.StatusCode
			}
			return &AuthenticationError{StatusCode: code, Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{Err: err}
	}
	defer res.Body.Close()

	if err := googleapi.CheckResponse(res); err != nil {
		return classify(res, err)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func classify(res *http.Response, err error) error {
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return &AuthenticationError{StatusCode: res.StatusCode, Err: err}
	case res.StatusCode == http.StatusTooManyRequests:
		return &retryableError{Err: err, RetryAfter: retryAfter(res.Header), RateLimited: true}
	case res.StatusCode >= 500:
		return &retryableError{Err: err, RetryAfter: retryAfter(res.Header)}
	}
	return err
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// passthrough reports whether err should reach the caller unwrapped.
func passthrough(ctx context.Context, err error) bool {
	var authErr *AuthenticationError
	var transportErr *TransportError
	return errors.As(err, &authErr) || errors.As(err, &transportErr) || ctx.Err() != nil
}
