package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var fastRetry = RetryPolicy{
	MaxRetries:     2,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	BackoffFactor:  2,
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithRetryPolicy(fastRetry)}, opts...)
	return NewClient(srv.Client(), zerolog.Nop(), opts...)
}

func TestListAllActivitiesPages(t *testing.T) {
	pages := map[string]string{
		"1": `[{"id":1,"name":"Morning Kite","sport_type":"Kitesurf","start_date":"2024-05-01T10:01:30Z","elapsed_time":3660,"start_latlng":[37.775,-122.419]},
		       {"id":2,"name":"Treadmill","sport_type":"Run","start_date":"2024-05-02T08:00:00Z","elapsed_time":1800,"start_latlng":[]}]`,
		"2": `[{"id":3,"name":"Wing","sport_type":"Windsurf","start_date":"2024-05-03T09:00:00Z","elapsed_time":600,"start_latlng":null}]`,
	}
	var requested []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/athlete/activities", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		body, ok := pages[page]
		if !ok {
			body = `[]`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}), WithPageSize(2))

	acts, err := c.ListAllActivities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, requested)
	require.Len(t, acts, 3)
	assert.Equal(t, reconcile.RemoteActivity{
		ID:             1,
		Name:           "Morning Kite",
		SportType:      "Kitesurf",
		Start:          time.Date(2024, 5, 1, 10, 1, 30, 0, time.UTC),
		ElapsedSeconds: 3660,
		StartLatLng:    []float64{37.775, -122.419},
	}, acts[0])
	assert.Empty(t, acts[1].StartLatLng)
	assert.Nil(t, acts[2].StartLatLng)
}

func TestUnauthorizedIsAuthenticationError(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Authorization Error"}`)
	}))

	_, err := c.ListAllActivities(context.Background())
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures are not retried")
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[]`)
	}))

	acts, err := c.ListAllActivities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryExhaustionIsTransportError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.ListAllActivities(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 3, transportErr.Attempts)
}

func TestTokenRefreshFailureIsAuthenticationError(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Bad Request","errors":[{"resource":"RefreshToken","code":"invalid"}]}`)
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	httpClient := cfg.Client(context.Background(), &oauth2.Token{RefreshToken: "stale"})

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API")
	}))
	defer api.Close()

	c := NewClient(httpClient, zerolog.Nop(), WithBaseURL(api.URL), WithRetryPolicy(fastRetry))
	_, err := c.ListAllActivities(context.Background())
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
}

func writeTrack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kite.gpx")
	require.NoError(t, os.WriteFile(path, []byte("<gpx/>"), 0o600))
	return path
}

func TestUploadAndPoll(t *testing.T) {
	private := true
	job := reconcile.UploadJob{
		Path: writeTrack(t),
		Payload: reconcile.Payload{
			DataType:    reconcile.DataTypeGPX,
			ExternalID:  "kite-1714557600",
			Name:        "Kiteboarding",
			SportType:   reconcile.SportKitesurf,
			Description: "Imported from Hoolan on 2024-05-01",
			Private:     &private,
		},
	}

	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploads", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "gpx", r.FormValue("data_type"))
		assert.Equal(t, "kite-1714557600", r.FormValue("external_id"))
		assert.Equal(t, "Kitesurf", r.FormValue("sport_type"))
		assert.Equal(t, "0", r.FormValue("trainer"))
		assert.Equal(t, "0", r.FormValue("commute"))
		assert.Equal(t, "1", r.FormValue("private"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "kite.gpx", hdr.Filename)
		assert.Equal(t, gpxContentType, hdr.Header.Get("Content-Type"))
		assert.Equal(t, "<gpx/>", string(data))

		fmt.Fprint(w, `{"id":42,"external_id":"kite-1714557600","error":null,"status":"Your activity is still being processed.","activity_id":null}`)
	})
	mux.HandleFunc("GET /uploads/42", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			fmt.Fprint(w, `{"id":42,"status":"Your activity is still being processed.","activity_id":null}`)
			return
		}
		fmt.Fprintf(w, `{"id":42,"status":%q,"activity_id":9001}`, StatusReady)
	})
	c := newTestClient(t, mux)

	status, err := c.Upload(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, int64(42), status.ID)
	assert.Zero(t, status.ActivityID)

	activityID, err := c.PollUpload(context.Background(), status.ID, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(9001), activityID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestUploadRejectedIsUploadError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Bad Request"}`)
	}))

	_, err := c.Upload(context.Background(), reconcile.UploadJob{Path: writeTrack(t)})
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)

	var authErr *AuthenticationError
	assert.False(t, errors.As(err, &authErr))
}

func TestUploadMissingFile(t *testing.T) {
	c := NewClient(nil, zerolog.Nop())
	_, err := c.Upload(context.Background(), reconcile.UploadJob{Path: filepath.Join(t.TempDir(), "gone.gpx")})
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPollUploadProcessingError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":7,"external_id":"kite-1714557600","status":"There was an error processing your activity.","error":"kite.gpx duplicate of activity 123"}`)
	}))

	_, err := c.PollUpload(context.Background(), 7, time.Millisecond, time.Second)
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, int64(7), upErr.UploadID)
	assert.Equal(t, int64(123), upErr.DuplicateOf)
	assert.Contains(t, err.Error(), "duplicate of activity 123")

	id, ok := DuplicateActivity(err, "kite-1714557600")
	assert.True(t, ok)
	assert.Equal(t, int64(123), id)

	_, ok = DuplicateActivity(err, "other-1714557600")
	assert.False(t, ok)
}

func TestDuplicateActivity(t *testing.T) {
	tests := []struct {
		name   string
		status UploadStatus
		want   int64
	}{
		{
			name:   "plain message",
			status: UploadStatus{ID: 1, ExternalID: "x", Error: "x.gpx duplicate of activity 42"},
			want:   42,
		},
		{
			name:   "linked activity",
			status: UploadStatus{ID: 1, ExternalID: "x", Error: "x.gpx duplicate of <a href='/activities/4242' target='_blank'>Kite</a>"},
			want:   4242,
		},
		{
			name:   "not a duplicate",
			status: UploadStatus{ID: 1, ExternalID: "x", Error: "Improperly formatted data."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := DuplicateActivity(tt.status.failure(), "x")
			assert.Equal(t, tt.want != 0, ok)
			assert.Equal(t, tt.want, id)
		})
	}

	_, ok := DuplicateActivity(errors.New("duplicate of activity 1"), "x")
	assert.False(t, ok)
}

func TestUploadIsNotRetriedUnlessRateLimited(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(w http.ResponseWriter)
		attempts int32
	}{
		{
			name: "connection dropped",
			respond: func(w http.ResponseWriter) {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
			},
			attempts: 1,
		},
		{
			name:     "server error",
			respond:  func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
			attempts: 1,
		},
		{
			name:     "rate limited",
			respond:  func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) },
			attempts: int32(fastRetry.MaxRetries + 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.respond(w)
			}))

			job := reconcile.UploadJob{Path: writeTrack(t), Payload: reconcile.Payload{ExternalID: "kite-1"}}
			_, err := c.Upload(context.Background(), job)
			require.Error(t, err)
			assert.Equal(t, tt.attempts, atomic.LoadInt32(&calls))

			var authErr *AuthenticationError
			assert.False(t, errors.As(err, &authErr))
		})
	}
}

func TestPollUploadTimeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":7,"status":"Your activity is still being processed."}`)
	}))

	_, err := c.PollUpload(context.Background(), 7, 5*time.Millisecond, 30*time.Millisecond)
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(h))
	h.Set("Retry-After", "15")
	assert.Equal(t, 15*time.Second, retryAfter(h))
	h.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(h))
}
