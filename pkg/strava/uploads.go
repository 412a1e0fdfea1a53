package strava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
)

const (
	StatusReady       = "Your activity is ready."
	errorStatusPrefix = "There was an error"

	gpxContentType = "application/gpx+xml"
)

// duplicateOf matches "kite.gpx duplicate of activity 123" as well as the
// variant that links to /activities/123.
var duplicateOf = regexp.MustCompile(`duplicate of\D*?(\d+)`)

// ErrPollTimeout means the upload was accepted but had not become an
// activity when polling gave up. Strava may still finish it later.
var ErrPollTimeout = errors.New("timed out waiting for processing")

// UploadStatus mirrors Strava's upload resource.
type UploadStatus struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
	Status     string `json:"status"`
	ActivityID int64  `json:"activity_id"`
}

// Failed reports whether Strava gave up processing the upload.
func (s *UploadStatus) Failed() bool {
	return s.Error != "" || strings.HasPrefix(s.Status, errorStatusPrefix)
}

func (s *UploadStatus) failure() error {
	msg := s.Error
	if msg == "" {
		msg = s.Status
	}
	upErr := &UploadError{UploadID: s.ID, ExternalID: s.ExternalID, Status: s.Status, Err: errors.New(msg)}
	if m := duplicateOf.FindStringSubmatch(msg); m != nil {
		upErr.DuplicateOf, _ = strconv.ParseInt(m[1], 10, 64)
	}
	return upErr
}

// Upload posts the job's file with its payload. The returned status is
// usually still processing; use PollUpload to wait for the activity.
func (c *Client) Upload(ctx context.Context, job reconcile.UploadJob) (*UploadStatus, error) {
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("could not read %s: %w", job.Path, err)}
	}

	body, contentType, err := encodeUpload(filepath.Base(job.Path), data, job.Payload)
	if err != nil {
		return nil, &UploadError{Err: err}
	}

	// Not idempotent: a post whose response got lost may have been applied,
	// and posting again only yields a duplicate error.
	var status UploadStatus
	err = c.send(ctx, false, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &status)
	if err != nil {
		if passthrough(ctx, err) {
			return nil, err
		}
		return nil, &UploadError{ExternalID: job.Payload.ExternalID, Err: err}
	}

	c.logger.Info().Int64("upload_id", status.ID).Str("external_id", job.Payload.ExternalID).Msg("upload accepted")
	if status.Failed() {
		return &status, status.failure()
	}
	return &status, nil
}

// GetUpload fetches the current state of an upload.
func (c *Client) GetUpload(ctx context.Context, uploadID int64) (*UploadStatus, error) {
	var status UploadStatus
	err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/uploads/%d", c.baseURL, uploadID), nil)
	}, &status)
	if err != nil {
		if passthrough(ctx, err) {
			return nil, err
		}
		return nil, &UploadError{UploadID: uploadID, Err: err}
	}
	return &status, nil
}

// PollUpload checks the upload every interval until it has become an
// activity, Strava reports an error, or timeout elapses.
func (c *Client) PollUpload(ctx context.Context, uploadID int64, interval, timeout time.Duration) (int64, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, &UploadError{UploadID: uploadID, Err: fmt.Errorf("%w after %s", ErrPollTimeout, timeout)}
		case <-ticker.C:
		}

		status, err := c.GetUpload(ctx, uploadID)
		if err != nil {
			return 0, err
		}
		if status.Failed() {
			return 0, status.failure()
		}
		if status.ActivityID != 0 {
			c.logger.Info().Int64("upload_id", uploadID).Int64("activity_id", status.ActivityID).Msg("upload processed")
			return status.ActivityID, nil
		}
		c.logger.Debug().Int64("upload_id", uploadID).Str("status", status.Status).Msg("upload still processing")
	}
}

func encodeUpload(filename string, data []byte, p reconcile.Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", gpxContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"data_type", p.DataType},
		{"external_id", p.ExternalID},
		{"name", p.Name},
		{"sport_type", string(p.SportType)},
		{"description", p.Description},
		{"trainer", flag(p.Trainer)},
		{"commute", flag(p.Commute)},
	}
	if p.Private != nil {
		fields = append(fields, [2]string{"private", flag(*p.Private)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
