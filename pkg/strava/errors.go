package strava

import (
	"errors"
	"fmt"
)

// AuthenticationError means Strava rejected our credentials. It is fatal for
// the run.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("strava authentication failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("strava authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransportError is returned once retries of a transient failure (network
// error, 429 or 5xx) are exhausted.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("strava request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UploadError is a per-upload failure: rejected file, processing error or
// poll timeout.
type UploadError struct {
	UploadID   int64
	ExternalID string
	Status     string
	// DuplicateOf is the existing activity Strava matched the file to.
	DuplicateOf int64
	Err         error
}

func (e *UploadError) Error() string {
	if e.UploadID != 0 {
		return fmt.Sprintf("upload %d failed: %v", e.UploadID, e.Err)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// DuplicateActivity reports the activity an upload with externalID was
// rejected as a duplicate of. Strava only answers that way for an upload
// carrying the same external id when the first post did go through, so the
// caller can treat it as completed.
func DuplicateActivity(err error, externalID string) (int64, bool) {
	var upErr *UploadError
	if !errors.As(err, &upErr) || upErr.DuplicateOf == 0 {
		return 0, false
	}
	if externalID == "" || upErr.ExternalID != externalID {
		return 0, false
	}
	return upErr.DuplicateOf, true
}
