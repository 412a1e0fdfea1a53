package gpx

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a track file could not be summarised.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindMalformed
	KindMissingTimestamp
	KindNoTrackPoints
	KindMissingEndpointTimestamp
)

// Sentinels for errors.Is matching against a *ParseError.
var (
	ErrNotFound                 = errors.New("track file not found")
	ErrMalformed                = errors.New("malformed track file")
	ErrMissingTimestamp         = errors.New("no timestamp in track file")
	ErrNoTrackPoints            = errors.New("no track points in track file")
	ErrMissingEndpointTimestamp = errors.New("last track point has no timestamp")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindMalformed:
		return ErrMalformed
	case KindMissingTimestamp:
		return ErrMissingTimestamp
	case KindNoTrackPoints:
		return ErrNoTrackPoints
	case KindMissingEndpointTimestamp:
		return ErrMissingEndpointTimestamp
	}
	return nil
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindMissingTimestamp:
		return "missing_timestamp"
	case KindNoTrackPoints:
		return "no_track_points"
	case KindMissingEndpointTimestamp:
		return "missing_endpoint_timestamp"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseError reports a per-file extraction failure.
type ParseError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind.sentinel(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Kind.sentinel())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ParseError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newParseError(path string, kind ErrorKind, err error) *ParseError {
	return &ParseError{Path: path, Kind: kind, Err: err}
}
