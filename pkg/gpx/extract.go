package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp converts an ISO-8601 timestamp into a UTC instant.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	// a trailing lower-case z is as good as Z
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// Extract reads the GPX file at path and returns its summary.
func Extract(path string) (*TrackSummary, error) {
	f, abs, err := openTrack(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ExtractReader(f, abs)
}

// ExtractReader summarises a GPX document read from r. path is recorded in
// the summary and in any error.
func ExtractReader(r io.Reader, path string) (*TrackSummary, error) {
	doc, err := decode(r, path)
	if err != nil {
		return nil, err
	}
	return summarise(doc, path)
}

// openTrack resolves path and opens it for reading.
func openTrack(path string) (*os.File, string, error) {
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return nil, path, newParseError(path, KindNotFound, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, abs, newParseError(abs, KindNotFound, err)
	}
	if info.IsDir() {
		return nil, abs, newParseError(abs, KindNotFound, errors.New("path is a directory"))
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, abs, newParseError(abs, KindNotFound, err)
	}
	return f, abs, nil
}

func summarise(doc *document, path string) (*TrackSummary, error) {
	start, err := startTimestamp(doc, path)
	if err != nil {
		return nil, err
	}

	pts := doc.points()
	if len(pts) == 0 {
		return nil, newParseError(path, KindNoTrackPoints, nil)
	}
	first, last := pts[0], pts[len(pts)-1]

	startPoint, err := parseLatLng(first)
	if err != nil {
		return nil, newParseError(path, KindMalformed, fmt.Errorf("first track point: %w", err))
	}
	endPoint, err := parseLatLng(last)
	if err != nil {
		return nil, newParseError(path, KindMalformed, fmt.Errorf("last track point: %w", err))
	}

	if last.Time == nil || strings.TrimSpace(*last.Time) == "" {
		return nil, newParseError(path, KindMissingEndpointTimestamp, nil)
	}
	end, err := ParseTimestamp(*last.Time)
	if err != nil {
		return nil, newParseError(path, KindMalformed, fmt.Errorf("last track point time: %w", err))
	}
	if end.Before(start) {
		return nil, newParseError(path, KindMalformed,
			fmt.Errorf("track ends at %s before it starts at %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}

	return &TrackSummary{
		Path:         path,
		SourceApp:    DetectSourceApp(doc.Creator),
		ActivityType: activityType(doc),
		Start:        start,
		End:          end,
		PointCount:   len(pts),
		StartPoint:   startPoint,
		EndPoint:     endPoint,
	}, nil
}

func decode(r io.Reader, path string) (*document, error) {
	dec := xml.NewDecoder(r)
	// Some exporters declare ISO-8859-1 or windows-1252.
	dec.CharsetReader = charset.NewReaderLabel

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, newParseError(path, KindMalformed, err)
	}
	switch doc.XMLName.Space {
	case "", NamespaceGPX11, NamespaceGPX10:
	default:
		return nil, newParseError(path, KindMalformed, fmt.Errorf("unsupported namespace %q", doc.XMLName.Space))
	}
	return &doc, nil
}

func activityType(doc *document) string {
	if doc.Metadata == nil || len(doc.Metadata.Names) == 0 {
		return DefaultActivityType
	}
	if name := strings.TrimSpace(doc.Metadata.Names[0]); name != "" {
		return name
	}
	return DefaultActivityType
}

// startTimestamp prefers the document metadata time and falls back to the
// first timestamped track point.
func startTimestamp(doc *document, path string) (time.Time, error) {
	raw := ""
	if doc.Metadata != nil && doc.Metadata.Time != nil {
		raw = strings.TrimSpace(*doc.Metadata.Time)
	}
	if raw == "" {
		for _, pt := range doc.points() {
			if pt.Time != nil {
				raw = strings.TrimSpace(*pt.Time)
				break
			}
		}
	}
	if raw == "" {
		return time.Time{}, newParseError(path, KindMissingTimestamp, nil)
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, newParseError(path, KindMalformed, fmt.Errorf("start time: %w", err))
	}
	return t, nil
}

func parseLatLng(pt rawPoint) (LatLng, error) {
	if pt.Lat == nil {
		return LatLng{}, errors.New("missing lat attribute")
	}
	if pt.Lon == nil {
		return LatLng{}, errors.New("missing lon attribute")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(*pt.Lat), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(*pt.Lon), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("lon: %w", err)
	}
	if !(lat >= -90 && lat <= 90) {
		return LatLng{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if !(lon >= -180 && lon <= 180) {
		return LatLng{}, fmt.Errorf("longitude %v out of range", lon)
	}
	return LatLng{Lat: lat, Lon: lon}, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
