package gpx

import (
	"encoding/xml"
	"strings"
	"time"
)

// Recognised GPX namespaces. Documents without a default namespace are
// accepted as well.
const (
	NamespaceGPX11 = "http://www.topografix.com/GPX/1/1"
	NamespaceGPX10 = "http://www.topografix.com/GPX/1/0"
)

// DefaultActivityType is used when a document carries no metadata name.
const DefaultActivityType = "Unknown Activity"

// SourceApp identifies the application that recorded a track.
type SourceApp string

const (
	SourceHoolan  SourceApp = "Hoolan"
	SourceWoo     SourceApp = "Woo"
	SourceUnknown SourceApp = "Unknown"
)

// sourceApps is checked in order; the first substring hit wins.
var sourceApps = []struct {
	needle string
	app    SourceApp
}{
	{"hoolan", SourceHoolan},
	{"woo", SourceWoo},
}

// DetectSourceApp maps a GPX creator attribute to a SourceApp.
func DetectSourceApp(creator string) SourceApp {
	if creator == "" {
		return SourceUnknown
	}
	lower := strings.ToLower(creator)
	for _, s := range sourceApps {
		if strings.Contains(lower, s.needle) {
			return s.app
		}
	}
	return SourceUnknown
}

// LatLng is a coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// TrackSummary is the normalized metadata of one track file.
type TrackSummary struct {
	Path         string    `json:"path" yaml:"path"`
	SourceApp    SourceApp `json:"source_app" yaml:"source_app"`
	ActivityType string    `json:"activity_type" yaml:"activity_type"`
	Start        time.Time `json:"start" yaml:"start"`
	End          time.Time `json:"end" yaml:"end"`
	PointCount   int       `json:"point_count" yaml:"point_count"`
	StartPoint   LatLng    `json:"start_latlng" yaml:"start_latlng"`
	EndPoint     LatLng    `json:"end_latlng" yaml:"end_latlng"`
}

// Duration returns the elapsed time between the first and last timestamps.
func (s *TrackSummary) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// document is the subset of a GPX file the extractor reads. Values are kept
// as raw strings so that missing and malformed fields can be told apart.
type document struct {
	XMLName  xml.Name     `xml:"gpx"`
	Creator  string       `xml:"creator,attr"`
	Metadata *rawMetadata `xml:"metadata"`
	Tracks   []rawTrack   `xml:"trk"`
}

type rawMetadata struct {
	Names []string `xml:"name"`
	Time  *string  `xml:"time"`
}

type rawTrack struct {
	Segments []rawSegment `xml:"trkseg"`
}

type rawSegment struct {
	Points []rawPoint `xml:"trkpt"`
}

type rawPoint struct {
	Lat        *string        `xml:"lat,attr"`
	Lon        *string        `xml:"lon,attr"`
	Time       *string        `xml:"time"`
	Extensions *rawExtensions `xml:"extensions"`
}

type rawExtensions struct {
	TrackPointExtensions []rawTrackPointExtension `xml:"TrackPointExtension"`
}

type rawTrackPointExtension struct {
	Children []rawElement `xml:",any"`
}

type rawElement struct {
	XMLName xml.Name
}

// points flattens every point of every segment in document order.
func (d *document) points() []rawPoint {
	var pts []rawPoint
	for _, trk := range d.Tracks {
		for _, seg := range trk.Segments {
			pts = append(pts, seg.Points...)
		}
	}
	return pts
}
