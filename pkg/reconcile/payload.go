package reconcile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ActivityLabel is a metadata name the tool knows how to categorise.
type ActivityLabel string

const (
	LabelKiteboarding     ActivityLabel = "Kiteboarding"
	LabelKiteLandboarding ActivityLabel = "Kite Landboarding"
	LabelWindsurfing      ActivityLabel = "Windsurfing"
	LabelWingFoiling      ActivityLabel = "Wing Foiling"
)

// SportType is the remote service's activity category.
type SportType string

const (
	SportKitesurf SportType = "Kitesurf"
	SportWindsurf SportType = "Windsurf"
	SportWorkout  SportType = "Workout"
)

// DefaultSportType is used for labels missing from the table.
const DefaultSportType = SportWorkout

var sportTypes = map[ActivityLabel]SportType{
	LabelKiteboarding:     SportKitesurf,
	LabelKiteLandboarding: SportKitesurf,
	LabelWindsurfing:      SportWindsurf,
	LabelWingFoiling:      SportWindsurf,
}

// SportTypeFor looks up the category for an activity label.
func SportTypeFor(label string) SportType {
	if st, ok := sportTypes[ActivityLabel(label)]; ok {
		return st
	}
	return DefaultSportType
}

// DataTypeGPX is the upload file format.
const DataTypeGPX = "gpx"

// Payload holds the form fields of an upload request.
type Payload struct {
	DataType    string    `json:"data_type" yaml:"data_type"`
	ExternalID  string    `json:"external_id" yaml:"external_id"`
	Name        string    `json:"name" yaml:"name"`
	SportType   SportType `json:"sport_type" yaml:"sport_type"`
	Description string    `json:"description" yaml:"description"`
	Trainer     bool      `json:"trainer" yaml:"trainer"`
	Commute     bool      `json:"commute" yaml:"commute"`
	// Private is nil to keep the account's default visibility.
	Private *bool `json:"private,omitempty" yaml:"private,omitempty"`
}

// UploadJob is a new track ready to be handed to the upload stage.
type UploadJob struct {
	Path    string           `json:"path" yaml:"path"`
	Summary gpx.TrackSummary `json:"summary" yaml:"summary"`
	Payload Payload          `json:"payload" yaml:"payload"`
}

// ExternalID is the file stem joined with the start instant in epoch seconds.
// It stays the same across retries of the same track and differs for tracks
// that share a stem but not a start.
func ExternalID(path string, summary *gpx.TrackSummary) string {
	return stem(path) + "-" + strconv.FormatInt(summary.Start.Unix(), 10)
}

// DisplayName returns the activity label, or a cleaned-up file name when the
// track carried no usable label.
func DisplayName(path string, summary *gpx.TrackSummary) string {
	label := strings.TrimSpace(summary.ActivityType)
	if label != "" && label != gpx.DefaultActivityType {
		return label
	}
	s := stem(path)
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	if len(words) == 0 {
		return s
	}
	return cases.Title(language.Und, cases.NoLower).String(strings.Join(words, " "))
}

// Description names the recording app and the start date.
func Description(summary *gpx.TrackSummary) string {
	return fmt.Sprintf("Imported from %s on %s", summary.SourceApp, summary.Start.UTC().Format("2006-01-02"))
}

// NewUploadJob derives the upload payload for a new track.
func NewUploadJob(path string, summary *gpx.TrackSummary) UploadJob {
	return UploadJob{
		Path:    path,
		Summary: *summary,
		Payload: Payload{
			DataType:    DataTypeGPX,
			ExternalID:  ExternalID(path, summary),
			Name:        DisplayName(path, summary),
			SportType:   SportTypeFor(summary.ActivityType),
			Description: Description(summary),
		},
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
