package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/upload"
)

func sampleResult() *reconcile.Result {
	s := &gpx.TrackSummary{
		Path:         "/tracks/kite.gpx",
		SourceApp:    gpx.SourceHoolan,
		ActivityType: "Kiteboarding",
		Start:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		PointCount:   2,
	}
	return &reconcile.Result{
		Jobs:       []reconcile.UploadJob{reconcile.NewUploadJob(s.Path, s)},
		Duplicates: []reconcile.Duplicate{{Path: "/tracks/old.gpx", RemoteID: 987}},
		Failures:   []reconcile.Failure{{Path: "/tracks/bad.gpx", Kind: "malformed", Error: "bad", Err: errors.New("bad")}},
		Stats:      reconcile.Stats{FilesScanned: 3, Duplicates: 1, ParseFailures: 1, JobsProduced: 1, RemoteIndexed: 5},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "text": FormatTable, "JSON": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPlanTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, FormatTable, sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "kite.gpx")
	assert.Contains(t, out, "kite-1714557600")
	assert.Contains(t, out, "987")
	assert.Contains(t, out, "malformed")
	assert.Contains(t, out, "3 scanned, 1 new, 1 duplicate, 1 unreadable")
}

func TestPlanJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, FormatJSON, sampleResult()))

	var decoded struct {
		Jobs []struct {
			Payload struct {
				ExternalID string `json:"external_id"`
				SportType  string `json:"sport_type"`
			} `json:"payload"`
		} `json:"jobs"`
		Stats struct {
			FilesScanned int `json:"files_scanned"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Jobs, 1)
	assert.Equal(t, "kite-1714557600", decoded.Jobs[0].Payload.ExternalID)
	assert.Equal(t, "Kitesurf", decoded.Jobs[0].Payload.SportType)
	assert.Equal(t, 3, decoded.Stats.FilesScanned)
}

func TestPlanYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, FormatYAML, sampleResult()))
	assert.Contains(t, buf.String(), "external_id: kite-1714557600")
	assert.NotContains(t, buf.String(), "err:")
}

func TestUploadsTable(t *testing.T) {
	var buf bytes.Buffer
	s := &upload.Summary{
		Outcomes: []upload.Outcome{
			{Path: "/t/a.gpx", Status: upload.StatusUploaded, UploadID: 1, ActivityID: 1001},
			{Path: "/t/b.gpx", Status: upload.StatusFailed, Error: "bad file"},
		},
		Uploaded: 1,
		Failed:   1,
	}
	require.NoError(t, Uploads(&buf, FormatTable, s))
	out := buf.String()
	assert.Contains(t, out, "1001")
	assert.Contains(t, out, "bad file")
	assert.Contains(t, out, "1 uploaded, 0 queued, 0 skipped, 1 failed, 0 dry run")
}

func TestInspectTable(t *testing.T) {
	var buf bytes.Buffer
	items := []Inspection{
		{
			Path: "/t/a.gpx",
			Summary: &gpx.TrackSummary{
				SourceApp:    gpx.SourceWoo,
				ActivityType: "Windsurfing",
				Start:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
				End:          time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
				PointCount:   12,
			},
			Extensions: map[string]int{"speed": 1, "hr": 2},
		},
		{Path: "/t/b.gpx", Error: "no track points"},
	}
	require.NoError(t, Inspect(&buf, FormatTable, items))
	out := buf.String()
	assert.Contains(t, out, "hr=2 speed=1")
	assert.Contains(t, out, "30m0s")
	assert.Contains(t, out, "no track points")
}
