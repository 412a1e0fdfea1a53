// Package report renders run results for people (tables) and for scripts
// (JSON, YAML).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/upload"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an output format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "text":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (want table, json or yaml)", s)
	}
}

// Inspection is the inspect view of one file.
type Inspection struct {
	Path       string            `json:"path" yaml:"path"`
	Summary    *gpx.TrackSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Extensions map[string]int    `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Plan renders the outcome of reconciliation.
func Plan(w io.Writer, format Format, res *reconcile.Result) error {
	if format != FormatTable {
		return encode(w, format, res)
	}

	if len(res.Jobs) > 0 {
		fmt.Fprintln(w, "New tracks:")
		rows := make([][]string, 0, len(res.Jobs))
		for _, j := range res.Jobs {
			rows = append(rows, []string{
				filepath.Base(j.Path),
				j.Summary.Start.Format(time.RFC3339),
				j.Summary.Duration().Round(time.Second).String(),
				string(j.Payload.SportType),
				j.Payload.Name,
				j.Payload.ExternalID,
			})
		}
		if err := table(w, []string{"File", "Start", "Duration", "Sport", "Name", "External ID"}, rows); err != nil {
			return err
		}
	}

	if len(res.Duplicates) > 0 {
		fmt.Fprintln(w, "Already on Strava:")
		rows := make([][]string, 0, len(res.Duplicates))
		for _, d := range res.Duplicates {
			rows = append(rows, []string{filepath.Base(d.Path), strconv.FormatInt(d.RemoteID, 10)})
		}
		if err := table(w, []string{"File", "Activity"}, rows); err != nil {
			return err
		}
	}

	if len(res.Failures) > 0 {
		fmt.Fprintln(w, "Unreadable:")
		rows := make([][]string, 0, len(res.Failures))
		for _, f := range res.Failures {
			rows = append(rows, []string{filepath.Base(f.Path), f.Kind, f.Error})
		}
		if err := table(w, []string{"File", "Kind", "Error"}, rows); err != nil {
			return err
		}
	}

	s := res.Stats
	_, err := fmt.Fprintf(w, "%d scanned, %d new, %d duplicate, %d unreadable (remote: %d indexed, %d without GPS)\n",
		s.FilesScanned, s.JobsProduced, s.Duplicates, s.ParseFailures, s.RemoteIndexed, s.RemoteSkipped)
	return err
}

// Uploads renders the outcome of the upload stage.
func Uploads(w io.Writer, format Format, s *upload.Summary) error {
	if format != FormatTable {
		return encode(w, format, s)
	}

	if len(s.Outcomes) > 0 {
		rows := make([][]string, 0, len(s.Outcomes))
		for _, o := range s.Outcomes {
			rows = append(rows, []string{
				filepath.Base(o.Path),
				string(o.Status),
				optionalID(o.UploadID),
				optionalID(o.ActivityID),
				o.Error,
			})
		}
		if err := table(w, []string{"File", "Status", "Upload", "Activity", "Error"}, rows); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%d uploaded, %d queued, %d skipped, %d failed, %d dry run\n",
		s.Uploaded, s.Queued, s.Skipped, s.Failed, s.DryRun)
	return err
}

// Inspect renders per-file summaries and extension tag counts.
func Inspect(w io.Writer, format Format, items []Inspection) error {
	if format != FormatTable {
		return encode(w, format, items)
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		name := filepath.Base(it.Path)
		if it.Error != "" {
			rows = append(rows, []string{name, "", "", "", "", "", it.Error})
			continue
		}
		s := it.Summary
		rows = append(rows, []string{
			name,
			string(s.SourceApp),
			s.ActivityType,
			s.Start.Format(time.RFC3339),
			s.Duration().Round(time.Second).String(),
			strconv.Itoa(s.PointCount),
			extensionList(it.Extensions),
		})
	}
	return table(w, []string{"File", "Source", "Activity", "Start", "Duration", "Points", "Extensions"}, rows)
}

func encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func table(w io.Writer, headers []string, rows [][]string) error {
	t := tablewriter.NewTable(w)

	h := make([]any, len(headers))
	for i, v := range headers {
		h[i] = v
	}
	t.Header(h...)

	for _, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		if err := t.Append(cells...); err != nil {
			return err
		}
	}
	return t.Render()
}

func optionalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func extensionList(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = fmt.Sprintf("%s=%d", tag, counts[tag])
	}
	return strings.Join(parts, " ")
}
