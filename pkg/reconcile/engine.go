package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harrisonrobin/gpxstrava/pkg/gpx"
	"github.com/harrisonrobin/gpxstrava/pkg/index"
	"github.com/harrisonrobin/gpxstrava/pkg/metrics"
	"github.com/rs/zerolog"
)

// RemoteActivity is an activity already present on the remote service.
type RemoteActivity struct {
	ID             int64
	Name           string
	SportType      string
	Start          time.Time
	ElapsedSeconds int64
	// StartLatLng holds lat, lon. Activities recorded without GPS have none.
	StartLatLng []float64
}

// RemoteActivitySource returns the complete list of remote activities.
// Paging is the source's business.
type RemoteActivitySource interface {
	ListAllActivities(ctx context.Context) ([]RemoteActivity, error)
}

// Duplicate is a local file that already exists remotely.
type Duplicate struct {
	Path      string          `json:"path" yaml:"path"`
	RemoteID  int64           `json:"remote_id" yaml:"remote_id"`
	Signature index.Signature `json:"signature" yaml:"signature"`
}

// Failure is a local file that could not be summarised.
type Failure struct {
	Path  string `json:"path" yaml:"path"`
	Kind  string `json:"kind" yaml:"kind"`
	Error string `json:"error" yaml:"error"`
	Err   error  `json:"-" yaml:"-"`
}

// Stats summarises one run.
type Stats struct {
	FilesScanned    int `json:"files_scanned" yaml:"files_scanned"`
	Duplicates      int `json:"duplicates" yaml:"duplicates"`
	ParseFailures   int `json:"parse_failures" yaml:"parse_failures"`
	JobsProduced    int `json:"jobs_produced" yaml:"jobs_produced"`
	RemoteIndexed   int `json:"remote_indexed" yaml:"remote_indexed"`
	RemoteSkipped   int `json:"remote_skipped" yaml:"remote_skipped"`
	IndexCollisions int `json:"index_collisions" yaml:"index_collisions"`
}

// Result is the outcome of a run. Jobs, Duplicates and Failures are ordered
// by file name.
type Result struct {
	Jobs       []UploadJob `json:"jobs" yaml:"jobs"`
	Duplicates []Duplicate `json:"duplicates" yaml:"duplicates"`
	Failures   []Failure   `json:"failures" yaml:"failures"`
	Stats      Stats       `json:"stats" yaml:"stats"`
}

// Engine reconciles a directory of tracks against the remote activity list.
type Engine struct {
	source  RemoteActivitySource
	logger  zerolog.Logger
	metrics *metrics.Recorder
	workers int
	extract func(path string) (*gpx.TrackSummary, error)
}

type Option func(*Engine)

// WithMetrics records run counters on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithWorkers extracts metadata from up to n files at once. Output order is
// unaffected.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine creates an engine reading remote activities from source.
func NewEngine(source RemoteActivitySource, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:  source,
		logger:  logger.With().Str("component", "reconcile").Logger(),
		workers: 1,
		extract: gpx.Extract,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run builds the duplicate index from the remote list, then classifies every
// file in dir. Only a failure to obtain the remote list aborts the run.
func (e *Engine) Run(ctx context.Context, dir *gpx.Dir) (*Result, error) {
	idx, stats, err := e.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}

	res, err := e.Scan(ctx, idx, dir.Files())
	if err != nil {
		return nil, err
	}
	res.Stats.RemoteIndexed = stats.RemoteIndexed
	res.Stats.RemoteSkipped = stats.RemoteSkipped
	res.Stats.IndexCollisions = stats.IndexCollisions
	return res, nil
}

// BuildIndex fetches the remote list once and indexes every activity that
// has a start coordinate.
func (e *Engine) BuildIndex(ctx context.Context) (*index.DuplicateIndex, Stats, error) {
	e.logger.Info().Msg("building remote activity index")

	activities, err := e.source.ListAllActivities(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("could not list remote activities: %w", err)
	}

	idx := index.NewDuplicateIndex()
	var stats Stats
	for _, act := range activities {
		sig, ok := index.FromRemote(act.Start, act.ElapsedSeconds, act.StartLatLng)
		if !ok {
			stats.RemoteSkipped++
			e.logger.Debug().Int64("activity_id", act.ID).Str("name", act.Name).
				Msg("skipped remote activity with no start coordinate")
			continue
		}
		idx.Insert(sig, act.ID)
		stats.RemoteIndexed++
	}
	stats.IndexCollisions = idx.Collisions()

	e.metrics.RemoteIndexed(stats.RemoteIndexed)
	e.metrics.RemoteSkipped(stats.RemoteSkipped)
	e.logger.Info().
		Int("indexed", stats.RemoteIndexed).
		Int("skipped", stats.RemoteSkipped).
		Int("collisions", stats.IndexCollisions).
		Msg("indexed remote activities")

	return idx, stats, nil
}

type extraction struct {
	path    string
	summary *gpx.TrackSummary
	err     error
}

// Scan classifies files against idx in lexicographic order.
func (e *Engine) Scan(ctx context.Context, idx *index.DuplicateIndex, files []string) (*Result, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	extracted, err := e.extractAll(ctx, sorted)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, x := range extracted {
		res.Stats.FilesScanned++
		e.metrics.FileScanned()
		name := filepath.Base(x.path)

		if x.err != nil {
			f := Failure{Path: x.path, Kind: "unknown", Error: x.err.Error(), Err: x.err}
			var perr *gpx.ParseError
			if errors.As(x.err, &perr) {
				f.Kind = perr.Kind.String()
			}
			res.Failures = append(res.Failures, f)
			res.Stats.ParseFailures++
			e.metrics.ParseFailure(f.Kind)
			e.logger.Error().Err(x.err).Str("file", name).Msg("track parse failed")
			continue
		}

		s := x.summary
		sig := index.FromTrack(s.Start, s.End, s.StartPoint.Lat, s.StartPoint.Lon)
		if id, ok := idx.FindDuplicate(sig); ok {
			res.Duplicates = append(res.Duplicates, Duplicate{Path: x.path, RemoteID: id, Signature: sig})
			res.Stats.Duplicates++
			e.metrics.Duplicate()
			e.logger.Info().Str("file", name).Int64("activity_id", id).Msg("skipping, already uploaded")
			continue
		}

		res.Jobs = append(res.Jobs, NewUploadJob(x.path, s))
		res.Stats.JobsProduced++
		e.metrics.JobProduced()
		e.logger.Info().Str("file", name).Msg("prepared upload")
	}

	e.logger.Info().
		Int("scanned", res.Stats.FilesScanned).
		Int("duplicates", res.Stats.Duplicates).
		Int("failures", res.Stats.ParseFailures).
		Int("jobs", res.Stats.JobsProduced).
		Msg("scan complete")

	return res, nil
}

// extractAll summarises files, in parallel when configured. Results keep the
// position of their input file.
func (e *Engine) extractAll(ctx context.Context, files []string) ([]extraction, error) {
	out := make([]extraction, len(files))

	if e.workers <= 1 || len(files) < 2 {
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s, err := e.extract(path)
			out[i] = extraction{path: path, summary: s, err: err}
		}
		return out, nil
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			s, err := e.extract(path)
			out[i] = extraction{path: path, summary: s, err: err}
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
