// Package upload hands prepared jobs to the remote service, one at a time.
// A job that fails is logged and recorded; the remaining jobs still run.
// Only an authentication failure or cancellation stops the batch.
package upload

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harrisonrobin/gpxstrava/pkg/journal"
	"github.com/harrisonrobin/gpxstrava/pkg/ledger"
	"github.com/harrisonrobin/gpxstrava/pkg/metrics"
	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
	"github.com/harrisonrobin/gpxstrava/pkg/strava"
)

// Sink accepts uploads and reports when they become activities.
type Sink interface {
	Upload(ctx context.Context, job reconcile.UploadJob) (*strava.UploadStatus, error)
	PollUpload(ctx context.Context, uploadID int64, interval, timeout time.Duration) (int64, error)
}

// Journal records completed uploads somewhere visible to the user.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusQueued   Status = "queued"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusDryRun   Status = "dry_run"
)

// Outcome is what happened to one job.
type Outcome struct {
	Path       string `json:"path" yaml:"path"`
	ExternalID string `json:"external_id" yaml:"external_id"`
	Status     Status `json:"status" yaml:"status"`
	UploadID   int64  `json:"upload_id,omitempty" yaml:"upload_id,omitempty"`
	ActivityID int64  `json:"activity_id,omitempty" yaml:"activity_id,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Summary struct {
	Outcomes []Outcome `json:"outcomes" yaml:"outcomes"`
	Uploaded int       `json:"uploaded" yaml:"uploaded"`
	Queued   int       `json:"queued" yaml:"queued"`
	Skipped  int       `json:"skipped" yaml:"skipped"`
	Failed   int       `json:"failed" yaml:"failed"`
	DryRun   int       `json:"dry_run" yaml:"dry_run"`
}

// Merge appends the outcomes and counts of o.
func (s *Summary) Merge(o *Summary) {
	if o == nil {
		return
	}
	s.Outcomes = append(s.Outcomes, o.Outcomes...)
	s.Uploaded += o.Uploaded
	s.Queued += o.Queued
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.DryRun += o.DryRun
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusUploaded:
		s.Uploaded++
	case StatusQueued:
		s.Queued++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	case StatusDryRun:
		s.DryRun++
	}
}

type Options struct {
	DryRun       bool
	NoPoll       bool
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type Uploader struct {
	sink    Sink
	opts    Options
	ledger  *ledger.Ledger
	journal Journal
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

type Option func(*Uploader)

// WithLedger remembers uploads across runs.
func WithLedger(l *ledger.Ledger) Option {
	return func(u *Uploader) { u.ledger = l }
}

func WithJournal(j Journal) Option {
	return func(u *Uploader) { u.journal = j }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(u *Uploader) { u.metrics = m }
}

func New(sink Sink, logger zerolog.Logger, opts Options, options ...Option) *Uploader {
	u := &Uploader{
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "upload").Logger(),
	}
	for _, o := range options {
		o(u)
	}
	return u
}

// Run processes jobs in order. The ledger is saved before returning, also
// when the batch stops early.
func (u *Uploader) Run(ctx context.Context, jobs []reconcile.UploadJob) (summary *Summary, err error) {
	summary = &Summary{}
	defer func() {
		if saveErr := u.saveLedger(); saveErr != nil && err == nil {
			err = saveErr
		}
	}()

	if len(jobs) == 0 {
		u.logger.Info().Msg("nothing new to upload, all caught up")
		return summary, nil
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		out, err := u.process(ctx, job)
		summary.add(out)
		u.metrics.Upload(string(out.Status))
		if err != nil {
			return summary, err
		}
	}

	u.logger.Info().
		Int("uploaded", summary.Uploaded).
		Int("queued", summary.Queued).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("dry_run", summary.DryRun).
		Msg("upload stage complete")
	return summary, nil
}

// process returns a non-nil error only when the batch must stop.
func (u *Uploader) process(ctx context.Context, job reconcile.UploadJob) (Outcome, error) {
	id := job.Payload.ExternalID
	name := filepath.Base(job.Path)
	out := Outcome{Path: job.Path, ExternalID: id}
	log := u.logger.With().Str("file", name).Str("external_id", id).Logger()

	if u.opts.DryRun {
		log.Info().Interface("payload", job.Payload).Msg("dry run, would POST /uploads")
		out.Status = StatusDryRun
		return out, nil
	}

	var uploadID int64
	if entry, ok := u.lookup(id); ok {
		switch entry.Status {
		case ledger.StatusCompleted:
			log.Info().Int64("activity_id", entry.ActivityID).Msg("already uploaded according to ledger")
			out.Status = StatusSkipped
			out.UploadID = entry.UploadID
			out.ActivityID = entry.ActivityID
			return out, nil
		case ledger.StatusPending:
			log.Info().Int64("upload_id", entry.UploadID).Msg("resuming pending upload")
			uploadID = entry.UploadID
		}
	}

	if uploadID == 0 {
		status, err := u.sink.Upload(ctx, job)
		if status != nil {
			uploadID = status.ID
		}
		out.UploadID = uploadID
		if err != nil {
			return u.fail(ctx, log, out, job, err)
		}
		if status.ActivityID != 0 {
			return u.complete(ctx, log, out, job, status.ActivityID), nil
		}
	}
	out.UploadID = uploadID
	u.markPending(id, job.Path, uploadID)

	if u.opts.NoPoll {
		log.Info().Int64("upload_id", uploadID).Msg("queued, not polling by request")
		out.Status = StatusQueued
		return out, nil
	}

	activityID, err := u.sink.PollUpload(ctx, uploadID, u.opts.PollInterval, u.opts.PollTimeout)
	if err != nil {
		if errors.Is(err, strava.ErrPollTimeout) {
			log.Warn().Err(err).Int64("upload_id", uploadID).Msg("upload still processing, will resume next run")
			out.Status = StatusQueued
			out.Error = err.Error()
			return out, nil
		}
		return u.fail(ctx, log, out, job, err)
	}
	return u.complete(ctx, log, out, job, activityID), nil
}

func (u *Uploader) complete(ctx context.Context, log zerolog.Logger, out Outcome, job reconcile.UploadJob, activityID int64) Outcome {
	out.Status = StatusUploaded
	out.ActivityID = activityID
	if u.ledger != nil {
		u.ledger.MarkCompleted(out.ExternalID, job.Path, out.UploadID, activityID)
	}
	log.Info().Int64("activity_id", activityID).Msg("uploaded")

	if u.journal != nil {
		err := u.journal.Record(ctx, journal.Entry{
			ExternalID:  out.ExternalID,
			ActivityID:  activityID,
			Name:        job.Payload.Name,
			SportType:   string(job.Payload.SportType),
			Description: job.Payload.Description,
			Start:       job.Summary.Start,
			End:         job.Summary.End,
		})
		if err != nil {
			log.Warn().Err(err).Msg("could not record upload in journal")
		}
	}
	return out
}

// fail records a per-job failure. Authentication errors and cancellation
// are returned so that Run stops. A duplicate of an activity posted under
// the same external id means an earlier attempt went through.
func (u *Uploader) fail(ctx context.Context, log zerolog.Logger, out Outcome, job reconcile.UploadJob, err error) (Outcome, error) {
	if activityID, ok := strava.DuplicateActivity(err, out.ExternalID); ok {
		log.Info().Int64("activity_id", activityID).Msg("upload already applied, Strava reports a duplicate")
		return u.complete(ctx, log, out, job, activityID), nil
	}

	out.Status = StatusFailed
	out.Error = err.Error()

	var authErr *strava.AuthenticationError
	if errors.As(err, &authErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("upload aborted")
		return out, err
	}

	if u.ledger != nil {
		u.ledger.MarkFailed(out.ExternalID, job.Path, out.UploadID, err)
	}
	log.Error().Err(err).Msg("FAILED upload")
	return out, nil
}

// ResolvePending polls uploads that an earlier run queued without waiting
// for them, and records the activity they became.
func (u *Uploader) ResolvePending(ctx context.Context) (summary *Summary, err error) {
	summary = &Summary{}
	if u.ledger == nil || u.opts.DryRun || u.opts.NoPoll {
		return summary, nil
	}
	defer func() {
		if saveErr := u.saveLedger(); saveErr != nil && err == nil {
			err = saveErr
		}
	}()

	for _, entry := range u.ledger.Pending() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log := u.logger.With().Str("external_id", entry.ExternalID).Int64("upload_id", entry.UploadID).Logger()
		out := Outcome{Path: entry.File, ExternalID: entry.ExternalID, UploadID: entry.UploadID}

		activityID, err := u.sink.PollUpload(ctx, entry.UploadID, u.opts.PollInterval, u.opts.PollTimeout)
		if dup, ok := strava.DuplicateActivity(err, entry.ExternalID); ok {
			activityID, err = dup, nil
		}
		switch {
		case err == nil:
			u.ledger.MarkCompleted(entry.ExternalID, entry.File, entry.UploadID, activityID)
			out.Status = StatusUploaded
			out.ActivityID = activityID
			log.Info().Int64("activity_id", activityID).Msg("pending upload resolved")
		case errors.Is(err, strava.ErrPollTimeout):
			out.Status = StatusQueued
			out.Error = err.Error()
			log.Warn().Err(err).Msg("pending upload still processing")
		default:
			var authErr *strava.AuthenticationError
			if errors.As(err, &authErr) || ctx.Err() != nil {
				return summary, err
			}
			u.ledger.MarkFailed(entry.ExternalID, entry.File, entry.UploadID, err)
			out.Status = StatusFailed
			out.Error = err.Error()
			log.Error().Err(err).Msg("pending upload failed")
		}
		summary.add(out)
		u.metrics.Upload(string(out.Status))
	}
	return summary, nil
}

func (u *Uploader) lookup(externalID string) (ledger.Entry, bool) {
	if u.ledger == nil {
		return ledger.Entry{}, false
	}
	return u.ledger.Get(externalID)
}

func (u *Uploader) markPending(externalID, file string, uploadID int64) {
	if u.ledger != nil {
		u.ledger.MarkPending(externalID, file, uploadID)
	}
}

func (u *Uploader) saveLedger() error {
	if u.ledger == nil {
		return nil
	}
	return u.ledger.Save()
}
