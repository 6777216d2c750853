package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAborted is returned by the Writer when a job fails and abort-on-first-error is set.
var ErrAborted = errors.New("aborted on first error")

// DryRunIDPrefix prefixes the placeholder ids of records created during a dry run.
const DryRunIDPrefix = "dryrun_"

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Job is one write against the destination. A job with a SkipReason is recorded as skipped
// without calling the API.
type Job struct {
	Key        string
	Op         Op
	Path       string
	Payload    closeio.Record
	Input      any
	SkipReason string
	// Tolerate turns matching errors into a skipped outcome.
	Tolerate func(err error) bool
}

type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusErrored Status = "errored"
)

type Outcome struct {
	Job    Job
	Status Status
	// Result is the record returned by the API, or the would-be record in a dry run.
	Result closeio.Record
	Err    error
	DryRun bool
}

// Message is the error text of an errored outcome, the skip reason of a skipped one.
// API errors are reduced to the message the server sent.
func (o Outcome) Message() string {
	switch {
	case o.Err != nil:
		var apiErr *closeio.APIError
		if errors.As(o.Err, &apiErr) && apiErr.Message != "" {
			return apiErr.Message
		}
		return o.Err.Error()
	case o.Status == StatusSkipped:
		return o.Job.SkipReason
	}
	return ""
}

// Writer replays jobs against the destination. It runs dry unless Confirmed.
type Writer struct {
	dest         Mutator
	dryRun       bool
	abortOnError bool
	concurrency  int
	summary      *Summary
	log          *zap.Logger
}

type WriterOpt func(w *Writer)

// Confirmed makes the writer issue the write calls.
func Confirmed(confirmed bool) WriterOpt {
	return func(w *Writer) {
		w.dryRun = !confirmed
	}
}

// AbortOnError stops the batch at the first errored job. Jobs then run one at a time.
func AbortOnError(abort bool) WriterOpt {
	return func(w *Writer) {
		w.abortOnError = abort
	}
}

func WriterConcurrency(n int) WriterOpt {
	return func(w *Writer) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WriterLogger(log *zap.Logger) WriterOpt {
	return func(w *Writer) {
		w.log = log.Named("writer")
	}
}

func NewWriter(dest Mutator, opts ...WriterOpt) *Writer {
	w := &Writer{
		dest:        dest,
		dryRun:      true,
		concurrency: 1,
		summary:     NewSummary(),
		log:         zap.NewNop(),
	}
	for _, optFn := range opts {
		optFn(w)
	}
	w.log = w.log.With(zap.Bool("dry_run", w.dryRun))
	return w
}

func (w *Writer) DryRun() bool {
	return w.dryRun
}

func (w *Writer) Summary() *Summary {
	return w.summary
}

// Record adds an outcome produced outside the writer, e.g. a row rejected by validation.
// It returns ErrAborted if the outcome is errored and abort-on-first-error is set.
func (w *Writer) Record(o Outcome) error {
	o.DryRun = w.dryRun
	w.summary.Add(o)
	if o.Status == StatusErrored {
		w.log.Error("job failed", zap.String("key", o.Job.Key), zap.Error(o.Err))
		if w.abortOnError {
			return fmt.Errorf("%w: %s: %w", ErrAborted, o.Job.Key, o.Err)
		}
	}
	return nil
}

// Write runs one job. A failed call is recorded as an errored outcome; the returned error is
// only set when the writer aborts on the first error.
func (w *Writer) Write(ctx context.Context, job Job) (Outcome, error) {
	o := w.run(ctx, job)
	w.summary.Add(o)

	log := w.log.With(zap.String("key", job.Key), zap.String("path", job.Path))
	switch o.Status {
	case StatusErrored:
		log.Error("job failed", zap.String("op", string(job.Op)), zap.Error(o.Err))
		if w.abortOnError {
			return o, fmt.Errorf("%w: %s: %w", ErrAborted, job.Key, o.Err)
		}
	case StatusSkipped:
		log.Info("job skipped", zap.String("reason", o.Job.SkipReason))
	default:
		log.Info("job done", zap.String("status", string(o.Status)), zap.String("id", o.Result.ID()))
	}
	return o, nil
}

func (w *Writer) run(ctx context.Context, job Job) Outcome {
	o := Outcome{Job: job, DryRun: w.dryRun}
	if job.SkipReason != "" {
		o.Status = StatusSkipped
		return o
	}

	var status Status
	switch job.Op {
	case OpCreate:
		status = StatusCreated
	case OpUpdate:
		status = StatusUpdated
	default:
		o.Status = StatusErrored
		o.Err = fmt.Errorf("unknown op %q", job.Op)
		return o
	}

	if w.dryRun {
		o.Status = status
		o.Result = job.Payload.Clone()
		if o.Result == nil {
			o.Result = closeio.Record{}
		}
		if job.Op == OpCreate {
			o.Result["id"] = DryRunIDPrefix + uuid.NewString()
		}
		return o
	}

	var (
		res closeio.Record
		err error
	)
	if job.Op == OpCreate {
		res, err = w.dest.Create(ctx, job.Path, job.Payload)
	} else {
		res, err = w.dest.Update(ctx, job.Path, job.Payload)
	}
	if err != nil {
		if job.Tolerate != nil && job.Tolerate(err) {
			o.Status = StatusSkipped
			o.Job.SkipReason = err.Error()
			return o
		}
		o.Status = StatusErrored
		o.Err = err
		return o
	}
	o.Status = status
	o.Result = res
	return o
}

// WriteAll runs jobs and returns their outcomes in job order. Jobs run one at a time when
// abort-on-first-error is set or concurrency is 1, otherwise on the bounded pool.
func (w *Writer) WriteAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	if w.abortOnError || w.concurrency <= 1 {
		out := make([]Outcome, 0, len(jobs))
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			o, err := w.Write(ctx, job)
			out = append(out, o)
			if err != nil {
				return out, err
			}
		}
		return out, nil
	}

	out := make([]Outcome, len(jobs))
	err := ForEach(ctx, jobs, w.concurrency, func(ctx context.Context, i int, job Job) error {
		out[i], _ = w.Write(ctx, job)
		return nil
	})
	return out, err
}
