package stage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/reconcile"
	"github.com/podaac/swodlr-raster-create/internal/retry"
	"github.com/podaac/swodlr-raster-create/internal/sds"
)

// BatchClient submits jobs to the batch system.
type BatchClient interface {
	Submit(ctx context.Context, s sds.Submission) (string, error)
}

// JobSpec names a job type and the queue it runs on.
type JobSpec struct {
	Type  string
	Queue string
}

// SubmitRequest describes one job to submit on behalf of a product.
type SubmitRequest struct {
	Stage     jobset.Stage
	ProductID string
	Metadata  *jobset.Params

	Spec   JobSpec
	Tag    string
	Params map[string]any

	// Lookup resolves the input dataset. nil means the job takes none.
	// Returning jobset.ErrNotFound or a nil dataset fails the job with NotFound.
	Lookup   func(ctx context.Context) (map[string]any, error)
	NotFound string

	PublishOverwriteOK bool
}

// Submitter submits jobs with bounded, fixed-delay retry and reports the
// outcome as a job record.
type Submitter struct {
	client      BatchClient
	maxAttempts int
	delay       time.Duration
	logger      *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(client BatchClient, maxAttempts int, delay time.Duration, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{client: client, maxAttempts: maxAttempts, delay: delay, logger: logger}
}

// Submit resolves the request's dataset and submits the job. Lookup failures
// fail the job at once; submission failures are retried and fail the job only
// once the attempts run out.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) jobset.Job {
	job := jobset.Job{
		Stage:     req.Stage,
		ProductID: req.ProductID,
		Metadata:  req.Metadata,
	}
	logger := s.logger.With("product_id", req.ProductID, "stage", string(req.Stage))

	var dataset map[string]any
	if req.Lookup != nil {
		ds, err := req.Lookup(ctx)
		switch {
		case errors.Is(err, jobset.ErrNotFound) || (err == nil && ds == nil):
			logger.Error("search returned no results", "error", err)
			job.Fail(req.NotFound)
			return job
		case err != nil:
			logger.Error("ES request failed", "error", err)
			job.Fail(jobset.ReasonSearchFailed)
			return job
		}
		dataset = ds
	}

	policy := retry.Fixed(s.maxAttempts, s.delay)
	policy.OnRetry = func(attempt int, err error) {
		logger.Warn("job submission failed", "attempt", attempt, "max_attempts", policy.Attempts(), "error", err)
	}

	var jobID string
	err := policy.Do(ctx, func(attempt int) error {
		id, err := s.client.Submit(ctx, sds.Submission{
			Type:               req.Spec.Type,
			Queue:              req.Spec.Queue,
			Tag:                req.Tag,
			Params:             req.Params,
			Dataset:            dataset,
			PublishOverwriteOK: req.PublishOverwriteOK,
		})
		if err != nil {
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		logger.Error("SDS failed to accept job", "error", err, "max_attempts", policy.Attempts())
		job.Fail(jobset.ReasonSubmitRejected)
		return job
	}

	logger.Info("job submitted", "job_id", jobID, "tag", req.Tag)
	job.JobID = jobID
	job.Status = jobset.StatusQueued
	return job
}

// RasterParams converts rendering parameters to the raster job's form: the grid
// type lower-cased, the extent flag as 0 or 1, and adjustments only when set.
func RasterParams(p jobset.Params) map[string]any {
	extent := 0
	if p.OutputGranuleExtentFlag {
		extent = 1
	}
	out := map[string]any{
		"raster_resolution":          p.RasterResolution,
		"output_sampling_grid_type":  strings.ToLower(p.OutputSamplingGridType),
		"output_granule_extent_flag": extent,
	}
	if p.UTMZoneAdjust != nil {
		out["utm_zone_adjust"] = *p.UTMZoneAdjust
	}
	if p.MGRSBandAdjust != nil {
		out["mgrs_band_adjust"] = *p.MGRSBandAdjust
	}
	return out
}

// Ingester submits preflight ingest jobs for the reconciler.
type Ingester struct {
	Submitter *Submitter
	Spec      JobSpec
}

// Ingest submits one ingest job for g. Duplicate tags are accepted by the
// batch system, so a repeated preflight is harmless.
func (i Ingester) Ingest(ctx context.Context, g reconcile.Granule) jobset.Job {
	return i.Submitter.Submit(ctx, SubmitRequest{
		Stage:              jobset.StagePreflight,
		Spec:               i.Spec,
		Tag:                reconcile.IngestTag(g),
		Params:             reconcile.IngestParams(g),
		PublishOverwriteOK: true,
	})
}
