package stage

import (
	"context"
	"log/slog"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/sds"
)

// TimedOutTag marks an offline job the batch system gave up on.
const TimedOutTag = "timedout"

// JobInfoer fetches job status records.
type JobInfoer interface {
	JobInfo(ctx context.Context, id string) (sds.JobInfo, error)
}

// WaitForComplete refreshes the status of every waiting job.
type WaitForComplete struct {
	validator *jobset.Validator
	sds       JobInfoer
	logger    *slog.Logger
}

// NewWaitForComplete creates the wait_for_complete stage.
func NewWaitForComplete(v *jobset.Validator, client JobInfoer, logger *slog.Logger) *WaitForComplete {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaitForComplete{validator: v, sds: client, logger: logger}
}

// Handler returns the stage as a Handler.
func (w *WaitForComplete) Handler() Handler {
	return jobsetHandler(w.validator, w.Process)
}

// MapStatus maps a batch system status to a job status. An offline job tagged
// timedout becomes job-timedout.
func MapStatus(info sds.JobInfo) jobset.Status {
	status := jobset.Status(info.Status)
	if status == jobset.StatusOffline && info.HasTag(TimedOutTag) {
		return jobset.StatusTimedOut
	}
	return status
}

// Process queries the batch system for each waiting job. Terminal jobs are not
// queried. A failed query leaves the job as it was, still waiting.
func (w *WaitForComplete) Process(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
	for i := range js.Jobs {
		job := &js.Jobs[i]
		logger := w.logger.With("product_id", job.ProductID, "job_id", job.JobID)

		if job.Status.IsTerminal() {
			logger.Debug("skipping job", "job_status", string(job.Status))
			continue
		}

		info, err := w.sds.JobInfo(ctx, job.JobID)
		if err != nil {
			logger.Error("failed to get job info", "error", err)
			continue
		}

		status := MapStatus(info)
		if !status.Known() {
			logger.Warn("unrecognized job status; keeping previous", "sds_status", info.Status, "job_status", string(job.Status))
		} else {
			job.Status = status
		}

		if info.Traceback != nil {
			job.Traceback = *info.Traceback
			job.Errors = []string{jobset.ReasonSDSError}
		}

		switch {
		case job.Status.IsWaiting():
			logger.Info("waiting on job", "job_status", string(job.Status))
		case job.Status.IsSuccess():
			w.logMetrics(job, js.Inputs[job.ProductID], info.Timing())
		default:
			logger.Warn("job failed", "job_status", string(job.Status))
		}
	}
	return js, nil
}

func (w *WaitForComplete) logMetrics(job *jobset.Job, in jobset.Input, timing sds.Timing) {
	w.logger.Info("job metrics",
		"stage", string(job.Stage),
		"product_id", job.ProductID,
		"job_id", job.JobID,
		"input", in,
		"time_queued", timing.TimeQueued,
		"time_start", timing.TimeStart,
		"time_end", timing.TimeEnd,
	)
}
