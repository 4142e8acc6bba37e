package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
)

// Job types and tags of the raster stages.
const (
	EvaluateJobName = "job-SUBMIT_L2_HR_Raster"
	EvaluateTag     = "raster_evaluator_otello_submit"
	RasterJobName   = "job-SCIFLO_L2_HR_Raster"
	RasterTag       = "sciflo_raster_otello_submit"
	IngestJobName   = "job-INGEST_STAGED"

	pixcVecDataset = "SWOT_L2_HR_PIXCVec"
)

// DatasetSearcher finds SDS datasets by id.
type DatasetSearcher interface {
	SearchDataset(ctx context.Context, id string, wildcard bool) (map[string]any, error)
}

// SceneTile is the first left tile of a scene, e.g. scene 3 is 006L.
func SceneTile(scene int) string {
	return fmt.Sprintf("%03dL", scene*2)
}

// PIXCVecPattern is the wildcard id of a scene's PIXCVec granule.
func PIXCVecPattern(p jobset.Params) string {
	return fmt.Sprintf("%s_%03d_%03d_%s_*", pixcVecDataset, p.Cycle, p.Pass, SceneTile(p.Scene))
}

// StateConfigID is the id of the state config written by the evaluate job.
func StateConfigID(p jobset.Params) string {
	return fmt.Sprintf("L2_HR_Raster_%03d_%03d_%03d-state-config", p.Cycle, p.Pass, p.Scene)
}

// RasterJobType is the raster job type pinned to a PCM release.
func RasterJobType(releaseTag string) string {
	return RasterJobName + ":" + releaseTag
}

// SubmitEvaluate submits one evaluation job per input.
type SubmitEvaluate struct {
	validator *jobset.Validator
	submitter *Submitter
	search    DatasetSearcher
	spec      JobSpec
	logger    *slog.Logger
}

// NewSubmitEvaluate creates the submit_evaluate stage.
func NewSubmitEvaluate(v *jobset.Validator, s *Submitter, search DatasetSearcher, spec JobSpec, logger *slog.Logger) *SubmitEvaluate {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitEvaluate{validator: v, submitter: s, search: search, spec: spec, logger: logger}
}

// Handler returns the stage as a Handler.
func (s *SubmitEvaluate) Handler() Handler {
	return jobsetHandler(s.validator, s.Process)
}

// Process replaces the jobs with one evaluation job per input. Each job
// carries the input's parameters forward for the raster stage.
func (s *SubmitEvaluate) Process(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
	out := jobset.Jobset{Inputs: js.Inputs, Jobs: make([]jobset.Job, 0, len(js.Inputs))}

	for _, in := range js.SortedInputs() {
		params := in.Params
		pattern := PIXCVecPattern(params)

		out.Jobs = append(out.Jobs, s.submitter.Submit(ctx, SubmitRequest{
			Stage:     jobset.StageSubmitEvaluate,
			ProductID: in.ProductID,
			Metadata:  &params,
			Spec:      s.spec,
			Tag:       EvaluateTag,
			Lookup: func(ctx context.Context) (map[string]any, error) {
				return s.search.SearchDataset(ctx, pattern, true)
			},
			NotFound: jobset.ReasonSceneNotFound,
		}))
	}
	return out, nil
}

// SubmitRaster submits a raster job for every successful evaluation job.
type SubmitRaster struct {
	validator *jobset.Validator
	submitter *Submitter
	search    DatasetSearcher
	spec      JobSpec
	logger    *slog.Logger
}

// NewSubmitRaster creates the submit_raster stage.
func NewSubmitRaster(v *jobset.Validator, s *Submitter, search DatasetSearcher, spec JobSpec, logger *slog.Logger) *SubmitRaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitRaster{validator: v, submitter: s, search: search, spec: spec, logger: logger}
}

// Handler returns the stage as a Handler.
func (s *SubmitRaster) Handler() Handler {
	return jobsetHandler(s.validator, s.Process)
}

// Process maps each job to a raster job. Jobs that did not succeed pass
// through unchanged.
func (s *SubmitRaster) Process(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
	out := jobset.Jobset{Inputs: js.Inputs, Jobs: make([]jobset.Job, 0, len(js.Jobs))}

	for _, job := range js.Jobs {
		if !job.Status.IsSuccess() {
			s.logger.Debug("passing through job", "product_id", job.ProductID, "job_status", string(job.Status))
			out.Jobs = append(out.Jobs, job)
			continue
		}

		params, ok := metadataFor(js, job)
		if !ok {
			return jobset.Jobset{}, fmt.Errorf("%w: job %s has no metadata or input", jobset.ErrSchemaViolation, job.ProductID)
		}
		id := StateConfigID(params)

		out.Jobs = append(out.Jobs, s.submitter.Submit(ctx, SubmitRequest{
			Stage:     jobset.StageSubmitRaster,
			ProductID: job.ProductID,
			Metadata:  &params,
			Spec:      s.spec,
			Tag:       RasterTag,
			Params:    RasterParams(params),
			Lookup: func(ctx context.Context) (map[string]any, error) {
				return s.search.SearchDataset(ctx, id, false)
			},
			NotFound: jobset.ReasonStateConfigNotFound,
		}))
	}
	return out, nil
}
