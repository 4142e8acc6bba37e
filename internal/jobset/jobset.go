// Package jobset defines the data contract threaded through every pipeline stage.
package jobset

import (
	"slices"
	"sort"
)

// Stage names a job-producing pipeline stage.
type Stage string

const (
	StagePreflight      Stage = "preflight"
	StageSubmitEvaluate Stage = "submit_evaluate"
	StageSubmitRaster   Stage = "submit_raster"
)

// Params are the observation key and rendering parameters of a request.
// They travel on Inputs and are carried over on Job metadata.
type Params struct {
	Cycle                   int    `json:"cycle"`
	Pass                    int    `json:"pass"`
	Scene                   int    `json:"scene"`
	RasterResolution        int    `json:"raster_resolution"`
	OutputSamplingGridType  string `json:"output_sampling_grid_type"`
	OutputGranuleExtentFlag bool   `json:"output_granule_extent_flag"`
	UTMZoneAdjust           *int   `json:"utm_zone_adjust,omitempty"`
	MGRSBandAdjust          *int   `json:"mgrs_band_adjust,omitempty"`
}

// Input is one user request. Immutable once created.
type Input struct {
	ProductID string `json:"product_id"`
	Params
}

// Job is one stage's processing record for a product.
type Job struct {
	Stage     Stage    `json:"stage"`
	ProductID string   `json:"product_id"`
	JobID     string   `json:"job_id,omitempty"`
	Status    Status   `json:"job_status"`
	Errors    []string `json:"errors,omitempty"`
	Metadata  *Params  `json:"metadata,omitempty"`
	Traceback string   `json:"traceback,omitempty"`
	Granules  []string `json:"granules,omitempty"`
}

// Fail marks the job failed with the given reasons.
func (j *Job) Fail(reasons ...string) {
	j.Status = StatusFailed
	j.Errors = append(j.Errors, reasons...)
}

// Jobset is the unit of exchange between stages.
// Waiting is serialized only when true; its absence is meaningful.
type Jobset struct {
	Inputs  map[string]Input `json:"inputs"`
	Jobs    []Job            `json:"jobs"`
	Waiting bool             `json:"waiting,omitempty"`
}

// New creates an empty jobset.
func New() Jobset {
	return Jobset{
		Inputs: make(map[string]Input),
		Jobs:   []Job{},
	}
}

// AddInput registers an input under its product id.
func (js *Jobset) AddInput(in Input) {
	if js.Inputs == nil {
		js.Inputs = make(map[string]Input)
	}
	js.Inputs[in.ProductID] = in
}

// SortedInputs returns inputs ordered by product id.
func (js Jobset) SortedInputs() []Input {
	ids := make([]string, 0, len(js.Inputs))
	for id := range js.Inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Input, 0, len(ids))
	for _, id := range ids {
		out = append(out, js.Inputs[id])
	}
	return out
}

// HasWaiting reports whether any job is in a waiting status.
func (js Jobset) HasWaiting() bool {
	return slices.ContainsFunc(js.Jobs, func(j Job) bool {
		return j.Status.IsWaiting()
	})
}

// RecomputeWaiting sets Waiting from the job statuses.
func (js *Jobset) RecomputeWaiting() {
	js.Waiting = js.HasWaiting()
}

// normalize replaces nil collections so they serialize as empty values.
func (js *Jobset) normalize() {
	if js.Inputs == nil {
		js.Inputs = make(map[string]Input)
	}
	if js.Jobs == nil {
		js.Jobs = []Job{}
	}
}
