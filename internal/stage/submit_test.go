package stage

import (
	"context"
	"testing"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaming(t *testing.T) {
	assert.Equal(t, "006L", SceneTile(3))
	assert.Equal(t, "120L", SceneTile(60))

	p := testParams()
	assert.Equal(t, "SWOT_L2_HR_PIXCVec_001_002_006L_*", PIXCVecPattern(p))
	assert.Equal(t, "L2_HR_Raster_001_002_003-state-config", StateConfigID(p))
	assert.Equal(t, "job-SCIFLO_L2_HR_Raster:v1.2", RasterJobType("v1.2"))
}

func TestSubmitEvaluate(t *testing.T) {
	search := &fakeSearch{docs: map[string]map[string]any{
		PIXCVecPattern(testParams()): {"id": "SWOT_L2_HR_PIXCVec_001_002_006L_x"},
	}}
	batch := &fakeBatch{jobID: "eval-1"}
	spec := JobSpec{Type: EvaluateJobName + ":v1", Queue: "eval-q"}
	s := NewSubmitEvaluate(jobset.MustValidator(), NewSubmitter(batch, 3, 0, nil), search, spec, nil)

	in := testJobset(jobset.Job{Stage: jobset.StagePreflight, ProductID: productID, JobID: "ingest", Status: jobset.StatusCompleted})
	out, err := s.Handler().Run(context.Background(), mustJSON(t, in))
	require.NoError(t, err)

	js := out.(jobset.Jobset)
	require.Len(t, js.Jobs, 1, "preflight jobs are replaced")
	job := js.Jobs[0]
	assert.Equal(t, jobset.StageSubmitEvaluate, job.Stage)
	assert.Equal(t, "eval-1", job.JobID)
	assert.Equal(t, jobset.StatusQueued, job.Status)
	require.NotNil(t, job.Metadata)
	assert.Equal(t, testParams(), *job.Metadata)
	assert.True(t, js.Waiting)

	assert.Equal(t, []bool{true}, search.wildcard)
	require.Len(t, batch.subs, 1)
	assert.Equal(t, EvaluateTag, batch.subs[0].Tag)
	assert.Equal(t, "eval-q", batch.subs[0].Queue)
}

func TestSubmitEvaluateSceneNotFound(t *testing.T) {
	batch := &fakeBatch{}
	s := NewSubmitEvaluate(jobset.MustValidator(), NewSubmitter(batch, 3, 0, nil), &fakeSearch{}, JobSpec{}, nil)

	js, err := s.Process(context.Background(), testJobset())
	require.NoError(t, err)

	require.Len(t, js.Jobs, 1)
	assert.Equal(t, jobset.StatusFailed, js.Jobs[0].Status)
	assert.Equal(t, []string{jobset.ReasonSceneNotFound}, js.Jobs[0].Errors)
	assert.Empty(t, batch.subs)
}

func TestSubmitRaster(t *testing.T) {
	params := testParams()
	search := &fakeSearch{docs: map[string]map[string]any{
		StateConfigID(params): {"id": StateConfigID(params)},
	}}
	batch := &fakeBatch{jobID: "raster-1"}
	spec := JobSpec{Type: RasterJobType("v1"), Queue: "raster-q"}
	s := NewSubmitRaster(jobset.MustValidator(), NewSubmitter(batch, 3, 0, nil), search, spec, nil)

	in := testJobset(jobset.Job{
		Stage: jobset.StageSubmitEvaluate, ProductID: productID, JobID: "eval-1",
		Status: jobset.StatusCompleted, Metadata: &params,
	})
	out, err := s.Handler().Run(context.Background(), mustJSON(t, in))
	require.NoError(t, err)

	js := out.(jobset.Jobset)
	require.Len(t, js.Jobs, 1)
	job := js.Jobs[0]
	assert.Equal(t, jobset.StageSubmitRaster, job.Stage)
	assert.Equal(t, "raster-1", job.JobID)
	assert.Equal(t, jobset.StatusQueued, job.Status)

	assert.Equal(t, []bool{false}, search.wildcard)
	require.Len(t, batch.subs, 1)
	sub := batch.subs[0]
	assert.Equal(t, RasterTag, sub.Tag)
	assert.Equal(t, RasterParams(params), sub.Params)
	assert.Equal(t, StateConfigID(params), sub.Dataset["id"])
}

func TestSubmitRasterPassesFailuresThrough(t *testing.T) {
	batch := &fakeBatch{}
	s := NewSubmitRaster(jobset.MustValidator(), NewSubmitter(batch, 3, 0, nil), &fakeSearch{}, JobSpec{}, nil)

	failed := jobset.Job{Stage: jobset.StageSubmitEvaluate, ProductID: productID, JobID: "eval-1", Status: jobset.StatusFailed, Errors: []string{"x"}}
	js, err := s.Process(context.Background(), testJobset(failed))
	require.NoError(t, err)

	assert.Equal(t, []jobset.Job{failed}, js.Jobs)
	assert.Empty(t, batch.subs)
}

func TestSubmitRasterStateConfigMissing(t *testing.T) {
	s := NewSubmitRaster(jobset.MustValidator(), NewSubmitter(&fakeBatch{}, 3, 0, nil), &fakeSearch{}, JobSpec{}, nil)

	done := jobset.Job{Stage: jobset.StageSubmitEvaluate, ProductID: productID, JobID: "eval-1", Status: jobset.StatusCompleted}
	js, err := s.Process(context.Background(), testJobset(done))
	require.NoError(t, err)

	require.Len(t, js.Jobs, 1)
	assert.Equal(t, jobset.StatusFailed, js.Jobs[0].Status)
	assert.Equal(t, []string{jobset.ReasonStateConfigNotFound}, js.Jobs[0].Errors)
	require.NotNil(t, js.Jobs[0].Metadata, "metadata falls back to the input")
	assert.Equal(t, 3, js.Jobs[0].Metadata.Scene)
}
