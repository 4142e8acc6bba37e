package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-chi/chi/v5"
	"github.com/podaac/swodlr-raster-create/internal/config"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/podaac/swodlr-raster-create/internal/params"
	"github.com/podaac/swodlr-raster-create/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": result})
}

// fakeMozart serves job specs and queues and counts spec lookups.
func fakeMozart(t *testing.T, specLookups *int) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/mozart/api/v0.1", func(r chi.Router) {
		r.Get("/job_spec/list", func(w http.ResponseWriter, _ *http.Request) {
			*specLookups++
			writeResult(w, []string{
				"job-SUBMIT_L2_HR_Raster:1.2.0",
				"job-SUBMIT_L2_HR_Raster:1.10.0",
				"job-INGEST_STAGED:develop",
			})
		})
		r.Get("/queue/list", func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, map[string]any{
				"queues":      []string{"q-any"},
				"recommended": []string{"q-" + r.URL.Query().Get("id")},
			})
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(host string) config.Config {
	return config.Load(params.Map{
		"sds_host":            host,
		"sds_username":        "user",
		"sds_password":        "pass",
		"sds_pcm_release_tag": "v2.0",
		"publish_bucket":      "public",
		"update_topic_arn":    "arn:aws:sns:topic",
		"update_queue_url":    "https://sqs/queue",
		"stepfunction_arn":    "arn:aws:states:machine",
	})
}

func newTestApp(cfg config.Config) *App {
	return New(cfg, nil, metrics.NewCollector(), WithAWSConfig(aws.Config{Region: "us-west-2"}))
}

func TestHandlerBuildsEveryStage(t *testing.T) {
	var lookups int
	srv := fakeMozart(t, &lookups)
	cfg := testConfig(srv.URL)
	cfg.CMRGraphQLEndpoint = srv.URL + "/graphql"
	cfg.PIXCConceptID = "C1"
	cfg.PIXCVecConceptID = "C2"
	cfg.XDFOrbitConceptID = "C3"
	a := newTestApp(cfg)

	for _, name := range stage.Names() {
		h, err := a.Handler(context.Background(), name)
		require.NoError(t, err, name)
		assert.NotNil(t, h, name)
	}
}

func TestHandlerCachesStages(t *testing.T) {
	var lookups int
	srv := fakeMozart(t, &lookups)
	a := newTestApp(testConfig(srv.URL))

	first, err := a.Handler(context.Background(), stage.NameSubmitEvaluate)
	require.NoError(t, err)
	second, err := a.Handler(context.Background(), stage.NameSubmitEvaluate)
	require.NoError(t, err)

	assert.Equal(t, 1, lookups, "job type is resolved once per process")
	assert.NotNil(t, first)
	assert.NotNil(t, second)
}

func TestHandlerUnknownStage(t *testing.T) {
	a := newTestApp(testConfig("http://localhost"))

	_, err := a.Handler(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
	assert.Contains(t, err.Error(), stage.NameWaitForComplete)
}

func TestHandlerMissingParameters(t *testing.T) {
	a := newTestApp(config.Load(params.Map{}))

	_, err := a.Handler(context.Background(), stage.NameWaitForComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sds_host")

	_, err = a.Handler(context.Background(), stage.NamePreflight)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cmr_graphql_endpoint")

	_, err = a.Handler(context.Background(), stage.NameBootstrap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepfunction_arn")
}

func TestHandlerUnknownJobType(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/mozart/api/v0.1/job_spec/list", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, []string{"job-other:1.0"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestApp(testConfig(srv.URL))
	_, err := a.Handler(context.Background(), stage.NameSubmitEvaluate)
	require.ErrorIs(t, err, jobset.ErrNotFound)
}

func TestWaitForCompleteRoundTrip(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/mozart/api/v0.1/job/info", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1", r.URL.Query().Get("id"))
		writeResult(w, map[string]any{"status": "job-completed", "tags": []string{}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := newTestApp(testConfig(srv.URL))
	h, err := a.Handler(context.Background(), stage.NameWaitForComplete)
	require.NoError(t, err)

	in := `{
		"inputs": {"p": {"product_id": "p", "cycle": 1, "pass": 2, "scene": 3, "raster_resolution": 100,
			"output_sampling_grid_type": "UTM", "output_granule_extent_flag": false}},
		"jobs": [{"stage": "submit_raster", "product_id": "p", "job_id": "job-1", "job_status": "job-started"}],
		"waiting": true
	}`
	out, err := h.Run(context.Background(), json.RawMessage(in))
	require.NoError(t, err)

	js := out.(jobset.Jobset)
	assert.Equal(t, jobset.StatusCompleted, js.Jobs[0].Status)
	assert.False(t, js.Waiting)
}

func TestSubmitterWaitsBetweenAttempts(t *testing.T) {
	var submits int
	r := chi.NewRouter()
	r.Post("/mozart/api/v0.1/job/submit", func(w http.ResponseWriter, _ *http.Request) {
		submits++
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "boom"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SubmitMaxAttempts = 3
	cfg.SubmitTimeout = 50 * time.Millisecond
	a := newTestApp(cfg)

	client, err := a.sdsClient()
	require.NoError(t, err)

	start := time.Now()
	job := a.submitter(client).Submit(context.Background(), stage.SubmitRequest{
		Stage:     jobset.StagePreflight,
		ProductID: "p",
		Spec:      stage.JobSpec{Type: "job-INGEST_STAGED:1.0", Queue: "q"},
	})

	assert.Equal(t, 3, submits)
	assert.Equal(t, jobset.StatusFailed, job.Status)
	assert.Equal(t, []string{jobset.ReasonSubmitRejected}, job.Errors)
	assert.GreaterOrEqual(t, time.Since(start), 2*cfg.SubmitTimeout)
}
