package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	inputs []jobset.Input
	jobs   map[string][]jobset.Job
}

func (f *fakeReconciler) Reconcile(_ context.Context, in jobset.Input) (reconcile.Diff, []jobset.Job) {
	f.inputs = append(f.inputs, in)
	return reconcile.Diff{}, f.jobs[in.ProductID]
}

func inputBody(t *testing.T, id string, scene int) string {
	t.Helper()
	p := testParams()
	p.Scene = scene
	return string(mustJSON(t, jobset.Input{ProductID: id, Params: p}))
}

func TestPreflightBuildsJobset(t *testing.T) {
	rec := &fakeReconciler{jobs: map[string][]jobset.Job{
		"b": {{Stage: jobset.StagePreflight, ProductID: "b", JobID: "ingest-1", Status: jobset.StatusQueued}},
	}}
	p := NewPreflight(jobset.MustValidator(), rec, nil)

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: inputBody(t, "b", 4)},
		{MessageId: "m2", Body: inputBody(t, "a", 3)},
	}}

	out, err := p.Run(context.Background(), mustJSON(t, event))
	require.NoError(t, err)

	js := out.(jobset.Jobset)
	assert.Len(t, js.Inputs, 2)
	assert.Equal(t, 4, js.Inputs["b"].Scene)
	require.Len(t, js.Jobs, 1)
	assert.Equal(t, "ingest-1", js.Jobs[0].JobID)
	assert.True(t, js.Waiting)

	require.Len(t, rec.inputs, 2)
	assert.Equal(t, "a", rec.inputs[0].ProductID, "inputs reconcile in product id order")
}

func TestPreflightNothingToIngest(t *testing.T) {
	p := NewPreflight(jobset.MustValidator(), &fakeReconciler{}, nil)

	js, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: inputBody(t, "a", 3)},
	}})
	require.NoError(t, err)

	assert.Empty(t, js.Jobs)
	assert.False(t, js.Waiting)
	raw, err := json.Marshal(js)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputs": {"a": `+inputBody(t, "a", 3)+`}, "jobs": []}`, string(raw))
}

func TestPreflightInvalidRecordAborts(t *testing.T) {
	rec := &fakeReconciler{}
	p := NewPreflight(jobset.MustValidator(), rec, nil)

	_, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: inputBody(t, "a", 3)},
		{MessageId: "m2", Body: `{"product_id": "b", "cycle": 1}`},
	}})

	require.ErrorIs(t, err, jobset.ErrSchemaViolation)
	assert.Contains(t, err.Error(), "m2")
	assert.Empty(t, rec.inputs, "nothing is reconciled when a record is invalid")
}

func TestPreflightRejectsMalformedEvent(t *testing.T) {
	p := NewPreflight(jobset.MustValidator(), &fakeReconciler{}, nil)

	_, err := p.Run(context.Background(), json.RawMessage(`{"Records": "nope"}`))
	require.ErrorIs(t, err, jobset.ErrSchemaViolation)
}
