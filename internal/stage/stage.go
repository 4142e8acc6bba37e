// Package stage implements the pipeline stages. Each stage is invoked with the
// previous stage's output and returns the next jobset.
package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
)

// Stage names as used by the orchestrator and the CLI.
const (
	NamePreflight       = "preflight"
	NameSubmitEvaluate  = "submit_evaluate"
	NameSubmitRaster    = "submit_raster"
	NameWaitForComplete = "wait_for_complete"
	NamePublishData     = "publish_data"
	NameNotifyUpdate    = "notify_update"
	NameQueueUpdate     = "queue_update"
	NameBootstrap       = "bootstrap"
)

// Descriptions are one-line summaries of every stage, keyed by name.
var Descriptions = map[string]string{
	NamePreflight:       "reconcile the SDS index with CMR and ingest missing granules",
	NameSubmitEvaluate:  "submit a raster evaluation job per input",
	NameSubmitRaster:    "submit a raster job per evaluated product",
	NameWaitForComplete: "refresh job statuses from the SDS",
	NamePublishData:     "copy generated granules to the publication bucket",
	NameNotifyUpdate:    "publish one update per job to the update topic",
	NameQueueUpdate:     "send one update per job to the update queue",
	NameBootstrap:       "start a state machine execution with the event",
}

// Names returns every stage name in pipeline order.
func Names() []string {
	return []string{
		NameBootstrap, NamePreflight, NameSubmitEvaluate, NameSubmitRaster,
		NameWaitForComplete, NamePublishData, NameNotifyUpdate, NameQueueUpdate,
	}
}

// Handler runs one stage invocation on a raw event.
type Handler interface {
	Run(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// JobsetFunc transforms a validated jobset.
type JobsetFunc func(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error)

// jobsetHandler validates the inbound jobset, applies fn, recomputes the
// waiting flag and validates the result.
func jobsetHandler(v *jobset.Validator, fn JobsetFunc) Handler {
	return HandlerFunc(func(ctx context.Context, payload json.RawMessage) (any, error) {
		in, err := v.ValidateJobset(payload)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return finish(v, out)
	})
}

// finish sets the waiting flag and checks the outbound jobset.
func finish(v *jobset.Validator, js jobset.Jobset) (jobset.Jobset, error) {
	js.RecomputeWaiting()
	out, err := v.Check(js)
	if err != nil {
		return jobset.Jobset{}, fmt.Errorf("outbound jobset: %w", err)
	}
	return out, nil
}

// metadataFor returns the rendering parameters of a job, falling back to its input.
func metadataFor(js jobset.Jobset, job jobset.Job) (jobset.Params, bool) {
	if job.Metadata != nil {
		return *job.Metadata, true
	}
	if in, ok := js.Inputs[job.ProductID]; ok {
		return in.Params, true
	}
	return jobset.Params{}, false
}
