package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/reconcile"
)

// SceneReconciler repairs the index for one input.
type SceneReconciler interface {
	Reconcile(ctx context.Context, in jobset.Input) (reconcile.Diff, []jobset.Job)
}

// Preflight turns queued requests into a jobset, first making sure the SDS
// holds exactly the catalog's granules for each requested scene.
type Preflight struct {
	validator  *jobset.Validator
	reconciler SceneReconciler
	logger     *slog.Logger
}

// NewPreflight creates the preflight stage.
func NewPreflight(v *jobset.Validator, r SceneReconciler, logger *slog.Logger) *Preflight {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preflight{validator: v, reconciler: r, logger: logger}
}

// Run decodes an SQS event and handles it.
func (p *Preflight) Run(ctx context.Context, payload json.RawMessage) (any, error) {
	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: decode sqs event: %w", jobset.ErrSchemaViolation, err)
	}
	return p.Handle(ctx, event)
}

// Handle validates every record as an input and reconciles its scene. An
// invalid record aborts the invocation.
func (p *Preflight) Handle(ctx context.Context, event events.SQSEvent) (jobset.Jobset, error) {
	p.logger.Debug("records received", "count", len(event.Records))

	js := jobset.New()
	for _, record := range event.Records {
		in, err := p.validator.ValidateInput([]byte(record.Body))
		if err != nil {
			return jobset.Jobset{}, fmt.Errorf("record %s: %w", record.MessageId, err)
		}
		js.AddInput(in)
	}

	for _, in := range js.SortedInputs() {
		_, jobs := p.reconciler.Reconcile(ctx, in)
		js.Jobs = append(js.Jobs, jobs...)
	}

	return finish(p.validator, js)
}
