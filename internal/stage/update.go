package stage

import (
	"context"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
)

// JobsetDispatcher delivers a jobset's jobs downstream.
type JobsetDispatcher interface {
	Dispatch(ctx context.Context, js jobset.Jobset) error
}

// Update sends one message per job and returns the jobset unchanged. It backs
// both notify_update (topic) and queue_update (queue).
type Update struct {
	validator  *jobset.Validator
	dispatcher JobsetDispatcher
}

// NewUpdate creates an update stage.
func NewUpdate(v *jobset.Validator, d JobsetDispatcher) *Update {
	return &Update{validator: v, dispatcher: d}
}

// Handler returns the stage as a Handler.
func (u *Update) Handler() Handler {
	return jobsetHandler(u.validator, u.Process)
}

// Process dispatches js. Undeliverable messages fail the invocation.
func (u *Update) Process(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
	if err := u.dispatcher.Dispatch(ctx, js); err != nil {
		return jobset.Jobset{}, err
	}
	return js, nil
}
