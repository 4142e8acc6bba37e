// Package dispatch delivers one update message per job to a topic or queue,
// retrying partial batch failures.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/podaac/swodlr-raster-create/internal/retry"
	"github.com/samber/lo"
)

// Message is one outbound update.
type Message struct {
	ID   string
	Body string
}

// Failure is one rejected message of a batch.
type Failure struct {
	ID          string
	Code        string
	SenderFault bool
	Message     string
}

// BatchResult partitions a batch into delivered and rejected messages.
type BatchResult struct {
	Successful []string
	Failed     []Failure
}

// Sink sends a batch of messages with per-message outcomes.
type Sink interface {
	SendBatch(ctx context.Context, msgs []Message) (BatchResult, error)
}

// errPending marks an attempt that left retryable messages behind.
var errPending = errors.New("messages pending")

// Dispatcher delivers a jobset's jobs to a Sink.
type Dispatcher struct {
	sink    Sink
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Dispatcher making up to maxAttempts batch calls per jobset.
func New(sink Sink, maxAttempts int, logger *slog.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:    sink,
		policy:  retry.Fixed(maxAttempts, 0),
		logger:  logger,
		metrics: m,
	}
}

// WithDelay sets the pause between attempts.
func (d *Dispatcher) WithDelay(delay time.Duration) *Dispatcher {
	d.policy.Delay = delay
	return d
}

// Messages builds one message per job keyed by product id. For repeated
// product ids the last job wins.
func Messages(js jobset.Jobset) (map[string]Message, error) {
	out := make(map[string]Message, len(js.Jobs))
	for _, job := range js.Jobs {
		body, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job %s: %w", job.ProductID, err)
		}
		out[job.ProductID] = Message{ID: job.ProductID, Body: string(body)}
	}
	return out, nil
}

// Dispatch sends every job of js. Messages rejected for a sender fault are
// dropped and logged. If retryable messages remain once the attempts run out,
// the returned error wraps retry.ErrExhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, js jobset.Jobset) error {
	pending, err := Messages(js)
	if err != nil {
		return err
	}
	if dupes := len(js.Jobs) - len(pending); dupes > 0 {
		d.logger.Warn("duplicate product ids in jobset; sending last job per product", "duplicates", dupes)
	}
	if len(pending) == 0 {
		return nil
	}

	attempts := d.policy.Attempts()
	err = d.policy.Do(ctx, func(attempt int) error {
		d.logger.Debug("sending updates", "attempt", attempt, "max_attempts", attempts, "pending", len(pending))
		return d.send(ctx, pending)
	})
	if err != nil {
		d.logger.Error("failed to send update messages", "remaining", len(pending), "error", err)
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("send %d update messages: %w", len(pending), err)
		}
		return err
	}
	return nil
}

// send makes one batch call and removes settled messages from pending.
func (d *Dispatcher) send(ctx context.Context, pending map[string]Message) (err error) {
	defer func(start time.Time) { d.metrics.Track(metrics.OpDispatch, start, err) }(time.Now())

	batch := lo.Values(pending)
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	res, err := d.sink.SendBatch(ctx, batch)
	if err != nil {
		d.logger.Warn("batch send failed", "error", err, "pending", len(pending))
		return fmt.Errorf("%w: %w", jobset.ErrTransport, err)
	}

	for _, id := range res.Successful {
		delete(pending, id)
	}
	for _, f := range res.Failed {
		d.logger.Error("failed to send update",
			"id", f.ID, "code", f.Code, "message", lo.Ternary(f.Message == "", "-", f.Message),
			"sender_fault", f.SenderFault,
		)
		if f.SenderFault {
			// Resending cannot fix it.
			delete(pending, f.ID)
		}
	}

	if len(pending) > 0 {
		d.logger.Warn("remaining messages in queue", "remaining", len(pending))
		return errPending
	}
	return nil
}
