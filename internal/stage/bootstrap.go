package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
)

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, opts ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// BootstrapResult identifies the started execution.
type BootstrapResult struct {
	ExecutionARN string `json:"execution_arn"`
}

// Bootstrap starts a state machine execution with the event as input.
type Bootstrap struct {
	client     SFNAPI
	machineARN string
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewBootstrap creates the bootstrap stage.
func NewBootstrap(client SFNAPI, machineARN string, m *metrics.Collector, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{client: client, machineARN: machineARN, metrics: m, logger: logger}
}

// Run starts the execution with the compacted event.
func (b *Bootstrap) Run(ctx context.Context, payload json.RawMessage) (_ any, err error) {
	defer func(start time.Time) { b.metrics.Track(metrics.OpStartPipeline, start, err) }(time.Now())

	var input bytes.Buffer
	if err := json.Compact(&input, payload); err != nil {
		return nil, fmt.Errorf("compact event: %w", err)
	}

	out, err := b.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(b.machineARN),
		Input:           aws.String(input.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}

	arn := aws.ToString(out.ExecutionArn)
	b.logger.Info("started step function execution", "execution_arn", arn)
	return BootstrapResult{ExecutionARN: arn}, nil
}
