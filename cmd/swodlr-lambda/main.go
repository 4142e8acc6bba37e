// Package main runs one raster-create pipeline stage as a Lambda function.
// The stage is selected by SWODLR_STAGE.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/podaac/swodlr-raster-create/internal/app"
	"github.com/podaac/swodlr-raster-create/internal/config"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/podaac/swodlr-raster-create/internal/params"
)

// StageEnvVar names the stage this function runs.
const StageEnvVar = "SWODLR_STAGE"

func main() {
	name := os.Getenv(StageEnvVar)
	if name == "" {
		fmt.Fprintf(os.Stderr, "Error: %s is not set\n", StageEnvVar)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := params.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load(store)

	logger := config.LambdaLogger(name, cfg.LogLevel)
	m := metrics.NewCollector()

	h, err := app.New(cfg, logger, m).Handler(ctx, name)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, payload json.RawMessage) (any, error) {
		defer m.Log(logger)

		out, err := h.Run(ctx, payload)
		if err != nil {
			logger.Error("stage failed", "error", err)
			return nil, err
		}
		return out, nil
	})
}
