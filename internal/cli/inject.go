package cli

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/podaac/swodlr-raster-create/internal/config"
	"github.com/spf13/cobra"
)

var injectCmd = &cobra.Command{
	Use:   "inject <queue-url> [request-file]",
	Short: "Queue a raster request for the pipeline",
	Long: `Validate a raster request and send it to the pipeline's input queue.
A product_id is generated when the request has none.

Example:
  swodlr inject https://sqs.us-west-2.amazonaws.com/123/raster-create request.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInject,
}

func runInject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var path string
	if len(args) == 2 {
		path = args[1]
	}
	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	body, productID, err := withProductID(payload)
	if err != nil {
		return err
	}
	if _, err := stages.Validator().ValidateInput(body); err != nil {
		return err
	}

	awsCfg, err := config.LoadAWS(ctx)
	if err != nil {
		return err
	}
	out, err := sqs.NewFromConfig(awsCfg).SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(args[0]),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued product %s (message %s)\n", productID, aws.ToString(out.MessageId))
	return nil
}

// withProductID returns the request with a product_id, generating one if absent.
func withProductID(payload []byte) ([]byte, string, error) {
	var req map[string]any
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, "", fmt.Errorf("parse request: %w", err)
	}
	id, _ := req["product_id"].(string)
	if id == "" {
		id = uuid.NewString()
		req["product_id"] = id
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}
	return body, id, nil
}
