package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/podaac/swodlr-raster-create/internal/stage"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <stage> [event-file]",
	Short: "Run one pipeline stage on an event",
	Long: `Run a pipeline stage locally with the same handler the Lambda function uses.
The event is read from the file, or from stdin when no file is given. The
stage output is printed as JSON.

Examples:
  swodlr run preflight sqs-event.json
  swodlr run wait_for_complete < jobset.json | swodlr run publish_data`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStage,
}

var stagesCmd = &cobra.Command{
	Use:         "stages",
	Short:       "List pipeline stages",
	Args:        cobra.NoArgs,
	Annotations: offline(),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, name := range stage.Names() {
			fmt.Fprintf(w, "%s\t%s\n", name, stage.Descriptions[name])
		}
		return w.Flush()
	},
}

func runStage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var path string
	if len(args) == 2 {
		path = args[1]
	}
	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	h, err := stages.Handler(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := h.Run(ctx, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return printJSON(cmd.OutOrStdout(), out)
}

// readPayload reads a JSON document from path, or from stdin when path is
// empty or "-".
func readPayload(stdin io.Reader, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("event is empty")
	}
	return json.RawMessage(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
