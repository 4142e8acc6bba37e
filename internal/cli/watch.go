package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/stage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	watchInterval time.Duration
	watchOut      string
)

var watchCmd = &cobra.Command{
	Use:   "watch [jobset-file]",
	Short: "Poll a jobset until no job is waiting",
	Long: `Run wait_for_complete repeatedly on a jobset until every job has finished.
An interactive terminal gets a progress bar; otherwise one line is printed
per poll. The final jobset is written to --out when given.

Example:
  swodlr watch submitted.json --interval 1m --out finished.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 30*time.Second, "time between polls")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "write the final jobset to this file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	js, err := stages.Validator().ValidateJobset(payload)
	if err != nil {
		return err
	}

	h, err := stages.Handler(cmd.Context(), stage.NameWaitForComplete)
	if err != nil {
		return err
	}
	poll := handlerPoll(h)

	var final jobset.Jobset
	if term.IsTerminal(int(os.Stdout.Fd())) {
		final, err = runWatchUI(poll, js, watchInterval)
	} else {
		final, err = watchPlain(cmd.Context(), cmd.OutOrStdout(), poll, js, watchInterval)
	}
	if err != nil {
		return err
	}

	if watchOut != "" {
		data, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return fmt.Errorf("encode jobset: %w", err)
		}
		if err := os.WriteFile(watchOut, data, 0644); err != nil {
			return fmt.Errorf("write jobset: %w", err)
		}
	}
	return printJobs(cmd.OutOrStdout(), final)
}

// handlerPoll runs h on a jobset, round-tripping through JSON as the
// orchestrator does.
func handlerPoll(h stage.Handler) pollFunc {
	return func(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
		raw, err := json.Marshal(js)
		if err != nil {
			return js, fmt.Errorf("encode jobset: %w", err)
		}
		out, err := h.Run(ctx, raw)
		if err != nil {
			return js, err
		}
		next, ok := out.(jobset.Jobset)
		if !ok {
			return js, fmt.Errorf("unexpected stage output %T", out)
		}
		return next, nil
	}
}

// watchPlain polls until no job is waiting, printing a summary per poll.
func watchPlain(ctx context.Context, w io.Writer, poll pollFunc, js jobset.Jobset, interval time.Duration) (jobset.Jobset, error) {
	for n := 1; js.HasWaiting(); n++ {
		if n > 1 {
			select {
			case <-ctx.Done():
				return js, ctx.Err()
			case <-time.After(interval):
			}
		}

		next, err := poll(ctx, js)
		if err != nil {
			return js, err
		}
		js = next

		s := summarize(js)
		fmt.Fprintf(w, "poll %d: %d waiting, %d succeeded, %d failed\n", n, s.waiting, s.success, s.fail)
	}
	return js, nil
}
