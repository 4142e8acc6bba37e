package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [jobset-file]",
	Short: "Validate a jobset and list its jobs",
	Long: `Validate a jobset against the contract and print one line per job.
The jobset is read from the file, or from stdin.

Examples:
  swodlr jobs output.json
  swodlr run wait_for_complete in.json | swodlr jobs`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: offline(),
	RunE:        runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	js, err := jobset.MustValidator().ValidateJobset(payload)
	if err != nil {
		return err
	}
	return printJobs(cmd.OutOrStdout(), js)
}

func printJobs(out io.Writer, js jobset.Jobset) error {
	if len(js.Jobs) == 0 {
		fmt.Fprintf(out, "No jobs (%d inputs)\n", len(js.Inputs))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tSTAGE\tJOB\tSTATUS\tDETAIL")
	for _, job := range js.Jobs {
		detail := strings.Join(job.Errors, "; ")
		if len(job.Granules) > 0 {
			detail = fmt.Sprintf("%d granules", len(job.Granules))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", job.ProductID, job.Stage, job.JobID, job.Status, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	summary := summarize(js)
	fmt.Fprintf(out, "\n%d waiting, %d succeeded, %d failed\n", summary.waiting, summary.success, summary.fail)
	return nil
}

type jobSummary struct {
	waiting, success, fail int
}

func (s jobSummary) total() int {
	return s.waiting + s.success + s.fail
}

func summarize(js jobset.Jobset) jobSummary {
	var s jobSummary
	for _, job := range js.Jobs {
		switch job.Status.Class() {
		case jobset.ClassSuccess:
			s.success++
		case jobset.ClassFail:
			s.fail++
		default:
			s.waiting++
		}
	}
	return s
}
