package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/podaac/swodlr-raster-create/internal/reconcile"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <cycle> <pass> <scene>",
	Short: "Show what preflight would ingest and delete for a scene",
	Long: `Compare the CMR catalog with the SDS index for one scene and print the
granules preflight would ingest and delete. Nothing is changed.

Example:
  swodlr diff 7 402 85`,
	Args: cobra.ExactArgs(3),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	nums := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", []string{"cycle", "pass", "scene"}[i], arg)
		}
		nums[i] = n
	}

	r, err := stages.Reconciler(ctx)
	if err != nil {
		return err
	}
	diff, err := r.Plan(ctx, nums[0], nums[1], nums[2])
	if err != nil {
		return err
	}

	printDiff(cmd.OutOrStdout(), diff)
	return nil
}

func printDiff(w io.Writer, diff reconcile.Diff) {
	if diff.Empty() {
		fmt.Fprintln(w, "Index is up to date")
		return
	}

	fmt.Fprintf(w, "To ingest (%d):\n", len(diff.ToIngest))
	for _, g := range diff.ToIngest.Sorted() {
		fmt.Fprintf(w, "  + %s\t%s\n", g.Name, g.URL)
	}
	fmt.Fprintf(w, "To delete (%d):\n", len(diff.ToDelete))
	for _, g := range diff.ToDelete.Sorted() {
		fmt.Fprintf(w, "  - %s\n", g.Name)
	}
}
