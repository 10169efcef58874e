package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/pkg/utils"
)

type RunOptions struct {
	Date string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one incremental cycle",
		Long: `Extracts every entity from the stored watermark up to the run date, stages and
loads the batches, runs the transform graph and advances the watermark when all of
it succeeded. The run date defaults to today.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			runDate, err := parseRunDate(opts.Date, root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, c, root, runDate)
		},
	}

	cmd.Flags().StringVarP(&opts.Date, "date", "d", "", "Run date (YYYY-MM-DD), defaults to today")
	return cmd
}

func parseRunDate(s string, root *rootOptions) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return utils.ParseDate(s, root.cfg.Location())
}

func runOnce(ctx context.Context, c *cobra.Command, root *rootOptions, runDate time.Time) error {
	a, err := newApp(ctx, root.cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, runErr := a.pipeline.Run(ctx, runDate)

	out := c.OutOrStdout()
	fmt.Fprintln(out, renderRunSummary(res))
	if len(res.Batches) > 0 {
		fmt.Fprintln(out, renderBatches(res.Batches))
	}
	if len(res.Steps) > 0 {
		fmt.Fprintln(out, renderStepSummary(res.Steps))
	}
	return runErr
}
