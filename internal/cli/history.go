package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/internal/history"
)

type HistoryOptions struct {
	Limit int
	All   bool
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if root.cfg.History.Path == "" {
				return errors.New("run history is disabled (history.path is empty)")
			}
			store, err := history.Open(c.Context(), root.cfg.History.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pipelineID := root.cfg.PipelineID
			if opts.All {
				pipelineID = ""
			}
			runs, err := store.List(c.Context(), pipelineID, opts.Limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no runs recorded")
				return nil
			}
			fmt.Fprintln(c.OutOrStdout(), renderHistory(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Show runs of every pipeline")
	return cmd
}
