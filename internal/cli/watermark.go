package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

type WatermarkOptions struct {
	Force bool
}

func newWatermarkCmd(root *rootOptions) *cobra.Command {
	opts := &WatermarkOptions{}

	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or repair the stored watermark",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the stored watermark",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			store, closeStore, err := openWatermarkStore(c.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			wm, err := store.Get(c.Context(), root.cfg.PipelineID)
			if errors.Is(err, models.ErrNotInitialized) {
				fmt.Fprintf(c.OutOrStdout(), "%s: not initialized (runs start from %s)\n",
					root.cfg.PipelineID, startDateOrNone(root.cfg.StartDate))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", root.cfg.PipelineID, utils.FormatDate(wm))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <YYYY-MM-DD>",
		Short: "Set the watermark; moving it backwards requires --force",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cutoff, err := utils.ParseDate(args[0], root.cfg.Location())
			if err != nil {
				return err
			}

			store, closeStore, err := openWatermarkStore(c.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			current, err := store.Get(c.Context(), root.cfg.PipelineID)
			switch {
			case errors.Is(err, models.ErrNotInitialized):
			case err != nil:
				return err
			case cutoff.Before(current) && !opts.Force:
				return fmt.Errorf("refusing to move watermark back from %s to %s without --force",
					utils.FormatDate(current), utils.FormatDate(cutoff))
			}

			if err := store.Set(c.Context(), root.cfg.PipelineID, cutoff); err != nil {
				return err
			}
			logger.Info("watermark set manually", "pipeline", root.cfg.PipelineID, "watermark", utils.FormatDate(cutoff))
			fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", root.cfg.PipelineID, utils.FormatDate(cutoff))
			return nil
		},
	}
	set.Flags().BoolVarP(&opts.Force, "force", "f", false, "Allow moving the watermark backwards")

	cmd.AddCommand(get, set)
	return cmd
}

func startDateOrNone(s string) string {
	if s == "" {
		return "nowhere, no start_date configured"
	}
	return s
}
