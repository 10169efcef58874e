// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/internal/config"
	"github.com/BartekS5/elt/pkg/logger"
)

// rootOptions are shared by every sub-command.
type rootOptions struct {
	configFile string
	debug      bool
	cfg        *config.Config
}

func (o *rootOptions) init() error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	opts := []logger.Option{logger.WithFormat(cfg.Log.Format)}
	if o.debug || cfg.Log.Debug {
		opts = append(opts, logger.WithDebug())
	}
	return logger.InitLogger(cfg.Log.File, opts...)
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "elt",
		Short: "Incremental ELT pipeline for the rental vehicle warehouse",
		Long: `elt extracts the rows changed since the last watermark from the source
database, stages them as Parquet in object storage, replaces the staging tables in
the warehouse and runs the transform graph. The watermark only moves when every
step succeeded.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newScheduleCmd(opts),
		newWatermarkCmd(opts),
		newGraphCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}
