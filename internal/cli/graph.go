package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/internal/transform"
)

func newGraphCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Validate and print the transform graph",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			// SQL steps only need a warehouse to run, not to be listed.
			g, err := transform.BuildGraph(root.cfg.Steps, transform.Env{
				Warehouse: noWarehouse{},
				Workdir:   root.cfg.DBT.Workdir,
				Vars:      root.cfg.DBT.Env,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), renderGraph(g, root.cfg.Steps))
			return nil
		},
	}
}

type noWarehouse struct{}

func (noWarehouse) RunQuery(context.Context, string) error {
	return errors.New("no warehouse connected")
}
