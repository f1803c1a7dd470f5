package main

import (
	"github.com/alanyoungcy/riskgate/internal/app"
	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile ledgers with exchange positions once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a := app.New(cfg, logger)
			defer a.Close()

			reports, err := a.Reconcile(ctx, strategy)
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "strategy to reconcile (default: all)")
	return cmd
}
