package main

import (
	"github.com/alanyoungcy/riskgate/internal/app"
	"github.com/spf13/cobra"
)

func newRegimeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "regime",
		Short: "Compute one market regime snapshot and print it",
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

			snap, err := a.Regime(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}
