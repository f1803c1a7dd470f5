package main

import (
	"log/slog"

	"github.com/alanyoungcy/riskgate/internal/app"
	"github.com/alanyoungcy/riskgate/internal/config"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger.Info("riskgate starting",
				slog.String("config", opts.configPath),
				slog.Any("settings", config.RedactedConfig(cfg)),
			)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a := app.New(cfg, logger)
			defer a.Close()

			if err := a.Run(ctx); err != nil {
				logger.Error("riskgate exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("riskgate stopped")
			return nil
		},
	}
}
