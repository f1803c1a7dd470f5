package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/riskgate/internal/cache/redis"
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/service"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var intent domain.TradeIntent
	var action, side string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a trade intent to the intents stream",
		Long: `submit appends one intent to the Redis intents stream. A running engine
picks it up and routes it to the named strategy's queue. Watch the outcome on
/ws or in the decisions stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("submit needs redis.enabled = true")
			}

			intent.ID = uuid.NewString()
			intent.Action = domain.IntentAction(action)
			intent.Side = domain.Side(side)
			intent.Instrument = domain.NormalizeInstrument(intent.Instrument)
			intent.ReceivedAt = time.Now().UTC()
			if err := intent.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			rc, err := redis.New(ctx, redis.ClientConfig{
				Addr:       cfg.Redis.Addr,
				Password:   cfg.Redis.Password,
				DB:         cfg.Redis.DB,
				PoolSize:   1,
				MaxRetries: cfg.Redis.MaxRetries,
				TLSEnabled: cfg.Redis.TLSEnabled,
				KeyPrefix:  cfg.Redis.KeyPrefix,
			})
			if err != nil {
				return err
			}
			defer rc.Close()

			if err := service.PublishIntent(ctx, redis.NewSignalBus(rc), intent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted intent %s to strategy %s\n", intent.ID, intent.Strategy)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&intent.Strategy, "strategy", "s", "default", "target strategy")
	f.StringVarP(&intent.Instrument, "instrument", "i", "", "instrument, e.g. BTC-USDT-SWAP (required)")
	f.StringVarP(&action, "action", "a", string(domain.IntentOpen), "open or close")
	f.StringVar(&side, "side", string(domain.SideLong), "long or short")
	f.Float64VarP(&intent.Quantity, "quantity", "q", 0, "quantity in base units (open only)")
	_ = cmd.MarkFlagRequired("instrument")
	return cmd
}
