package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/guarzo/cardshop/internal/aggregator"
	"github.com/guarzo/cardshop/internal/config"
	"github.com/guarzo/cardshop/internal/logx"
	"github.com/guarzo/cardshop/internal/ruten"
	"github.com/guarzo/cardshop/internal/store"
)

var (
	envFile string
	appCtx  *app
)

// app holds the dependencies shared by subcommands.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	store  *store.Store
	cards  *store.CardRepository
	client *ruten.Client
}

func newApp(cfg *config.Config, log zerolog.Logger) *app {
	st := store.New(store.DefaultRegistry(), store.RedisDialer(cfg.Redis), store.WithLogger(log))
	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		cards:  store.NewCardRepository(st),
		client: ruten.NewClient(cfg.RutenClientConfig(), ruten.WithLogger(log)),
	}
}

// aggregator builds an aggregator from config, forcing strict resolution
// when strict is set.
func (a *app) aggregator(strict bool) *aggregator.Aggregator {
	opts := append(a.cfg.AggregatorOptions(), aggregator.WithLogger(a.log))
	if strict {
		opts = append(opts, aggregator.WithStrictResolve(true))
	}
	return aggregator.New(a.client, a.cards, opts...)
}

// pruneSellerCache drops expired seller ids and logs the cache counters.
func (a *app) pruneSellerCache() {
	s := a.client.PruneSellerCache()
	a.log.Debug().
		Int64("hits", s.Hits).
		Int64("misses", s.Misses).
		Int64("evictions", s.Evictions).
		Int("items", s.Items).
		Msg("seller cache")
}

func Execute() error {
	root := &cobra.Command{
		Use:           "cardshop",
		Short:         "Find which Ruten shops carry a card shopping list",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			appCtx = newApp(cfg, logx.Init(cfg.Env()))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.store.Close()
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	root.AddCommand(aggregateCmd(), seedCmd(), watchCmd())
	if err := root.Execute(); err != nil {
		logx.Error().Err(err).Msg("cardshop failed")
		return err
	}
	return nil
}
