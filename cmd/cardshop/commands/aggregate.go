package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/guarzo/cardshop/internal/model"
	"github.com/guarzo/cardshop/internal/report"
)

// aggregate -f list.json: run one aggregation and print the result.
func aggregateCmd() *cobra.Command {
	var (
		listPath string
		strict   bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate shop offers for a shopping list",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			requests, err := readShoppingList(listPath)
			if err != nil {
				return err
			}
			agg := appCtx.aggregator(strict || appCtx.cfg.Aggregator.StrictResolve)
			defer appCtx.pruneSellerCache()
			return runAggregate(ctx, agg, requests, format, cmd.OutOrStdout(), appCtx.log)
		},
	}
	cmd.Flags().StringVarP(&listPath, "file", "f", "", "shopping list JSON file")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort when an item cannot be resolved")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// Aggregator is the part of aggregator.Aggregator the commands use.
type Aggregator interface {
	Aggregate(ctx context.Context, requests []model.ProductRequest) (*model.Result, error)
}

func runAggregate(ctx context.Context, agg Aggregator, requests []model.ProductRequest, format string, w io.Writer, log zerolog.Logger) error {
	res, err := agg.Aggregate(ctx, requests)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	for _, e := range res.Errors {
		log.Warn().Str("stage", string(e.Stage)).Str("subject", e.Subject).Err(e.Err).Msg("run error")
	}
	log.Info().Str("run_id", res.RunID).Int("shops", len(res.Shops)).Int("errors", len(res.Errors)).Msg("aggregate done")

	switch strings.ToLower(format) {
	case "", "json":
		return report.WriteJSON(w, res)
	case "csv":
		return report.WriteShopsCSV(w, res)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// readShoppingList parses a JSON array of {"productName","count"} entries.
func readShoppingList(path string) ([]model.ProductRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shopping list: %w", err)
	}
	var requests []model.ProductRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parse shopping list %s: %w", path, err)
	}
	for i, r := range requests {
		if strings.TrimSpace(r.ProductName) == "" {
			return nil, fmt.Errorf("shopping list entry %d has no productName", i)
		}
	}
	return requests, nil
}
