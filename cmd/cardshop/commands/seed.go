package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guarzo/cardshop/internal/model"
)

// seed -f cards.json: load card documents into the store.
func seedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert card metadata documents into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := readCards(path)
			if err != nil {
				return err
			}
			if err := seedCards(cmd.Context(), appCtx.cards, cards); err != nil {
				return err
			}
			appCtx.log.Info().Int("cards", len(cards)).Msg("store seeded")
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d cards\n", len(cards))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "card documents JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type cardWriter interface {
	InsertCards(ctx context.Context, cards []model.Card) error
}

func seedCards(ctx context.Context, w cardWriter, cards []model.Card) error {
	if len(cards) == 0 {
		return fmt.Errorf("no cards to seed")
	}
	if err := w.InsertCards(ctx, cards); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

func readCards(path string) ([]model.Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cards: %w", err)
	}
	var cards []model.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("parse cards %s: %w", path, err)
	}
	for i, c := range cards {
		if c.ID == "" || len(c.Rarities) == 0 {
			return nil, fmt.Errorf("card %d needs an id and at least one rarity", i)
		}
	}
	return cards, nil
}
