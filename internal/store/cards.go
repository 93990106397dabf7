package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/guarzo/cardshop/internal/model"
)

// ErrCardNotFound is returned when no card document matches an id and rarity.
var ErrCardNotFound = errors.New("card not found")

var cardFields = Projection{"id", "name", "number", "rarity"}

// CardRepository reads and writes card metadata documents.
type CardRepository struct {
	store *Store
}

// NewCardRepository returns a repository over s.
func NewCardRepository(s *Store) *CardRepository {
	return &CardRepository{store: s}
}

// FindCard returns the card with baseID whose rarity list contains rarity.
// The rarity comparison ignores case.
func (r *CardRepository) FindCard(ctx context.Context, baseID, rarity string) (model.Card, error) {
	filter := Filter{
		Eq("id", baseID),
		Match("rarity", "^"+regexp.QuoteMeta(rarity)+"$"),
	}
	cards, err := Find[model.Card](ctx, r.store, CardsEntity, filter, cardFields, FindOptions{Limit: 1})
	if err != nil {
		return model.Card{}, err
	}
	if len(cards) == 0 {
		return model.Card{}, fmt.Errorf("%w: %s+%s", ErrCardNotFound, baseID, rarity)
	}
	return cards[0], nil
}

// InsertCards stores cards, replacing documents with the same id.
func (r *CardRepository) InsertCards(ctx context.Context, cards []model.Card) error {
	docs := make([]any, len(cards))
	for i, c := range cards {
		docs[i] = c
	}
	return Insert(ctx, r.store, CardsEntity, docs...)
}
