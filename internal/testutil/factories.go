package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/guarzo/cardshop/internal/model"
)

// TestDataFactory provides methods for generating dynamic test data
type TestDataFactory struct {
	rand *rand.Rand
	seq  int
}

// NewTestDataFactory creates a new test data factory with a seeded random generator
func NewTestDataFactory(seed int64) *TestDataFactory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TestDataFactory{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// GenerateCardID generates a random five digit card base id
func (f *TestDataFactory) GenerateCardID() string {
	return fmt.Sprintf("%05d", f.rand.Intn(100000))
}

// GenerateCardNumber generates a random set-code style card number
func (f *TestDataFactory) GenerateCardNumber() string {
	sets := []string{"RC04", "QCCP", "DUNE", "AGOV", "PHNI"}
	return fmt.Sprintf("%s-JP%03d", sets[f.rand.Intn(len(sets))], f.rand.Intn(120)+1)
}

// GenerateCardName generates a random test card name
func (f *TestDataFactory) GenerateCardName() string {
	names := []string{"Test Blue-Eyes", "Test Dark Magician", "Test Ash Blossom", "Test Kuriboh", "Test Nibiru"}
	return names[f.rand.Intn(len(names))]
}

// GenerateRarities returns between one and three distinct rarity codes
func (f *TestDataFactory) GenerateRarities() []string {
	all := []string{"N", "R", "SR", "UR", "SE", "QCSR", "PSE"}
	perm := f.rand.Perm(len(all))
	n := f.rand.Intn(3) + 1
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[perm[i]]
	}
	return out
}

// GenerateCard generates a random card document
func (f *TestDataFactory) GenerateCard() model.Card {
	return model.Card{
		ID:       f.GenerateCardID(),
		Name:     f.GenerateCardName(),
		Number:   f.GenerateCardNumber(),
		Rarities: f.GenerateRarities(),
	}
}

// GeneratePrice generates a random listing price in TWD
func (f *TestDataFactory) GeneratePrice() float64 {
	return float64(f.rand.Intn(3000) + 30)
}

// GenerateShopID generates a random shop id
func (f *TestDataFactory) GenerateShopID() string {
	return fmt.Sprintf("shop-%d", f.rand.Intn(100000))
}

// GenerateListing generates a listing titled for card and rarity, sold by shopID
func (f *TestDataFactory) GenerateListing(card model.Card, rarity, shopID string) model.ProdDetail {
	f.seq++
	return model.ProdDetail{
		ID:                fmt.Sprintf("L%d", f.seq),
		Name:              fmt.Sprintf("%s %s %s", card.Number, rarity, card.Name),
		Price:             f.GeneratePrice(),
		QuantityAvailable: f.rand.Intn(5) + 1,
		ShopID:            shopID,
		ShippingMethods:   map[string]float64{"SEVEN": 60, "FAMILY": 60},
	}
}

// Listing builds a listing with fixed fields
func Listing(id, title string, price float64, shopID string) model.ProdDetail {
	return model.ProdDetail{
		ID:                id,
		Name:              title,
		Price:             price,
		QuantityAvailable: 1,
		ShopID:            shopID,
		ShippingMethods:   map[string]float64{},
	}
}
