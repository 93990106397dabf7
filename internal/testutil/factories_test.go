package testutil

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewTestDataFactory(t *testing.T) {
	// Test with fixed seed
	factory1 := NewTestDataFactory(12345)
	factory2 := NewTestDataFactory(12345)

	// Should generate same values with same seed
	card1 := factory1.GenerateCard()
	card2 := factory2.GenerateCard()

	if card1.ID != card2.ID || card1.Number != card2.Number {
		t.Errorf("factories with same seed should generate same values, got %+v and %+v", card1, card2)
	}
}

func TestGenerateCardID(t *testing.T) {
	factory := NewTestDataFactory(0)
	id := factory.GenerateCardID()

	if !regexp.MustCompile(`^\d{5}$`).MatchString(id) {
		t.Errorf("card id should be 5 digits, got %s", id)
	}
}

func TestGenerateCardNumber(t *testing.T) {
	factory := NewTestDataFactory(0)
	number := factory.GenerateCardNumber()

	if !regexp.MustCompile(`^[A-Z0-9]{4}-JP\d{3}$`).MatchString(number) {
		t.Errorf("card number should look like RC04-JP001, got %s", number)
	}
}

func TestGenerateCardName(t *testing.T) {
	factory := NewTestDataFactory(0)
	cardName := factory.GenerateCardName()

	if !strings.HasPrefix(cardName, "Test ") {
		t.Errorf("card name should start with 'Test ', got %s", cardName)
	}
}

func TestGenerateRarities(t *testing.T) {
	factory := NewTestDataFactory(7)
	for i := 0; i < 20; i++ {
		rarities := factory.GenerateRarities()
		if len(rarities) < 1 || len(rarities) > 3 {
			t.Fatalf("expected 1-3 rarities, got %v", rarities)
		}
		seen := map[string]bool{}
		for _, r := range rarities {
			if seen[r] {
				t.Fatalf("duplicate rarity in %v", rarities)
			}
			seen[r] = true
		}
	}
}

func TestGeneratePrice(t *testing.T) {
	factory := NewTestDataFactory(0)
	price := factory.GeneratePrice()

	if price < 30 || price > 3030 {
		t.Errorf("price should be between 30 and 3030, got %v", price)
	}
}

func TestGenerateListing(t *testing.T) {
	factory := NewTestDataFactory(1)
	card := factory.GenerateCard()

	first := factory.GenerateListing(card, "UR", "shop-1")
	second := factory.GenerateListing(card, "UR", "shop-1")

	if first.ID == second.ID {
		t.Errorf("listing ids should be unique, got %s twice", first.ID)
	}
	if !strings.Contains(first.Name, card.Number) || !strings.Contains(first.Name, "UR") {
		t.Errorf("listing title should carry number and rarity, got %q", first.Name)
	}
	if first.ShopID != "shop-1" {
		t.Errorf("unexpected shop id %s", first.ShopID)
	}
}
