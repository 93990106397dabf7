package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxPerItem is the purchase limit applied to every requested item.
const MaxPerItem = 3

// ProductRequest is one line of a shopping list.
// ProductName encodes the card base id and rarity code as "<baseID>+<rarity>".
type ProductRequest struct {
	ProductName string `json:"productName"`
	Count       int    `json:"count"`
}

// Split returns the base id and rarity code encoded in ProductName.
func (r ProductRequest) Split() (baseID, rarity string, err error) {
	i := strings.LastIndex(r.ProductName, "+")
	if i <= 0 || i == len(r.ProductName)-1 {
		return "", "", fmt.Errorf("malformed product name %q: want <id>+<rarity>", r.ProductName)
	}
	return strings.TrimSpace(r.ProductName[:i]), strings.TrimSpace(r.ProductName[i+1:]), nil
}

// ClampCount limits count to [1, max].
func ClampCount(count, max int) int {
	if count < 1 {
		return 1
	}
	if count > max {
		return max
	}
	return count
}

// ProductRequestExtended is a ProductRequest with canonical card metadata attached.
type ProductRequestExtended struct {
	ProductRequest
	CardID     string   `json:"cardId"`
	CardName   string   `json:"cardName"`
	CardNumber string   `json:"cardNumber"`
	Rarity     string   `json:"rarity"`
	Rarities   []string `json:"rarities"`
}

// Card is the stored metadata document for a card print.
type Card struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Number   string   `json:"number"`
	Rarities []string `json:"rarity"`
}

// ProdDetail is a single shop listing for one product.
type ProdDetail struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Price             float64            `json:"price"`
	QuantityAvailable int                `json:"quantityAvailable"`
	ShopID            string             `json:"shopId"`
	ShippingMethods   map[string]float64 `json:"shippingMethods,omitempty"`
}

// ShopProduct is the part of a listing kept on a Shop.
type ShopProduct struct {
	ID                string  `json:"id"`
	Price             float64 `json:"price"`
	QuantityAvailable int     `json:"quantityAvailable"`
}

// ProductFromDetail converts a listing into a shop product entry.
func ProductFromDetail(d ProdDetail) ShopProduct {
	return ShopProduct{ID: d.ID, Price: d.Price, QuantityAvailable: d.QuantityAvailable}
}

// Shop aggregates the listings a single seller offers for the shopping list.
type Shop struct {
	ID         string                 `json:"id"`
	SellerID   string                 `json:"sellerId,omitempty"`
	Products   map[string]ShopProduct `json:"products"`
	ShipPrices map[string]float64     `json:"shipPrices"`
	FreeShip   map[string]float64     `json:"freeShip"`
}

// NewShop returns an empty shop with initialized maps.
func NewShop(id string) Shop {
	return Shop{
		ID:         id,
		Products:   make(map[string]ShopProduct),
		ShipPrices: make(map[string]float64),
		FreeShip:   make(map[string]float64),
	}
}

// Clone returns a copy of s that shares no maps with it.
func (s Shop) Clone() Shop {
	out := s
	out.Products = make(map[string]ShopProduct, len(s.Products))
	for k, v := range s.Products {
		out.Products[k] = v
	}
	out.ShipPrices = copyFloats(s.ShipPrices)
	out.FreeShip = copyFloats(s.FreeShip)
	return out
}

// Has reports whether the shop already offers productName.
func (s Shop) Has(productName string) bool {
	_, ok := s.Products[productName]
	return ok
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Stage names the aggregation step an error came from.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageDiscover Stage = "discover"
	StageProbe    Stage = "probe"
	StageShipping Stage = "shipping"
)

// RunError is a non-fatal failure recorded during an aggregation run.
// Subject is the product name or shop id the failure belongs to.
type RunError struct {
	Stage   Stage
	Subject string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Subject, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// MarshalText lets results be encoded as JSON with readable errors.
func (e *RunError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

// Result is the outcome of one aggregation run.
type Result struct {
	RunID      string                   `json:"runId"`
	Requests   []ProductRequestExtended `json:"requests"`
	Shops      []Shop                   `json:"shops"`
	Errors     []*RunError              `json:"errors"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt"`
}

// ErrorsFor returns the accumulated errors of one stage.
func (r *Result) ErrorsFor(stage Stage) []*RunError {
	var out []*RunError
	for _, e := range r.Errors {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Err joins every accumulated error, or returns nil when the run was clean.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
