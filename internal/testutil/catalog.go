package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/guarzo/cardshop/internal/model"
)

// FakeCatalog is an in-memory marketplace. Searches match listings whose
// title contains every word of the query, cheapest first.
type FakeCatalog struct {
	mu       sync.Mutex
	listings map[string]model.ProdDetail
	order    []string
	sellers  map[string]string
	shipping map[string]map[string]float64

	// Errors keyed by "<method>:<subject>" are returned instead of data.
	Errors map[string]error

	flaky   map[string]*flakyErr
	blocked map[string]bool

	calls []string
	times map[string][]time.Time
}

// NewFakeCatalog returns an empty catalog.
func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		listings: make(map[string]model.ProdDetail),
		sellers:  make(map[string]string),
		shipping: make(map[string]map[string]float64),
		Errors:   make(map[string]error),
		flaky:    make(map[string]*flakyErr),
		blocked:  make(map[string]bool),
		times:    make(map[string][]time.Time),
	}
}

// AddListing registers listings.
func (c *FakeCatalog) AddListing(listings ...model.ProdDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range listings {
		if _, ok := c.listings[l.ID]; !ok {
			c.order = append(c.order, l.ID)
		}
		c.listings[l.ID] = l
	}
}

// SetSeller maps a shop id to its canonical seller id.
func (c *FakeCatalog) SetSeller(shopID, sellerID string) {
	c.mu.Lock()
	c.sellers[shopID] = sellerID
	c.mu.Unlock()
}

// SetShipping sets the discount conditions of a shop.
func (c *FakeCatalog) SetShipping(shopID string, conditions map[string]float64) {
	c.mu.Lock()
	c.shipping[shopID] = conditions
	c.mu.Unlock()
}

// Fail makes method fail for subject.
func (c *FakeCatalog) Fail(method, subject string, err error) {
	c.mu.Lock()
	c.Errors[method+":"+subject] = err
	c.mu.Unlock()
}

type flakyErr struct {
	err  error
	left int
}

// FailTimes makes method fail for subject on its next n calls, then recover.
func (c *FakeCatalog) FailTimes(method, subject string, err error, n int) {
	c.mu.Lock()
	c.flaky[method+":"+subject] = &flakyErr{err: err, left: n}
	c.mu.Unlock()
}

// Block makes method hang for subject until the call's context ends.
func (c *FakeCatalog) Block(method, subject string) {
	c.mu.Lock()
	c.blocked[method+":"+subject] = true
	c.mu.Unlock()
}

// Calls returns the recorded calls as "<method>:<subject>".
func (c *FakeCatalog) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallTimes returns when method was called, in call order.
func (c *FakeCatalog) CallTimes(method string) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.times[method]...)
}

func (c *FakeCatalog) record(ctx context.Context, method, subject string) error {
	key := method + ":" + subject
	c.mu.Lock()
	c.calls = append(c.calls, key)
	c.times[method] = append(c.times[method], time.Now())
	err := c.Errors[key]
	if f := c.flaky[key]; err == nil && f != nil && f.left > 0 {
		f.left--
		err = f.err
	}
	blocked := c.blocked[key]
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *FakeCatalog) SearchProducts(ctx context.Context, query string, limit int) ([]string, error) {
	if err := c.record(ctx, "search", query); err != nil {
		return nil, err
	}
	return c.search(query, "", limit), nil
}

func (c *FakeCatalog) FetchProductDetails(ctx context.Context, ids []string) ([]model.ProdDetail, error) {
	if err := c.record(ctx, "details", strings.Join(ids, ",")); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.ProdDetail
	for _, id := range ids {
		if l, ok := c.listings[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *FakeCatalog) SearchShopProducts(ctx context.Context, sellerID, query string, limit int) ([]string, error) {
	if err := c.record(ctx, "shop-search", sellerID+":"+query); err != nil {
		return nil, err
	}
	c.mu.Lock()
	var shopID string
	for shop, seller := range c.sellers {
		if seller == sellerID {
			shopID = shop
		}
	}
	c.mu.Unlock()
	if shopID == "" {
		return nil, nil
	}
	return c.search(query, shopID, limit), nil
}

func (c *FakeCatalog) FetchShopInfo(ctx context.Context, shopID string) (string, error) {
	if err := c.record(ctx, "shop-info", shopID); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sellers[shopID], nil
}

func (c *FakeCatalog) FetchShopShippingInfo(ctx context.Context, shopID string) (map[string]float64, error) {
	if err := c.record(ctx, "shipping", shopID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cond, ok := c.shipping[shopID]; ok {
		out := make(map[string]float64, len(cond))
		for k, v := range cond {
			out[k] = v
		}
		return out, nil
	}
	return map[string]float64{}, nil
}

func (c *FakeCatalog) search(query, shopID string, limit int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	words := strings.Fields(strings.ToLower(query))
	var hits []model.ProdDetail
	for _, id := range c.order {
		l := c.listings[id]
		if shopID != "" && l.ShopID != shopID {
			continue
		}
		title := strings.ToLower(l.Name)
		match := true
		for _, w := range words {
			if !strings.Contains(title, w) {
				match = false
				break
			}
		}
		if match {
			hits = append(hits, l)
		}
	}
	// Stable insertion sort by price keeps registration order for ties.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Price < hits[j-1].Price; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// FakeCards is an in-memory CardFinder.
type FakeCards struct {
	Cards []model.Card
	Err   error
}

// FindCard returns the first card with baseID listing rarity, ignoring case.
func (f *FakeCards) FindCard(ctx context.Context, baseID, rarity string) (model.Card, error) {
	if f.Err != nil {
		return model.Card{}, f.Err
	}
	for _, c := range f.Cards {
		if c.ID != baseID {
			continue
		}
		for _, r := range c.Rarities {
			if strings.EqualFold(r, rarity) {
				return c, nil
			}
		}
	}
	return model.Card{}, fmt.Errorf("card %s+%s: %w", baseID, rarity, ErrNotFound)
}
