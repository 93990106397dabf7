package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/guarzo/cardshop/internal/concurrent"
	"github.com/guarzo/cardshop/internal/listing"
	"github.com/guarzo/cardshop/internal/model"
	"github.com/guarzo/cardshop/internal/shipping"
)

// ErrNoSellerID is recorded when a shop has no canonical seller id.
var ErrNoSellerID = errors.New("shop has no seller id")

// resolve turns requests into extended requests, in source order. Only a
// strict run returns an error.
func (a *Aggregator) resolve(ctx context.Context, r *run, requests []model.ProductRequest) error {
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}

		baseID, rarity, err := req.Split()
		if err == nil {
			var card model.Card
			card, err = a.cards.FindCard(ctx, baseID, rarity)
			if err == nil {
				r.items = append(r.items, extend(req, card, rarity, a.maxPerItem))
				continue
			}
		}

		re := r.fail(model.StageResolve, req.ProductName, err)
		if a.strictResolve {
			return re
		}
	}
	return nil
}

func extend(req model.ProductRequest, card model.Card, rarity string, max int) model.ProductRequestExtended {
	// Prefer the stored spelling of the rarity code.
	for _, known := range card.Rarities {
		if strings.EqualFold(known, rarity) {
			rarity = known
			break
		}
	}
	req.Count = model.ClampCount(req.Count, max)
	return model.ProductRequestExtended{
		ProductRequest: req,
		CardID:         card.ID,
		CardName:       card.Name,
		CardNumber:     card.Number,
		Rarity:         rarity,
		Rarities:       append([]string(nil), card.Rarities...),
	}
}

// discover searches the marketplace for each item and groups the matching
// listings by shop.
func (a *Aggregator) discover(ctx context.Context, r *run) {
	for _, item := range r.items {
		target := listing.TargetFor(item)

		ids, err := a.catalog.SearchProducts(ctx, target.Query(), a.searchLimit)
		if err != nil {
			r.fail(model.StageDiscover, item.ProductName, err)
			continue
		}
		if len(ids) == 0 {
			r.log.Debug().Str("product", item.ProductName).Msg("no listings")
			continue
		}

		details, err := a.catalog.FetchProductDetails(ctx, ids)
		if err != nil {
			r.fail(model.StageDiscover, item.ProductName, err)
			continue
		}

		matches := listing.Filter(inOrder(details, ids), target, a.rules)
		r.log.Debug().
			Str("product", item.ProductName).
			Int("listings", len(details)).
			Int("matches", len(matches)).
			Msg("listings filtered")

		for _, d := range matches {
			if d.ShopID == "" {
				continue
			}
			r.merge(item.ProductName, d)
		}
	}
}

// merge records d under productName on its shop. Listings arrive cheapest
// first, so a shop keeps the first listing it gets for a product.
func (r *run) merge(productName string, d model.ProdDetail) {
	i, ok := r.index[d.ShopID]
	if !ok {
		shop := model.NewShop(d.ShopID)
		shop.ShipPrices = shipping.ConvenienceFees(d.ShippingMethods)
		shop.Products[productName] = model.ProductFromDetail(d)
		r.index[d.ShopID] = len(r.shops)
		r.shops = append(r.shops, shop)
		return
	}
	if r.shops[i].Has(productName) {
		return
	}
	shop := r.shops[i].Clone()
	shop.Products[productName] = model.ProductFromDetail(d)
	r.shops[i] = shop
}

// inOrder arranges details in the order of ids. Details for unknown ids are
// appended after the known ones.
func inOrder(details []model.ProdDetail, ids []string) []model.ProdDetail {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	slots := make([]*model.ProdDetail, len(ids))
	var extra []model.ProdDetail
	for i := range details {
		p, ok := pos[details[i].ID]
		if !ok || slots[p] != nil {
			extra = append(extra, details[i])
			continue
		}
		slots[p] = &details[i]
	}
	out := make([]model.ProdDetail, 0, len(details))
	for _, d := range slots {
		if d != nil {
			out = append(out, *d)
		}
	}
	return append(out, extra...)
}

// probeResult is what a probe task found for one shop.
type probeResult struct {
	sellerID  string
	additions map[string]model.ShopProduct
	errs      []error
}

// probe asks every shop for the requested cards it does not list yet. Tasks
// go through a rate-limited queue; additions are applied once it drains.
func (a *Aggregator) probe(ctx context.Context, r *run) {
	if len(r.shops) == 0 {
		return
	}

	limit := rate.Inf
	if a.probeInterval > 0 {
		limit = rate.Every(a.probeInterval)
	}
	runner := concurrent.NewRunner(concurrent.Config{
		Workers: a.probeWorkers,
		Rate:    limit,
		Burst:   1,
		Timeout: a.taskTimeout,
	})

	tasks := make([]concurrent.Task[probeResult], len(r.shops))
	for i, shop := range r.shops {
		shop := shop
		tasks[i] = func(ctx context.Context) (probeResult, error) {
			return a.probeShop(ctx, shop, r.items)
		}
	}

	outcomes := concurrent.Run(ctx, runner, tasks)
	added := 0
	for _, o := range outcomes {
		shopID := r.shops[o.Index].ID
		if o.Err != nil {
			r.fail(model.StageProbe, shopID, o.Err)
			continue
		}
		for _, err := range o.Value.errs {
			r.fail(model.StageProbe, shopID, err)
		}
		shop := r.shops[o.Index].Clone()
		shop.SellerID = o.Value.sellerID
		for name, p := range o.Value.additions {
			shop.Products[name] = p
			added++
		}
		r.shops[o.Index] = shop
	}

	m := runner.Metrics()
	r.log.Debug().
		Int("tasks", m.Tasks).
		Int("failed", m.Failed).
		Int("added", added).
		Dur("avg_latency", m.AverageLatency).
		Msg("probe queue drained")
}

// probeShop runs inside the probe queue. It reads shop and items but never
// writes them.
func (a *Aggregator) probeShop(ctx context.Context, shop model.Shop, items []model.ProductRequestExtended) (probeResult, error) {
	sellerID, err := a.catalog.FetchShopInfo(ctx, shop.ID)
	if err != nil {
		return probeResult{}, err
	}
	if sellerID == "" {
		return probeResult{}, ErrNoSellerID
	}

	res := probeResult{sellerID: sellerID, additions: make(map[string]model.ShopProduct)}
	for _, item := range items {
		if shop.Has(item.ProductName) {
			continue
		}
		if _, done := res.additions[item.ProductName]; done {
			continue
		}

		target := listing.TargetFor(item)
		ids, err := a.catalog.SearchShopProducts(ctx, sellerID, target.Query(), a.shopSearchLimit)
		if err != nil {
			res.errs = append(res.errs, fmt.Errorf("probe %s: %w", item.ProductName, err))
			continue
		}
		if len(ids) == 0 {
			continue
		}

		details, err := a.catalog.FetchProductDetails(ctx, ids)
		if err != nil {
			res.errs = append(res.errs, fmt.Errorf("probe %s: %w", item.ProductName, err))
			continue
		}

		matches := listing.Filter(inOrder(details, ids), target, a.rules)
		if len(matches) == 0 {
			continue
		}
		res.additions[item.ProductName] = model.ProductFromDetail(matches[0])
	}
	return res, nil
}

// attachShipping fetches shipping discounts for every shop at once and fills
// in FreeShip, falling back to the sentinel entry when nothing is known.
func (a *Aggregator) attachShipping(ctx context.Context, r *run) {
	if len(r.shops) == 0 {
		return
	}

	workers := a.shippingWorkers
	if workers <= 0 || workers > len(r.shops) {
		workers = len(r.shops)
	}
	runner := concurrent.NewRunner(concurrent.Config{
		Workers:     workers,
		Timeout:     a.taskTimeout,
		MaxAttempts: a.shippingRetry,
		Retry:       concurrent.DefaultRetry,
		Backoff:     a.retryBackoff,
	})

	tasks := make([]concurrent.Task[map[string]float64], len(r.shops))
	for i, shop := range r.shops {
		shopID := shop.ID
		tasks[i] = func(ctx context.Context) (map[string]float64, error) {
			return a.catalog.FetchShopShippingInfo(ctx, shopID)
		}
	}

	outcomes := concurrent.Run(ctx, runner, tasks)
	fallbacks := 0
	for _, o := range outcomes {
		shop := r.shops[o.Index].Clone()
		var conditions map[string]float64
		if o.Err != nil {
			r.fail(model.StageShipping, shop.ID, o.Err)
		} else {
			conditions = o.Value
		}
		shop.FreeShip = shipping.Resolve(shop, conditions)
		if shipping.IsFallback(shop.FreeShip) {
			fallbacks++
		}
		r.shops[o.Index] = shop
	}
	m := runner.Metrics()
	r.log.Info().
		Int("shops", len(r.shops)).
		Int("fallbacks", fallbacks).
		Int("attempts", m.Attempts).
		Msg("shipping complete")
}
