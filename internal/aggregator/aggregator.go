// Package aggregator builds a cross-shop view of a card shopping list.
//
// A run goes through four stages. Resolve looks up canonical card metadata,
// discover searches the marketplace and groups matching listings by shop,
// probe asks every discovered shop for the other requested cards, and
// shipping attaches per-carrier free-shipping thresholds. Failures inside a
// stage are recorded on the result and never stop the run.
package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guarzo/cardshop/internal/listing"
	"github.com/guarzo/cardshop/internal/model"
	"github.com/guarzo/cardshop/internal/ruten"
)

const (
	// DefaultProbeInterval is the spacing between cross-sell probes.
	DefaultProbeInterval = 150 * time.Millisecond

	DefaultShippingAttempts = 3
	DefaultRetryBackoff     = 500 * time.Millisecond
)

// ErrNotConfigured is returned when an Aggregator lacks a collaborator.
var ErrNotConfigured = errors.New("aggregator: catalog and card finder are required")

// Catalog is the marketplace surface the aggregator uses.
type Catalog interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]string, error)
	FetchProductDetails(ctx context.Context, ids []string) ([]model.ProdDetail, error)
	SearchShopProducts(ctx context.Context, sellerID, query string, limit int) ([]string, error)
	FetchShopInfo(ctx context.Context, shopID string) (string, error)
	FetchShopShippingInfo(ctx context.Context, shopID string) (map[string]float64, error)
}

// CardFinder resolves card metadata by base id and rarity code.
type CardFinder interface {
	FindCard(ctx context.Context, baseID, rarity string) (model.Card, error)
}

var _ Catalog = (*ruten.Client)(nil)

// Aggregator runs aggregation passes. It holds no per-run state, so runs may
// overlap when the Catalog and CardFinder allow concurrent use.
type Aggregator struct {
	catalog Catalog
	cards   CardFinder
	log     zerolog.Logger

	probeInterval   time.Duration
	probeWorkers    int
	shippingWorkers int
	shippingRetry   int
	retryBackoff    time.Duration
	taskTimeout     time.Duration
	maxPerItem      int
	rules           listing.Rules
	strictResolve   bool
	searchLimit     int
	shopSearchLimit int
	now             func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger used for stage progress.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l.With().Str("component", "aggregator").Logger() }
}

// WithProbeInterval sets the minimum spacing between probe tasks.
func WithProbeInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.probeInterval = d }
}

// WithProbeWorkers sets how many shops are probed at once.
func WithProbeWorkers(n int) Option {
	return func(a *Aggregator) { a.probeWorkers = n }
}

// WithShippingWorkers bounds the shipping fan-out. Zero means one worker per shop.
func WithShippingWorkers(n int) Option {
	return func(a *Aggregator) { a.shippingWorkers = n }
}

// WithShippingRetry sets how many times a shipping fetch is attempted and the
// base backoff between attempts. Only temporary failures are retried.
func WithShippingRetry(attempts int, backoff time.Duration) Option {
	return func(a *Aggregator) {
		a.shippingRetry = attempts
		a.retryBackoff = backoff
	}
}

// WithTaskTimeout bounds each probe task and each shipping attempt. Zero
// leaves the catalog's own deadlines in charge.
func WithTaskTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.taskTimeout = d }
}

// WithMaxPerItem overrides the per-item purchase limit.
func WithMaxPerItem(n int) Option {
	return func(a *Aggregator) { a.maxPerItem = n }
}

// WithFilterRules replaces the listing filter rules.
func WithFilterRules(r listing.Rules) Option {
	return func(a *Aggregator) { a.rules = r }
}

// WithStrictResolve makes any resolve failure abort the run.
func WithStrictResolve(strict bool) Option {
	return func(a *Aggregator) { a.strictResolve = strict }
}

// WithSearchLimit sets the page size of the marketplace search.
func WithSearchLimit(n int) Option {
	return func(a *Aggregator) { a.searchLimit = n }
}

// WithShopSearchLimit sets the page size of the per-shop search.
func WithShopSearchLimit(n int) Option {
	return func(a *Aggregator) { a.shopSearchLimit = n }
}

// WithClock sets the time source for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator.
func New(catalog Catalog, cards CardFinder, opts ...Option) *Aggregator {
	a := &Aggregator{
		catalog:         catalog,
		cards:           cards,
		log:             zerolog.Nop(),
		probeInterval:   DefaultProbeInterval,
		probeWorkers:    1,
		shippingRetry:   DefaultShippingAttempts,
		retryBackoff:    DefaultRetryBackoff,
		maxPerItem:      model.MaxPerItem,
		rules:           listing.DefaultRules(),
		searchLimit:     ruten.MaxSearchLimit,
		shopSearchLimit: ruten.MaxShopSearchLimit,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.probeWorkers <= 0 {
		a.probeWorkers = 1
	}
	if a.shippingRetry <= 0 {
		a.shippingRetry = 1
	}
	if a.maxPerItem <= 0 {
		a.maxPerItem = model.MaxPerItem
	}
	return a
}

// run carries the state of a single Aggregate call.
type run struct {
	id    string
	log   zerolog.Logger
	items []model.ProductRequestExtended
	shops []model.Shop
	index map[string]int
	errs  []*model.RunError
}

func (r *run) fail(stage model.Stage, subject string, err error) *model.RunError {
	re := &model.RunError{Stage: stage, Subject: subject, Err: err}
	r.errs = append(r.errs, re)
	r.log.Warn().Err(err).Str("stage", string(stage)).Str("subject", subject).Msg("stage error")
	return re
}

// Aggregate runs every stage over requests and returns the shops found along
// with the errors met on the way. The error return is reserved for runs that
// could not start: a missing collaborator, a strict resolve failure, or a
// context that ended before resolution finished.
func (a *Aggregator) Aggregate(ctx context.Context, requests []model.ProductRequest) (*model.Result, error) {
	if a.catalog == nil || a.cards == nil {
		return nil, ErrNotConfigured
	}

	started := a.now()
	id := uuid.NewString()
	r := &run{
		id:    id,
		log:   a.log.With().Str("run_id", id).Logger(),
		index: make(map[string]int),
	}
	r.log.Info().Int("requests", len(requests)).Msg("aggregation started")

	if err := a.resolve(ctx, r, requests); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.log.Info().Int("resolved", len(r.items)).Msg("resolve complete")

	a.discover(ctx, r)
	r.log.Info().Int("shops", len(r.shops)).Msg("discover complete")

	a.probe(ctx, r)
	r.log.Info().Int("shops", len(r.shops)).Msg("probe complete")

	a.attachShipping(ctx, r)

	res := &model.Result{
		RunID:      id,
		Requests:   r.items,
		Shops:      r.shops,
		Errors:     r.errs,
		StartedAt:  started,
		FinishedAt: a.now(),
	}
	r.log.Info().
		Int("shops", len(res.Shops)).
		Int("errors", len(res.Errors)).
		Dur("elapsed", res.FinishedAt.Sub(started)).
		Msg("aggregation finished")
	return res, nil
}
