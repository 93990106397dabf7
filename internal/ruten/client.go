// Package ruten is a client for the Ruten marketplace JSON API.
package ruten

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/guarzo/cardshop/internal/cache"
	"github.com/guarzo/cardshop/internal/model"
)

const (
	DefaultSearchBaseURL  = "https://rtapi.ruten.com.tw/api/search/v3/index.php"
	DefaultProductBaseURL = "https://rtapi.ruten.com.tw/api/prod/v2/index.php"
	DefaultShopBaseURL    = "https://rapi.ruten.com.tw/api"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds configuration for the Ruten client.
type Config struct {
	SearchBaseURL     string
	ProductBaseURL    string
	ShopBaseURL       string
	CallTimeout       time.Duration // Deadline for a single request
	RequestsPerSecond float64       // 0 disables client-side limiting
	Burst             int
	SellerIDTTL       time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SearchBaseURL:     DefaultSearchBaseURL,
		ProductBaseURL:    DefaultProductBaseURL,
		ShopBaseURL:       DefaultShopBaseURL,
		CallTimeout:       15 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		SellerIDTTL:       24 * time.Hour,
	}
}

// Client issues read-only requests against the marketplace.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sellers *cache.Memory[string]
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "ruten").Logger() }
}

// NewClient creates a client. Zero config fields fall back to DefaultConfig.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.SearchBaseURL == "" {
		cfg.SearchBaseURL = def.SearchBaseURL
	}
	if cfg.ProductBaseURL == "" {
		cfg.ProductBaseURL = def.ProductBaseURL
	}
	if cfg.ShopBaseURL == "" {
		cfg.ShopBaseURL = def.ShopBaseURL
	}
	if cfg.SellerIDTTL <= 0 {
		cfg.SellerIDTTL = def.SellerIDTTL
	}
	cfg.SearchBaseURL = strings.TrimRight(cfg.SearchBaseURL, "/")
	cfg.ProductBaseURL = strings.TrimRight(cfg.ProductBaseURL, "/")
	cfg.ShopBaseURL = strings.TrimRight(cfg.ShopBaseURL, "/")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, burst),
		sellers: cache.NewMemory[string](1000, cfg.SellerIDTTL),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchProducts returns listing ids matching query in ascending price order.
func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]string, error) {
	var resp searchResponse
	if err := c.do(ctx, SearchRequest{Query: query, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.ids(), nil
}

// FetchProductDetails returns listing records for ids, in the order the
// marketplace sends them.
func (c *Client) FetchProductDetails(ctx context.Context, ids []string) ([]model.ProdDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp []productPayload
	if err := c.do(ctx, DetailsRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	details := make([]model.ProdDetail, 0, len(resp))
	for _, p := range resp {
		details = append(details, p.detail())
	}
	return details, nil
}

// SearchShopProducts returns listing ids matching query within one seller's store.
func (c *Client) SearchShopProducts(ctx context.Context, sellerID, query string, limit int) ([]string, error) {
	var resp searchResponse
	if err := c.do(ctx, ShopSearchRequest{SellerID: sellerID, Query: query, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.ids(), nil
}

// FetchShopShippingInfo returns discount condition name to minimum order amount.
func (c *Client) FetchShopShippingInfo(ctx context.Context, shopID string) (map[string]float64, error) {
	req := ShippingRequest{ShopID: shopID}
	var resp envelope[shippingPayload]
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(req); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(resp.Data.Conditions))
	for name, amount := range resp.Data.Conditions {
		out[name] = float64(amount)
	}
	return out, nil
}

// FetchShopInfo returns the canonical seller id of a shop. Results are cached.
func (c *Client) FetchShopInfo(ctx context.Context, shopID string) (string, error) {
	key := cache.SellerKey(shopID)
	if id, ok := c.sellers.Get(key); ok {
		return id, nil
	}

	req := ShopInfoRequest{ShopID: shopID}
	var resp envelope[shopInfoPayload]
	if err := c.do(ctx, req, &resp); err != nil {
		return "", err
	}
	if err := resp.check(req); err != nil {
		return "", err
	}

	id := strings.TrimSpace(string(resp.Data.UserID))
	if id != "" {
		c.sellers.Set(key, id, 0)
	}
	return id, nil
}

// PruneSellerCache drops expired seller ids and returns the cache counters.
func (c *Client) PruneSellerCache() cache.Stats {
	c.sellers.Clean()
	return c.sellers.Stats()
}

// do performs a GET for req and decodes the JSON body into into.
func (c *Client) do(ctx context.Context, req Request, into any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fetchError(req, 0, fmt.Errorf("rate limiter: %w", err))
	}

	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	u := req.url(c.cfg)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fetchError(req, 0, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "br, gzip")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Referer", "https://www.ruten.com.tw/")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fetchError(req, 0, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("kind", req.Kind().String()).
		Str("subject", req.Subject()).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("ruten request")

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fetchError(req, resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(b))))
	}

	body, err := decodedBody(resp)
	if err != nil {
		return fetchError(req, resp.StatusCode, fmt.Errorf("decompressing response: %w", err))
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(into); err != nil {
		return fetchError(req, resp.StatusCode, fmt.Errorf("%w: decoding response: %v", ErrPayload, err))
	}
	return nil
}

// decodedBody wraps the response body in the decoder its Content-Encoding
// names. Closing the result does not close resp.Body.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return io.NopCloser(resp.Body), nil
	}
}
