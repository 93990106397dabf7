package ruten

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind names a marketplace endpoint.
type Kind int

const (
	KindSearch Kind = iota
	KindDetails
	KindShopSearch
	KindShipping
	KindShopInfo
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindDetails:
		return "details"
	case KindShopSearch:
		return "shop-search"
	case KindShipping:
		return "shipping"
	case KindShopInfo:
		return "shop-info"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	MaxSearchLimit     = 100
	MaxShopSearchLimit = 50
)

// Request is one of the endpoint requests below. The set is closed.
type Request interface {
	Kind() Kind
	// Subject identifies the product or shop the request is about.
	Subject() string
	url(cfg Config) string
}

// SearchRequest lists listing ids for a query, cheapest first.
type SearchRequest struct {
	Query string
	Limit int
}

// DetailsRequest fetches full listing records in one batch.
type DetailsRequest struct {
	IDs []string
}

// ShopSearchRequest lists listing ids for a query within one seller's store.
type ShopSearchRequest struct {
	SellerID string
	Query    string
	Limit    int
}

// ShippingRequest fetches a shop's shipping discount conditions.
type ShippingRequest struct {
	ShopID string
}

// ShopInfoRequest fetches a shop's store profile.
type ShopInfoRequest struct {
	ShopID string
}

func (SearchRequest) Kind() Kind     { return KindSearch }
func (DetailsRequest) Kind() Kind    { return KindDetails }
func (ShopSearchRequest) Kind() Kind { return KindShopSearch }
func (ShippingRequest) Kind() Kind   { return KindShipping }
func (ShopInfoRequest) Kind() Kind   { return KindShopInfo }

func (r SearchRequest) Subject() string     { return r.Query }
func (r DetailsRequest) Subject() string    { return strings.Join(r.IDs, ",") }
func (r ShopSearchRequest) Subject() string { return r.SellerID + ":" + r.Query }
func (r ShippingRequest) Subject() string   { return r.ShopID }
func (r ShopInfoRequest) Subject() string   { return r.ShopID }

func (r SearchRequest) url(cfg Config) string {
	q := url.Values{}
	q.Set("q", r.Query)
	q.Set("type", "direct")
	q.Set("sort", "prc/ac")
	q.Set("offset", "1")
	q.Set("limit", strconv.Itoa(clampLimit(r.Limit, MaxSearchLimit)))
	return fmt.Sprintf("%s/core/prod?%s", cfg.SearchBaseURL, q.Encode())
}

func (r DetailsRequest) url(cfg Config) string {
	q := url.Values{}
	q.Set("id", strings.Join(r.IDs, ","))
	return fmt.Sprintf("%s/prod?%s", cfg.ProductBaseURL, q.Encode())
}

func (r ShopSearchRequest) url(cfg Config) string {
	q := url.Values{}
	q.Set("q", r.Query)
	q.Set("sort", "prc/ac")
	q.Set("limit", strconv.Itoa(clampLimit(r.Limit, MaxShopSearchLimit)))
	return fmt.Sprintf("%s/core/seller/%s/prod?%s", cfg.SearchBaseURL, url.PathEscape(r.SellerID), q.Encode())
}

func (r ShippingRequest) url(cfg Config) string {
	return fmt.Sprintf("%s/shop/v1/index.php/shop/%s/discount", cfg.ShopBaseURL, url.PathEscape(r.ShopID))
}

func (r ShopInfoRequest) url(cfg Config) string {
	return fmt.Sprintf("%s/users/v1/index.php/%s/storeinfo", cfg.ShopBaseURL, url.PathEscape(r.ShopID))
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
