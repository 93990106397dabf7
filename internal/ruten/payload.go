package ruten

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/guarzo/cardshop/internal/model"
)

type searchResponse struct {
	TotalRows int `json:"TotalRows"`
	Rows      []struct {
		ID string `json:"Id"`
	} `json:"Rows"`
}

func (r searchResponse) ids() []string {
	ids := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.ID != "" {
			ids = append(ids, row.ID)
		}
	}
	return ids
}

type productPayload struct {
	ProdID     string            `json:"ProdId"`
	ProdName   string            `json:"ProdName"`
	PriceRange []amount          `json:"PriceRange"`
	Price      amount            `json:"Price"`
	StockQty   int               `json:"StockQty"`
	SoldQty    int               `json:"SoldQty"`
	SellerID   string            `json:"SellerId"`
	DeliverWay map[string]amount `json:"DeliverWay"`
}

func (p productPayload) detail() model.ProdDetail {
	price := float64(p.Price)
	if len(p.PriceRange) > 0 {
		price = float64(p.PriceRange[0])
	}
	qty := p.StockQty - p.SoldQty
	if qty < 0 {
		qty = 0
	}
	methods := make(map[string]float64, len(p.DeliverWay))
	for code, fee := range p.DeliverWay {
		methods[code] = float64(fee)
	}
	return model.ProdDetail{
		ID:                p.ProdID,
		Name:              p.ProdName,
		Price:             price,
		QuantityAvailable: qty,
		ShopID:            p.SellerID,
		ShippingMethods:   methods,
	}
}

// envelope is the wrapper used by the shop endpoints.
type envelope[T any] struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Data   T      `json:"data"`
}

func (e envelope[T]) check(req Request) error {
	if e.Status != "" && !strings.EqualFold(e.Status, "success") {
		return fetchError(req, 0, fmt.Errorf("%w: status %q: %s", ErrPayload, e.Status, e.Msg))
	}
	return nil
}

type shippingPayload struct {
	Conditions map[string]amount `json:"discount_conditions"`
}

type shopInfoPayload struct {
	UserID   flexString `json:"user_id"`
	UserNick string     `json:"user_nick"`
}

// amount accepts a JSON number or a numeric string.
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", b, err)
	}
	*a = amount(f)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flexString %s: %w", b, err)
	}
	*f = flexString(n.String())
	return nil
}
