// Package report renders aggregation results for the command line.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/guarzo/cardshop/internal/model"
	"github.com/guarzo/cardshop/internal/shipping"
)

// ShopColumns is the header row of WriteShopsCSV.
var ShopColumns = []string{"shop", "seller", "product", "listing", "price", "quantity", "ship_prices", "free_ship"}

// EscapeCSVCell protects against CSV formula injection attacks
// by escaping cells that start with dangerous characters
func EscapeCSVCell(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '|', '%', '\t', '\r', '\n':
		return "'" + value
	}
	return value
}

// EscapeCSVRow escapes all cells in a row
func EscapeCSVRow(row []string) []string {
	escaped := make([]string, len(row))
	for i, cell := range row {
		escaped[i] = EscapeCSVCell(cell)
	}
	return escaped
}

// WriteShopsCSV writes one row per shop product. Shops keep result order,
// products within a shop are sorted by name.
func WriteShopsCSV(w io.Writer, res *model.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ShopColumns); err != nil {
		return err
	}

	for _, shop := range res.Shops {
		names := make([]string, 0, len(shop.Products))
		for name := range shop.Products {
			names = append(names, name)
		}
		sort.Strings(names)

		fees := carrierList(shop.ShipPrices)
		free := carrierList(shop.FreeShip)
		for _, name := range names {
			p := shop.Products[name]
			row := []string{
				shop.ID,
				shop.SellerID,
				name,
				p.ID,
				strconv.FormatFloat(p.Price, 'f', -1, 64),
				strconv.Itoa(p.QuantityAvailable),
				fees,
				free,
			}
			if err := cw.Write(EscapeCSVRow(row)); err != nil {
				return fmt.Errorf("writing shop %s: %w", shop.ID, err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, res *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

// carrierList formats a carrier map as "SEVEN=60;FAMI=55" in canonical
// carrier order.
func carrierList(m map[string]float64) string {
	parts := make([]string, 0, len(m))
	for _, c := range shipping.Carriers {
		if v, ok := m[c]; ok {
			parts = append(parts, c+"="+strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return strings.Join(parts, ";")
}
