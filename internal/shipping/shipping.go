// Package shipping normalizes convenience-store carrier codes and resolves
// per-shop free-shipping thresholds.
package shipping

import (
	"regexp"
	"strings"

	"github.com/guarzo/cardshop/internal/model"
)

// Convenience-store carriers, in canonical order.
const (
	Seven  = "SEVEN"
	Fami   = "FAMI"
	HiLife = "HILIFE"
)

// NoFreeShipThreshold marks a carrier with no known free-shipping benefit.
const NoFreeShipThreshold = 999999

// Carriers lists the recognized carriers in canonical order.
var Carriers = []string{Seven, Fami, HiLife}

var aliases = map[string]string{
	"SEVEN":  Seven,
	"FAMI":   Fami,
	"FAMILY": Fami,
	"HILIFE": HiLife,
}

var conditionPattern = regexp.MustCompile(`(?i)^(seven|family|fami|hilife)`)

// Normalize maps a carrier code to its canonical name.
func Normalize(code string) (string, bool) {
	c, ok := aliases[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// ConvenienceFees keeps the convenience-store entries of a listing's shipping
// methods, keyed by canonical carrier.
func ConvenienceFees(methods map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for code, fee := range methods {
		c, ok := Normalize(code)
		if !ok {
			continue
		}
		if cur, seen := out[c]; !seen || fee < cur {
			out[c] = fee
		}
	}
	return out
}

// ExtractFreeShip turns a shop's discount conditions into carrier thresholds.
// A zero threshold means free shipping on any order. Negative amounts are
// ignored, and the smallest threshold wins when aliases collide.
func ExtractFreeShip(conditions map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for name, amount := range conditions {
		m := conditionPattern.FindStringSubmatch(name)
		if m == nil || amount < 0 {
			continue
		}
		c, ok := Normalize(m[1])
		if !ok {
			continue
		}
		if cur, seen := out[c]; !seen || amount < cur {
			out[c] = amount
		}
	}
	return out
}

// FirstCarrier returns the first canonical carrier the shop ships with, or
// Seven when it declares none.
func FirstCarrier(shop model.Shop) string {
	for _, c := range Carriers {
		if _, ok := shop.ShipPrices[c]; ok {
			return c
		}
	}
	return Seven
}

// DefaultFreeShip is the fallback used when no real threshold is known.
func DefaultFreeShip(shop model.Shop) map[string]float64 {
	return map[string]float64{FirstCarrier(shop): NoFreeShipThreshold}
}

// Resolve extracts thresholds from conditions, falling back to DefaultFreeShip.
func Resolve(shop model.Shop, conditions map[string]float64) map[string]float64 {
	if free := ExtractFreeShip(conditions); len(free) > 0 {
		return free
	}
	return DefaultFreeShip(shop)
}

// IsFallback reports whether free is the sentinel entry from DefaultFreeShip.
func IsFallback(free map[string]float64) bool {
	if len(free) != 1 {
		return false
	}
	for _, v := range free {
		return v == NoFreeShipThreshold
	}
	return false
}
