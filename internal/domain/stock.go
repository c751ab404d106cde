package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultVariant is the stock key used for products without colour variants.
const DefaultVariant = "default"

// StockLevels maps a variant key to its on-hand quantity. Products without
// variants hold a single DefaultVariant entry.
type StockLevels map[string]int

// NewStockLevels returns levels holding a single default quantity.
func NewStockLevels(qty int) StockLevels {
	return StockLevels{DefaultVariant: qty}
}

// UnmarshalJSON accepts either a scalar quantity or a variant map.
func (s *StockLevels) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = StockLevels{}
		return nil
	}
	if data[0] != '{' {
		var qty float64
		if err := json.Unmarshal(data, &qty); err != nil {
			return fmt.Errorf("stock: %w", err)
		}
		*s = NewStockLevels(int(qty))
		return nil
	}
	raw := map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("stock: %w", err)
	}
	levels := make(StockLevels, len(raw))
	for key, qty := range raw {
		levels[key] = int(qty)
	}
	*s = levels
	return nil
}

// Total sums the quantity across variants.
func (s StockLevels) Total() int {
	total := 0
	for _, qty := range s {
		if qty > 0 {
			total += qty
		}
	}
	return total
}

// Available reports the quantity held under key.
func (s StockLevels) Available(key string) int {
	qty := s[key]
	if qty < 0 {
		return 0
	}
	return qty
}

// Resolve maps a requested colour to the stock key that backs it. A colour is
// matched case-insensitively; products that only track a default quantity
// serve every colour from it. Unknown colours on variant products resolve to
// the colour itself, which has no stock.
func (s StockLevels) Resolve(variant string) string {
	variant = strings.TrimSpace(variant)
	if variant != "" {
		if _, ok := s[variant]; ok {
			return variant
		}
		for key := range s {
			if strings.EqualFold(key, variant) {
				return key
			}
		}
		if s.defaultOnly() {
			return DefaultVariant
		}
		return variant
	}
	if _, ok := s[DefaultVariant]; ok {
		return DefaultVariant
	}
	if len(s) == 1 {
		for key := range s {
			return key
		}
	}
	return DefaultVariant
}

// Lookup resolves variant like Resolve and reports whether the key is backed
// by a stock entry. Products with no stock entries at all accept any colour.
func (s StockLevels) Lookup(variant string) (string, bool) {
	key := s.Resolve(variant)
	if len(s) == 0 {
		return key, true
	}
	_, ok := s[key]
	return key, ok
}

func (s StockLevels) defaultOnly() bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[DefaultVariant]
	return ok && len(s) == 1
}

// Clone returns an independent copy.
func (s StockLevels) Clone() StockLevels {
	out := make(StockLevels, len(s))
	for key, qty := range s {
		out[key] = qty
	}
	return out
}

// Keys returns the variant keys in stable order.
func (s StockLevels) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
