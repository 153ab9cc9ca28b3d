package stock

import (
	"fmt"
	"strings"
)

// Strategy selects how an entity's own stock verdict is computed.
type Strategy string

const (
	StrategyStockItem     Strategy = "stock_item"
	StrategyStockRegistry Strategy = "stock_registry"
	StrategyIsAvailable   Strategy = "is_available"
	StrategyIsSalable     Strategy = "is_salable"
)

// DefaultStrategy is used when the configured strategy is not recognised.
const DefaultStrategy = StrategyStockRegistry

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyStockItem, StrategyStockRegistry, StrategyIsAvailable, StrategyIsSalable:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a configuration value to a Strategy.
// Accepts upper or lower case ("STOCK_ITEM", "stock_item").
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown stock strategy %q: must be one of stock_item, stock_registry, is_available, is_salable", s)
	}
	return st, nil
}
