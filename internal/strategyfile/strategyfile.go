// Package strategyfile loads and validates the JSON strategy file named
// by spec.md 6's STRATEGIES_FILE. Grounded on
// original_source/main.py::_load_strategies, replacing its
// exception-driven os.Exit(1) with a returned *apperr.ConfigError the
// caller decides how to report.
package strategyfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"tradesim/internal/apperr"
	"tradesim/internal/model"
)

// rawStrategy mirrors the on-disk schema. DisallowUnknownFields on the
// decoder (set in Load) rejects any field not listed here, per spec.md
// 6: "unknown fields are rejected".
type rawStrategy struct {
	StrategyID     string          `json:"strategy_id"`
	Instrument     string          `json:"instrument"`
	EntryCondition string          `json:"entry_condition"`
	ExitCondition  string          `json:"exit_condition"`
	Quantity       int64           `json:"quantity"`
	MaxLoss        decimal.Decimal `json:"max_loss"`
	MaxProfit      decimal.Decimal `json:"max_profit"`
}

type file struct {
	Strategies []rawStrategy `json:"strategies"`
}

// Load reads and validates the strategy file at path, returning one
// StrategyDefinition per entry in source-file order.
func Load(path string) ([]model.StrategyDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperr.ConfigError{Reason: fmt.Sprintf("cannot open strategies file %q", path), Err: err}
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var parsed file
	if err := dec.Decode(&parsed); err != nil {
		return nil, &apperr.ConfigError{Reason: fmt.Sprintf("cannot parse strategies file %q", path), Err: err}
	}

	seen := make(map[string]bool, len(parsed.Strategies))
	defs := make([]model.StrategyDefinition, 0, len(parsed.Strategies))
	for i, raw := range parsed.Strategies {
		def, err := validate(raw)
		if err != nil {
			return nil, &apperr.ConfigError{Reason: fmt.Sprintf("strategy at index %d", i), Err: err}
		}
		if seen[def.StrategyID] {
			return nil, &apperr.ConfigError{Reason: fmt.Sprintf("duplicate strategy_id %q", def.StrategyID)}
		}
		seen[def.StrategyID] = true
		defs = append(defs, def)
	}
	return defs, nil
}

func validate(raw rawStrategy) (model.StrategyDefinition, error) {
	if raw.StrategyID == "" {
		return model.StrategyDefinition{}, fmt.Errorf("missing strategy_id")
	}
	if raw.Instrument == "" {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: missing instrument", raw.StrategyID)
	}
	if raw.EntryCondition == "" {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: missing entry_condition", raw.StrategyID)
	}
	if raw.ExitCondition == "" {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: missing exit_condition", raw.StrategyID)
	}
	if raw.Quantity <= 0 {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: quantity must be a positive integer", raw.StrategyID)
	}
	if raw.MaxLoss.IsZero() || raw.MaxLoss.IsNegative() {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: max_loss must be a positive decimal", raw.StrategyID)
	}
	if raw.MaxProfit.IsZero() || raw.MaxProfit.IsNegative() {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %q: max_profit must be a positive decimal", raw.StrategyID)
	}

	return model.StrategyDefinition{
		StrategyID:     raw.StrategyID,
		Instrument:     model.Instrument(raw.Instrument),
		EntryCondition: raw.EntryCondition,
		ExitCondition:  raw.ExitCondition,
		Quantity:       raw.Quantity,
		MaxLoss:        raw.MaxLoss,
		MaxProfit:      raw.MaxProfit,
	}, nil
}
