// Package risk implements the pure stop-loss/target-hit check of
// spec.md 4.4, grounded on the decimal-based risk arithmetic in
// tommy-ca-opensqt_market_maker/market_maker/internal/risk/monitor.go.
package risk

import (
	"github.com/shopspring/decimal"
)

// Outcome is the result of a risk check on a single tick.
type Outcome int

const (
	None Outcome = iota
	StopLoss
	TargetHit
)

func (o Outcome) String() string {
	switch o {
	case StopLoss:
		return "STOP_LOSS"
	case TargetHit:
		return "TARGET_HIT"
	default:
		return "NONE"
	}
}

// Position is the minimal position shape the risk check needs.
type Position struct {
	EntryPrice decimal.Decimal
	Quantity   int64
	MaxLoss    decimal.Decimal
	MaxProfit  decimal.Decimal
}

// Check is the pure function of spec.md 4.3. Stop-loss is evaluated
// before target-hit so a position can never "miss" a stop-loss because
// both thresholds straddle the same tick.
func Check(pos Position, price decimal.Decimal) Outcome {
	pnl := price.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity))

	if pnl.LessThanOrEqual(pos.MaxLoss.Neg()) {
		return StopLoss
	}
	if pnl.GreaterThanOrEqual(pos.MaxProfit) {
		return TargetHit
	}
	return None
}
