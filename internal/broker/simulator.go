package broker

import (
	"log/slog"

	"polyagents/internal/domain"
)

// priceEpsilon keeps the unit conversion finite at a zero price.
const priceEpsilon = 1e-9

// Compile-time interface check.
var _ Executor = (*Simulator)(nil)

// Simulator fills trades at the supplied close prices with no costs or
// slippage. A buy that exceeds available cash is skipped entirely; a sell
// is capped at the position's value.
type Simulator struct {
	log *slog.Logger
}

// NewSimulator creates a Simulator. A nil logger discards output.
func NewSimulator(logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Simulator{log: logger.With("component", "simulator")}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// Execute walks the ledger's slots in universe order against one shared cash
// balance. Deltas for symbols outside the universe are ignored.
func (s *Simulator) Execute(l *Ledger, deltas domain.TradeDelta, prices []float64) Fills {
	var f Fills

	for i, sym := range l.symbols {
		d := deltas[sym]
		px := prices[i]

		switch {
		case d > 0:
			if l.cash < d {
				f.SkippedBuys++
				s.log.Debug("buy skipped", "symbol", sym, "amount", d, "cash", l.cash)
				continue
			}
			l.units[i] += d / (px + priceEpsilon)
			l.cash -= d
			f.Buys++
			f.Bought += d

		case d < 0:
			sell := min(-d, l.units[i]*px)
			if sell <= 0 {
				continue
			}
			l.units[i] = max(l.units[i]-sell/(px+priceEpsilon), 0)
			l.cash += sell
			f.Sells++
			f.Sold += sell
		}
	}

	if len(deltas) > 0 {
		for sym := range deltas {
			if _, ok := l.slots[sym]; !ok {
				s.log.Debug("delta for unknown symbol ignored", "symbol", sym)
			}
		}
	}
	return f
}
