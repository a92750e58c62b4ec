package broker

import "fmt"

// Ledger holds cash and per-asset unit holdings for a fixed universe. Assets
// occupy stable slots in universe order, so iteration is deterministic.
// Cash and holdings are never negative.
type Ledger struct {
	symbols []string
	slots   map[string]int
	units   []float64
	cash    float64
}

// NewLedger creates a ledger with the given starting cash and zero holdings
// for every asset in universe.
func NewLedger(universe []string, cash float64) (*Ledger, error) {
	if cash < 0 {
		return nil, fmt.Errorf("negative starting cash %v", cash)
	}
	slots := make(map[string]int, len(universe))
	for i, sym := range universe {
		if _, dup := slots[sym]; dup {
			return nil, fmt.Errorf("duplicate asset %q in universe", sym)
		}
		slots[sym] = i
	}
	return &Ledger{
		symbols: append([]string(nil), universe...),
		slots:   slots,
		units:   make([]float64, len(universe)),
		cash:    cash,
	}, nil
}

// Symbols returns the universe in slot order.
func (l *Ledger) Symbols() []string { return l.symbols }

// Slot returns the slot index of sym.
func (l *Ledger) Slot(sym string) (int, bool) {
	i, ok := l.slots[sym]
	return i, ok
}

// Cash returns the uninvested cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// Units returns the holding in slot i.
func (l *Ledger) Units(i int) float64 { return l.units[i] }

// Holdings returns a copy of the unit holdings keyed by symbol.
func (l *Ledger) Holdings() map[string]float64 {
	out := make(map[string]float64, len(l.symbols))
	for i, sym := range l.symbols {
		out[sym] = l.units[i]
	}
	return out
}

// Value returns cash plus the marked value of every holding.
func (l *Ledger) Value(prices []float64) float64 {
	v := l.cash
	for i, u := range l.units {
		v += u * prices[i]
	}
	return v
}

// Weights returns each holding's share of total value in slot order. All
// weights are zero when the total value is not positive.
func (l *Ledger) Weights(prices []float64) []float64 {
	w := make([]float64, len(l.units))
	v := l.Value(prices)
	if v <= 0 {
		return w
	}
	for i, u := range l.units {
		w[i] = u * prices[i] / v
	}
	return w
}

// WeightMap is Weights keyed by symbol.
func (l *Ledger) WeightMap(prices []float64) map[string]float64 {
	w := l.Weights(prices)
	out := make(map[string]float64, len(w))
	for i, sym := range l.symbols {
		out[sym] = w[i]
	}
	return out
}
