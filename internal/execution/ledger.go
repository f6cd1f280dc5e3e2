package execution

import (
	"github.com/rbasarat/backtester/types"
)

// lot is one still-open slice of a position, opened by a single fill.
type lot struct {
	quantity types.Volume // always positive
	price    types.Price
}

// positionLedger tracks open lots for one (strategy, instrument) pair in
// FIFO order, so a closing fill realizes P&L against the oldest opening
// fills first.
type positionLedger struct {
	side types.Side // side of the currently open lots; meaningless when empty
	lots []lot
}

// Apply books fill against the ledger and returns the realized P&L
// attributable to this fill: zero if the fill only opens or adds to a
// position, and the signed FIFO-matched P&L (before commission) for
// whatever portion of the fill closes existing lots.
func (l *positionLedger) Apply(fill types.Fill) types.Price {
	realized := types.Price{}

	if len(l.lots) == 0 || l.side == fill.Side {
		l.side = fill.Side
		l.lots = append(l.lots, lot{quantity: fill.Quantity, price: fill.Price})
		return realized
	}

	remaining := fill.Quantity
	for remaining.IsPositive() && len(l.lots) > 0 {
		open := l.lots[0]
		matched := open.quantity
		if matched.GreaterThan(remaining) {
			matched = remaining
		}

		var pnlPerUnit types.Price
		if l.side == types.Buy {
			pnlPerUnit = fill.Price.Sub(open.price)
		} else {
			pnlPerUnit = open.price.Sub(fill.Price)
		}
		realized = realized.Add(pnlPerUnit.Mul(matched))

		open.quantity = open.quantity.Sub(matched)
		remaining = remaining.Sub(matched)
		if open.quantity.IsZero() {
			l.lots = l.lots[1:]
		} else {
			l.lots[0] = open
		}
	}

	if remaining.IsPositive() {
		// The closing fill overshot every open lot; it flips the position
		// to the opposite side, opening a new lot with the leftover size.
		l.side = fill.Side
		l.lots = append(l.lots, lot{quantity: remaining, price: fill.Price})
	}

	return realized
}

// LedgerBook owns one FIFO positionLedger per (strategy, instrument) pair.
// The execution handler keeps a private LedgerBook for the trade P&L it
// passes to the risk manager;
// the engine keeps a separate one for reporting, so a strategy's live risk
// accounting and its post-run trade report are computed independently from
// the same fill stream.
type LedgerBook struct {
	ledgers map[ledgerKey]*positionLedger
}

type ledgerKey struct {
	strategy   types.StrategyID
	instrument types.InstrumentID
}

// NewLedgerBook returns an empty LedgerBook.
func NewLedgerBook() *LedgerBook {
	return &LedgerBook{ledgers: make(map[ledgerKey]*positionLedger)}
}

// Apply realizes fill's P&L against the (strategy, instrument) ledger,
// creating one if this is the first fill seen for that pair.
func (b *LedgerBook) Apply(fill types.Fill) types.Price {
	key := ledgerKey{fill.Strategy, fill.Instrument}
	ledger, ok := b.ledgers[key]
	if !ok {
		ledger = &positionLedger{}
		b.ledgers[key] = ledger
	}
	return ledger.Apply(fill)
}
