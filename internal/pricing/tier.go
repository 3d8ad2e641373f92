package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Breakpoints are the quantity thresholds at which catalog prices change,
// in the same order as Entry.Prices.
var Breakpoints = [6]int{48, 144, 576, 1152, 2880, 10000}

// BreakpointIndex returns the index of the largest breakpoint <= quantity.
// Quantities below the first breakpoint use the first price; quantities above
// the last breakpoint keep the last price.
func BreakpointIndex(quantity int) int {
	idx := 0
	for i, b := range Breakpoints {
		if quantity >= b {
			idx = i
		}
	}
	return idx
}

// BreakpointFor returns the breakpoint whose price applies to quantity.
func BreakpointFor(quantity int) int {
	return Breakpoints[BreakpointIndex(quantity)]
}

// Resolve returns the unit price of entry for the requested quantity.
func Resolve(entry Entry, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	return entry.PriceAt(BreakpointIndex(quantity)), nil
}
