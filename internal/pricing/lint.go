package pricing

import (
	"fmt"
	"sort"
)

// ViolationKind classifies a catalog data-quality defect.
type ViolationKind string

const (
	ViolationNonMonotonic ViolationKind = "non_monotonic"
	ViolationDuplicateKey ViolationKind = "duplicate_key"
	ViolationPriceCount   ViolationKind = "price_count"
	ViolationNegative     ViolationKind = "negative_price"
	ViolationCategory     ViolationKind = "unknown_category"
)

// Violation describes one defect found by Lint.
type Violation struct {
	Key        Key           `json:"key"`
	Name       string        `json:"name"`
	Kind       ViolationKind `json:"kind"`
	Breakpoint int           `json:"breakpoint,omitempty"`
	Detail     string        `json:"detail"`
}

// Lint checks catalog entries for volume-discount monotonicity and structural
// defects. Fixed charges are exempt from the monotonicity rule since only
// their first price is ever billed.
func Lint(entries []Entry) []Violation {
	var out []Violation
	seen := make(map[Key]string, len(entries))
	for _, e := range entries {
		key := e.Key()
		if !e.Category.Valid() {
			out = append(out, Violation{Key: key, Name: e.Name, Kind: ViolationCategory,
				Detail: fmt.Sprintf("unknown category %q", e.Category)})
		}
		if prev, ok := seen[key]; ok {
			out = append(out, Violation{Key: key, Name: e.Name, Kind: ViolationDuplicateKey,
				Detail: fmt.Sprintf("key already used by %q", prev)})
		}
		seen[key] = e.Name
		if len(e.Prices) != len(Breakpoints) {
			out = append(out, Violation{Key: key, Name: e.Name, Kind: ViolationPriceCount,
				Detail: fmt.Sprintf("has %d prices, want %d", len(e.Prices), len(Breakpoints))})
			continue
		}
		for i, p := range e.Prices {
			if p.IsNegative() {
				out = append(out, Violation{Key: key, Name: e.Name, Kind: ViolationNegative, Breakpoint: Breakpoints[i],
					Detail: fmt.Sprintf("price %s is negative", p)})
			}
		}
		if e.FixedCharge {
			continue
		}
		for i := 1; i < len(e.Prices); i++ {
			if e.Prices[i].GreaterThan(e.Prices[i-1]) {
				out = append(out, Violation{Key: key, Name: e.Name, Kind: ViolationNonMonotonic, Breakpoint: Breakpoints[i],
					Detail: fmt.Sprintf("price %s at %d exceeds %s at %d", e.Prices[i], Breakpoints[i], e.Prices[i-1], Breakpoints[i-1])})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
