package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantity is returned when a tier lookup receives a non-positive quantity.
	ErrInvalidQuantity = errors.New("pricing: quantity must be positive")
	// ErrInvalidOrderData is returned when the configuration selects no units.
	ErrInvalidOrderData = errors.New("pricing: invalid order data")
	// ErrPricingDataUnavailable is returned when a required catalog entry is missing.
	ErrPricingDataUnavailable = errors.New("pricing: pricing data unavailable")
	// ErrCatalogNotLoaded is returned when no catalog snapshot is available.
	ErrCatalogNotLoaded = errors.New("pricing: catalog not loaded")
	// ErrInvalidEntry marks malformed catalog data.
	ErrInvalidEntry = errors.New("pricing: invalid catalog entry")
)

// CategoryError attaches the failing category and catalog key to a fatal error.
type CategoryError struct {
	Category Category
	Key      Key
	Err      error
}

func (e *CategoryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v (category %s, key %s)", e.Err, e.Category, e.Key)
}

// Unwrap allows errors.Is to match the sentinel.
func (e *CategoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OptionalPricingMiss records a selected option that had no catalog entry.
// It is reported on the breakdown and logged; it never aborts a calculation.
type OptionalPricingMiss struct {
	Category Category `json:"category"`
	Key      string   `json:"key"`
	Option   string   `json:"option"`
	Reason   string   `json:"reason"`
}

func (m OptionalPricingMiss) Error() string {
	return fmt.Sprintf("pricing: %s option %q not priced (%s): %s", m.Category, m.Option, m.Key, m.Reason)
}
