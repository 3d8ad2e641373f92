package pricing

import "strings"

// Option keys used in OrderConfiguration.SelectedOptions and MultiSelectOptions.
const (
	OptionFabric       = "fabric-setup"
	OptionClosure      = "closure-type"
	OptionDelivery     = "delivery-type"
	OptionLogoSetup    = "logo-setup"
	OptionAccessories  = "accessories"
	DefaultApplication = "Direct"
)

// CalculationContext tags the caller of a calculation. It is carried into the
// breakdown metadata for audit only.
type CalculationContext string

const (
	ContextCart          CalculationContext = "cart"
	ContextAdmin         CalculationContext = "admin"
	ContextInvoice       CalculationContext = "invoice"
	ContextReceipt       CalculationContext = "receipt"
	ContextOrderCreation CalculationContext = "order_creation"
	ContextReorder       CalculationContext = "reorder"
	ContextQuote         CalculationContext = "quote"
	ContextSnapshot      CalculationContext = "snapshot"
)

// LogoSelection is the position/size/application chosen for one logo method.
type LogoSelection struct {
	Position    string `json:"position"`
	Size        string `json:"size"`
	Application string `json:"application,omitempty"`
}

// Complete reports whether the selection carries enough detail to be priced.
func (s LogoSelection) Complete() bool {
	return strings.TrimSpace(s.Position) != "" && strings.TrimSpace(s.Size) != ""
}

// ApplicationOrDefault returns the chosen application, defaulting to Direct.
func (s LogoSelection) ApplicationOrDefault() string {
	if app := strings.TrimSpace(s.Application); app != "" {
		return app
	}
	return DefaultApplication
}

// ShipmentContext describes the multi-order shipment an order is bundled into.
type ShipmentContext struct {
	ShipmentID       string `json:"shipmentId,omitempty"`
	CombinedQuantity int    `json:"combinedQuantity"`
}

// OrderConfiguration is the structured, price-relevant description of an order.
type OrderConfiguration struct {
	OrderID             string                    `json:"orderId,omitempty"`
	SelectedColors      map[string]map[string]int `json:"selectedColors"`
	SelectedOptions     map[string]string         `json:"selectedOptions,omitempty"`
	MultiSelectOptions  map[string][]string       `json:"multiSelectOptions,omitempty"`
	LogoSetupSelections map[string]LogoSelection  `json:"logoSetupSelections,omitempty"`
	PriceTier           string                    `json:"priceTier"`
	MoldWaivers         map[string]string         `json:"moldWaivers,omitempty"`
	ShipmentData        *ShipmentContext          `json:"shipmentData,omitempty"`
	CalculationContext  CalculationContext        `json:"calculationContext,omitempty"`
}

// TotalUnits sums every positive size quantity across all colors.
func (o OrderConfiguration) TotalUnits() int {
	total := 0
	for _, sizes := range o.SelectedColors {
		for _, qty := range sizes {
			if qty > 0 {
				total += qty
			}
		}
	}
	return total
}

// Option returns the trimmed single-value option stored under key.
func (o OrderConfiguration) Option(key string) string {
	return strings.TrimSpace(o.SelectedOptions[key])
}

// MultiOption returns the non-empty trimmed values stored under key, in order.
// Values that normalise to the same catalog key are kept once, first spelling
// wins, so a repeated selection is never billed twice.
func (o OrderConfiguration) MultiOption(key string) []string {
	values := o.MultiSelectOptions[key]
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		norm := Normalize(trimmed)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
