package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostItem is a single priced line. Items are built fresh for every
// calculation and never modified afterwards.
type CostItem struct {
	Name         string          `json:"name"`
	Category     Category        `json:"category"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Cost         decimal.Decimal `json:"cost"`
	Waived       bool            `json:"waived,omitempty"`
	WaivedReason string          `json:"waivedReason,omitempty"`
	Detail       string          `json:"detail"`
}

func newItem(name string, category Category, quantity int, unit decimal.Decimal, detail string) CostItem {
	return CostItem{
		Name:      name,
		Category:  category,
		Quantity:  quantity,
		UnitPrice: unit,
		Cost:      roundMoney(unit.Mul(decimal.NewFromInt(int64(quantity)))),
		Detail:    detail,
	}
}

// newFixedItem builds a one-time charge whose cost is the unit price itself.
func newFixedItem(name string, category Category, unit decimal.Decimal, detail string) CostItem {
	return CostItem{
		Name:      name,
		Category:  category,
		Quantity:  1,
		UnitPrice: unit,
		Cost:      roundMoney(unit),
		Detail:    detail,
	}
}

func (c CostItem) waive(reason string) CostItem {
	c.Waived = true
	c.WaivedReason = reason
	c.Quantity = 0
	return c
}

// roundMoney rounds to cents, half away from zero.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Subtotals holds one subtotal per category.
type Subtotals struct {
	BaseProduct   decimal.Decimal `json:"baseProduct"`
	LogoSetup     decimal.Decimal `json:"logoSetup"`
	Accessories   decimal.Decimal `json:"accessories"`
	Closure       decimal.Decimal `json:"closure"`
	PremiumFabric decimal.Decimal `json:"premiumFabric"`
	Delivery      decimal.Decimal `json:"delivery"`
	MoldCharge    decimal.Decimal `json:"moldCharge"`
}

func (s *Subtotals) field(category Category) *decimal.Decimal {
	switch category {
	case CategoryBaseProduct:
		return &s.BaseProduct
	case CategoryLogoSetup:
		return &s.LogoSetup
	case CategoryAccessories:
		return &s.Accessories
	case CategoryClosure:
		return &s.Closure
	case CategoryPremiumFabric:
		return &s.PremiumFabric
	case CategoryDelivery:
		return &s.Delivery
	case CategoryMoldCharge:
		return &s.MoldCharge
	default:
		return nil
	}
}

// Of returns the subtotal recorded for category.
func (s Subtotals) Of(category Category) decimal.Decimal {
	if f := s.field(category); f != nil {
		return *f
	}
	return decimal.Zero
}

// Metadata describes how a breakdown was produced.
type Metadata struct {
	CalculatedAt       time.Time          `json:"calculatedAt"`
	Context            CalculationContext `json:"context"`
	OrderID            string             `json:"orderId,omitempty"`
	PriceTier          string             `json:"priceTier"`
	ResolvedBreakpoint int                `json:"resolvedBreakpoint"`
	ShipmentUsed       bool               `json:"shipmentUsed"`
	ShipmentID         string             `json:"shipmentId,omitempty"`
	EngineVersion      string             `json:"engineVersion"`
}

// CostBreakdown is the aggregate result of a calculation.
type CostBreakdown struct {
	Items      []CostItem            `json:"items"`
	Subtotals  Subtotals             `json:"subtotals"`
	Subtotal   decimal.Decimal       `json:"subtotal"`
	TotalCost  decimal.Decimal       `json:"totalCost"`
	TotalUnits int                   `json:"totalUnits"`
	Misses     []OptionalPricingMiss `json:"misses,omitempty"`
	Metadata   Metadata              `json:"calculationMetadata"`
}

// Aggregate sums items into category subtotals and the grand total. Waived
// items are listed but contribute nothing. TotalCost equals Subtotal: no tax
// or fee layer applies at this level.
func Aggregate(items []CostItem) CostBreakdown {
	out := CostBreakdown{
		Items: make([]CostItem, len(items)),
		Subtotals: Subtotals{
			BaseProduct:   decimal.Zero,
			LogoSetup:     decimal.Zero,
			Accessories:   decimal.Zero,
			Closure:       decimal.Zero,
			PremiumFabric: decimal.Zero,
			Delivery:      decimal.Zero,
			MoldCharge:    decimal.Zero,
		},
	}
	copy(out.Items, items)
	for _, category := range Categories {
		sum := decimal.Zero
		for _, it := range items {
			if it.Category == category && !it.Waived {
				sum = sum.Add(it.Cost)
			}
		}
		*out.Subtotals.field(category) = sum
	}
	subtotal := decimal.Zero
	for _, it := range items {
		if !it.Waived {
			subtotal = subtotal.Add(it.Cost)
		}
	}
	out.Subtotal = subtotal
	out.TotalCost = subtotal
	return out
}
