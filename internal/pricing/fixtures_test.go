package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/capquote/internal/pricing"
)

func prices(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.RequireFromString(v))
	}
	return out
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func fixtureEntries() []pricing.Entry {
	return []pricing.Entry{
		{Name: "Tier 1 Blank Cap", Category: pricing.CategoryBaseProduct, Item: "cap", Variant: "Tier 1", Prices: prices("3.6", "3.0", "2.8", "2.6", "2.4", "2.2")},
		{Name: "Tier 2 Blank Cap", Category: pricing.CategoryBaseProduct, Item: "cap", Variant: "Tier 2", Prices: prices("4.4", "3.2", "3.0", "2.8", "2.6", "2.4")},
		{Name: "Large Size Embroidery", Category: pricing.CategoryLogoSetup, Item: "size embroidery", Variant: "Large", Prices: prices("1.00", "0.90", "0.80", "0.70", "0.60", "0.50")},
		{Name: "Small Size Embroidery", Category: pricing.CategoryLogoSetup, Item: "size embroidery", Variant: "Small", Prices: prices("0.60", "0.55", "0.50", "0.45", "0.40", "0.35")},
		{Name: "3D Embroidery", Category: pricing.CategoryLogoSetup, Prices: prices("0.30", "0.25", "0.20", "0.15", "0.10", "0.05")},
		{Name: "Run Application", Category: pricing.CategoryLogoSetup, Item: "application", Variant: "Run", Prices: prices("0.50", "0.45", "0.40", "0.35", "0.30", "0.25")},
		{Name: "Large Rubber Patch", Category: pricing.CategoryLogoSetup, Item: "Rubber Patch", Variant: "Large", Prices: prices("1.80", "1.50", "1.20", "1.00", "0.90", "0.80")},
		{Name: "Small Leather Patch", Category: pricing.CategoryLogoSetup, Item: "Leather Patch", Variant: "Small", Prices: prices("1.40", "1.20", "1.00", "0.90", "0.80", "0.70")},
		{Name: "Large Mold Charge", Category: pricing.CategoryMoldCharge, Item: "mold charge", Variant: "Large", FixedCharge: true, Prices: prices("80.00", "80.00", "80.00", "80.00", "80.00", "80.00")},
		{Name: "Small Mold Charge", Category: pricing.CategoryMoldCharge, Item: "mold charge", Variant: "Small", FixedCharge: true, Prices: prices("50.00", "50.00", "50.00", "50.00", "50.00", "50.00")},
		{Name: "Hang Tag", Category: pricing.CategoryAccessories, Prices: prices("0.40", "0.35", "0.30", "0.25", "0.20", "0.15")},
		{Name: "Sticker", Category: pricing.CategoryAccessories, Prices: prices("0.20", "0.18", "0.15", "0.12", "0.10", "0.08")},
		{Name: "Fitted", Category: pricing.CategoryClosure, Prices: prices("0.60", "0.50", "0.45", "0.40", "0.35", "0.30")},
		{Name: "Suede Leather", Category: pricing.CategoryPremiumFabric, Prices: prices("1.10", "1.00", "0.90", "0.85", "0.80", "0.75")},
		{Name: "Regular Delivery", Category: pricing.CategoryDelivery, Prices: prices("3.00", "2.50", "2.00", "1.50", "1.00", "0.80")},
	}
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *pricing.Engine {
	t.Helper()
	catalog := pricing.NewCatalog(pricing.StaticSource(fixtureEntries()), zerolog.Nop())
	require.NoError(t, catalog.Refresh(context.Background()))
	engine, err := pricing.NewEngine(pricing.EngineConfig{Catalog: catalog, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return engine
}

func unitsOrder(qty int) pricing.OrderConfiguration {
	return pricing.OrderConfiguration{
		SelectedColors: map[string]map[string]int{"Black": {"OSFA": qty}},
		PriceTier:      "Tier 2",
	}
}

func itemsIn(b pricing.CostBreakdown, category pricing.Category) []pricing.CostItem {
	var out []pricing.CostItem
	for _, it := range b.Items {
		if it.Category == category {
			out = append(out, it)
		}
	}
	return out
}
