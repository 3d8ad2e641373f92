package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// buildFunc turns an order configuration into the cost lines of one category.
type buildFunc func(b *lineBuilder, order OrderConfiguration, units int, shipment *ShipmentContext) ([]CostItem, error)

// builders run in this order; the breakdown lists items in the same order.
var builders = []struct {
	category Category
	build    buildFunc
}{
	{CategoryBaseProduct, buildBaseProduct},
	{CategoryLogoSetup, buildLogoSetup},
	{CategoryAccessories, buildAccessories},
	{CategoryClosure, buildClosure},
	{CategoryPremiumFabric, buildPremiumFabric},
	{CategoryDelivery, buildDelivery},
	{CategoryMoldCharge, buildMoldCharge},
}

var deliveryNames = map[string]string{
	"regular":     "Regular Delivery",
	"priority":    "Priority Delivery",
	"air-freight": "Air Freight",
	"sea-freight": "Sea Freight",
}

// DeliveryKey maps a delivery-type option value to its catalog key.
func DeliveryKey(deliveryType string) Key {
	name := deliveryType
	if mapped, ok := deliveryNames[Normalize(deliveryType)]; ok {
		name = mapped
	}
	return OptionKey(CategoryDelivery, name)
}

// IsPatchMethod reports whether the logo method is a molded patch. Patch
// methods are priced by a single size-qualified entry and carry a mold charge.
func IsPatchMethod(method string) bool {
	lower := strings.ToLower(method)
	return strings.Contains(lower, "rubber patch") || strings.Contains(lower, "leather patch")
}

func isDefaultTechnique(method string) bool {
	return Normalize(method) == "flat-embroidery"
}

type priceMemoKey struct {
	key      Key
	quantity int
}

// lineBuilder carries per-calculation state: the catalog snapshot, a memo of
// resolved tier prices and the optional misses seen so far.
type lineBuilder struct {
	table        *Table
	memo         map[priceMemoKey]decimal.Decimal
	misses       []OptionalPricingMiss
	shipmentUsed bool
}

func newLineBuilder(table *Table) *lineBuilder {
	return &lineBuilder{table: table, memo: make(map[priceMemoKey]decimal.Decimal)}
}

func (b *lineBuilder) unitPrice(entry Entry, quantity int) (decimal.Decimal, error) {
	mk := priceMemoKey{key: entry.Key(), quantity: quantity}
	if p, ok := b.memo[mk]; ok {
		return p, nil
	}
	p, err := Resolve(entry, quantity)
	if err != nil {
		return decimal.Zero, err
	}
	b.memo[mk] = p
	return p, nil
}

// lookup finds an optional entry, recording a miss when it is absent.
func (b *lineBuilder) lookup(key Key, option string) (Entry, bool) {
	entry, ok := b.table.Lookup(key)
	if !ok {
		b.misses = append(b.misses, OptionalPricingMiss{
			Category: key.Category,
			Key:      key.String(),
			Option:   option,
			Reason:   "no catalog entry",
		})
	}
	return entry, ok
}

// optionItem prices a directly mapped option value.
func (b *lineBuilder) optionItem(category Category, value string, units int) ([]CostItem, error) {
	key := OptionKey(category, value)
	entry, ok := b.lookup(key, value)
	if !ok {
		return nil, nil
	}
	if entry.FixedCharge {
		unit := entry.PriceAt(0)
		return []CostItem{newFixedItem(entry.Name, category, unit, fmt.Sprintf("%s fixed %s", key, unit))}, nil
	}
	unit, err := b.unitPrice(entry, units)
	if err != nil {
		return nil, &CategoryError{Category: category, Key: key, Err: err}
	}
	return []CostItem{newItem(entry.Name, category, units, unit, fmt.Sprintf("%s=%s @ %d", key, unit, BreakpointFor(units)))}, nil
}

func buildBaseProduct(b *lineBuilder, order OrderConfiguration, units int, _ *ShipmentContext) ([]CostItem, error) {
	key := BaseKey(order.PriceTier)
	entry, ok := b.table.Lookup(key)
	if !ok {
		return nil, &CategoryError{Category: CategoryBaseProduct, Key: key, Err: ErrPricingDataUnavailable}
	}
	unit, err := b.unitPrice(entry, units)
	if err != nil {
		return nil, &CategoryError{Category: CategoryBaseProduct, Key: key, Err: err}
	}
	detail := fmt.Sprintf("%s=%s @ %d", key, unit, BreakpointFor(units))
	return []CostItem{newItem(entry.Name, CategoryBaseProduct, units, unit, detail)}, nil
}

func buildLogoSetup(b *lineBuilder, order OrderConfiguration, units int, _ *ShipmentContext) ([]CostItem, error) {
	var items []CostItem
	for _, method := range order.MultiOption(OptionLogoSetup) {
		sel, ok := logoSelectionFor(order, method)
		if !ok || !sel.Complete() {
			continue
		}
		item, ok, err := b.logoItem(method, sel, units)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// logoItem sums the components of a composite logo price. Every component
// must be priced; a missing one drops the whole line and records the miss.
func (b *lineBuilder) logoItem(method string, sel LogoSelection, units int) (CostItem, bool, error) {
	var keys []Key
	if IsPatchMethod(method) {
		keys = append(keys, PatchKey(method, sel.Size))
	} else {
		keys = append(keys, EmbroiderySizeKey(sel.Size))
		if !isDefaultTechnique(method) {
			keys = append(keys, TechniqueKey(method))
		}
	}
	application := sel.ApplicationOrDefault()
	if !strings.EqualFold(application, DefaultApplication) {
		keys = append(keys, ApplicationKey(application))
	}

	unit := decimal.Zero
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		entry, ok := b.lookup(key, method)
		if !ok {
			return CostItem{}, false, nil
		}
		p, err := b.unitPrice(entry, units)
		if err != nil {
			return CostItem{}, false, &CategoryError{Category: CategoryLogoSetup, Key: key, Err: err}
		}
		unit = unit.Add(p)
		parts = append(parts, fmt.Sprintf("%s=%s", key, p))
	}
	name := fmt.Sprintf("%s (%s, %s, %s)", method, strings.TrimSpace(sel.Position), strings.TrimSpace(sel.Size), application)
	detail := fmt.Sprintf("%s @ %d", strings.Join(parts, " + "), BreakpointFor(units))
	return newItem(name, CategoryLogoSetup, units, unit, detail), true, nil
}

func buildAccessories(b *lineBuilder, order OrderConfiguration, units int, _ *ShipmentContext) ([]CostItem, error) {
	var items []CostItem
	for _, value := range order.MultiOption(OptionAccessories) {
		lines, err := b.optionItem(CategoryAccessories, value, units)
		if err != nil {
			return nil, err
		}
		items = append(items, lines...)
	}
	return items, nil
}

func buildClosure(b *lineBuilder, order OrderConfiguration, units int, _ *ShipmentContext) ([]CostItem, error) {
	value := order.Option(OptionClosure)
	if value == "" {
		return nil, nil
	}
	return b.optionItem(CategoryClosure, value, units)
}

// buildPremiumFabric prices each part of a combined fabric value such as
// "Acrylic/Suede Leather". Standard fabrics have no entry and cost nothing.
func buildPremiumFabric(b *lineBuilder, order OrderConfiguration, units int, _ *ShipmentContext) ([]CostItem, error) {
	value := order.Option(OptionFabric)
	if value == "" {
		return nil, nil
	}
	var items []CostItem
	for _, part := range strings.Split(value, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lines, err := b.optionItem(CategoryPremiumFabric, part, units)
		if err != nil {
			return nil, err
		}
		items = append(items, lines...)
	}
	return items, nil
}

// buildDelivery resolves the tier from the shipment's combined quantity when
// that is larger, but bills only this order's units.
func buildDelivery(b *lineBuilder, order OrderConfiguration, units int, shipment *ShipmentContext) ([]CostItem, error) {
	deliveryType := order.Option(OptionDelivery)
	if deliveryType == "" {
		return nil, nil
	}
	key := DeliveryKey(deliveryType)
	entry, ok := b.lookup(key, deliveryType)
	if !ok {
		return nil, nil
	}
	tierQty := units
	if shipment != nil && shipment.CombinedQuantity > units {
		tierQty = shipment.CombinedQuantity
		b.shipmentUsed = true
	}
	unit, err := b.unitPrice(entry, tierQty)
	if err != nil {
		return nil, &CategoryError{Category: CategoryDelivery, Key: key, Err: err}
	}
	detail := fmt.Sprintf("%s=%s @ %d", key, unit, BreakpointFor(tierQty))
	if tierQty != units {
		detail += fmt.Sprintf(" (shipment quantity %d)", tierQty)
	}
	return []CostItem{newItem(entry.Name, CategoryDelivery, units, unit, detail)}, nil
}

// buildMoldCharge emits one fixed tooling charge per patch logo. The charge is
// the first-breakpoint price and never scales with quantity.
func buildMoldCharge(b *lineBuilder, order OrderConfiguration, _ int, _ *ShipmentContext) ([]CostItem, error) {
	var items []CostItem
	for _, method := range order.MultiOption(OptionLogoSetup) {
		if !IsPatchMethod(method) {
			continue
		}
		sel, ok := logoSelectionFor(order, method)
		if !ok || !sel.Complete() {
			continue
		}
		key := MoldChargeKey(sel.Size)
		entry, ok := b.lookup(key, method)
		if !ok {
			continue
		}
		unit := entry.PriceAt(0)
		item := newFixedItem(fmt.Sprintf("%s (%s)", entry.Name, method), CategoryMoldCharge, unit, fmt.Sprintf("%s fixed %s", key, unit))
		if reason, waived := moldWaiverFor(order, method); waived {
			item = item.waive(reason)
		}
		items = append(items, item)
	}
	return items, nil
}

// logoSelectionFor matches the selection by exact key first, then by
// normalised key in sorted key order.
func logoSelectionFor(order OrderConfiguration, method string) (LogoSelection, bool) {
	key, ok := matchKey(order.LogoSetupSelections, method)
	if !ok {
		return LogoSelection{}, false
	}
	return order.LogoSetupSelections[key], true
}

func moldWaiverFor(order OrderConfiguration, method string) (string, bool) {
	key, ok := matchKey(order.MoldWaivers, method)
	if !ok {
		return "", false
	}
	reason := strings.TrimSpace(order.MoldWaivers[key])
	if reason == "" {
		reason = "waived"
	}
	return reason, true
}

// matchKey finds the map key for method. Several keys may normalise alike;
// the lowest in byte order wins so the choice is repeatable.
func matchKey[V any](m map[string]V, method string) (string, bool) {
	if _, ok := m[method]; ok {
		return method, true
	}
	want := Normalize(method)
	keys := make([]string, 0, len(m))
	for key := range m {
		if Normalize(key) == want {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return keys[0], true
}
