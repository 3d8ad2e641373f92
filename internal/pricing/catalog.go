package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/capquote/internal/obs"
)

// Category identifies the cost line family of a catalog entry or CostItem.
type Category string

const (
	CategoryBaseProduct   Category = "base_product"
	CategoryLogoSetup     Category = "logo_setup"
	CategoryAccessories   Category = "accessories"
	CategoryClosure       Category = "closure"
	CategoryPremiumFabric Category = "premium_fabric"
	CategoryDelivery      Category = "delivery"
	CategoryMoldCharge    Category = "mold_charge"
)

// Categories lists every category in the order cost lines are built.
var Categories = []Category{
	CategoryBaseProduct,
	CategoryLogoSetup,
	CategoryAccessories,
	CategoryClosure,
	CategoryPremiumFabric,
	CategoryDelivery,
	CategoryMoldCharge,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Key is the structured identity of a catalog entry. Lookups never build
// display names; they build keys from the attributes of a selection.
type Key struct {
	Category Category `json:"category"`
	Item     string   `json:"item"`
	Variant  string   `json:"variant,omitempty"`
}

// NewKey normalises item and variant so that "Large", " large " and "LARGE"
// address the same entry.
func NewKey(category Category, item, variant string) Key {
	return Key{Category: category, Item: Normalize(item), Variant: Normalize(variant)}
}

func (k Key) String() string {
	if k.Variant == "" {
		return string(k.Category) + "/" + k.Item
	}
	return string(k.Category) + "/" + k.Item + "/" + k.Variant
}

// Normalize lower-cases the value and collapses whitespace into dashes.
func Normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), "-")
}

const (
	itemCap            = "cap"
	itemSizeEmbroidery = "size-embroidery"
	itemApplication    = "application"
	itemMoldCharge     = "mold-charge"
)

// BaseKey addresses the base product price table for a price tier ("Tier 2").
func BaseKey(priceTier string) Key { return NewKey(CategoryBaseProduct, itemCap, priceTier) }

// EmbroiderySizeKey addresses the size component of a composite logo price.
func EmbroiderySizeKey(size string) Key {
	return NewKey(CategoryLogoSetup, itemSizeEmbroidery, size)
}

// TechniqueKey addresses the technique component of a composite logo price.
func TechniqueKey(method string) Key { return NewKey(CategoryLogoSetup, method, "") }

// ApplicationKey addresses the surcharge of a non-default application method.
func ApplicationKey(application string) Key {
	return NewKey(CategoryLogoSetup, itemApplication, application)
}

// PatchKey addresses a size-qualified patch price ("Large Rubber Patch").
func PatchKey(method, size string) Key { return NewKey(CategoryLogoSetup, method, size) }

// MoldChargeKey addresses the one-time tooling fee for a patch size.
func MoldChargeKey(size string) Key { return NewKey(CategoryMoldCharge, itemMoldCharge, size) }

// OptionKey addresses a directly priced option value.
func OptionKey(category Category, value string) Key { return NewKey(category, value, "") }

// Entry is a priced catalog item with one unit price per breakpoint.
type Entry struct {
	Name        string            `json:"name"`
	Category    Category          `json:"category"`
	Item        string            `json:"item,omitempty"`
	Variant     string            `json:"variant,omitempty"`
	Prices      []decimal.Decimal `json:"prices"`
	FixedCharge bool              `json:"fixedCharge,omitempty"`
}

// Key derives the lookup key. Entries without an explicit item are keyed by name.
func (e Entry) Key() Key {
	item := e.Item
	if strings.TrimSpace(item) == "" {
		item = e.Name
	}
	return NewKey(e.Category, item, e.Variant)
}

// PriceAt returns the unit price stored for the breakpoint at index i.
func (e Entry) PriceAt(i int) decimal.Decimal {
	if i < 0 || i >= len(e.Prices) {
		return decimal.Zero
	}
	return e.Prices[i]
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %s has unknown category %q", ErrInvalidEntry, e.Name, e.Category)
	}
	if len(e.Prices) != len(Breakpoints) {
		return fmt.Errorf("%w: %s has %d prices, want %d", ErrInvalidEntry, e.Name, len(e.Prices), len(Breakpoints))
	}
	for i, p := range e.Prices {
		if p.IsNegative() {
			return fmt.Errorf("%w: %s has negative price at breakpoint %d", ErrInvalidEntry, e.Name, Breakpoints[i])
		}
	}
	return nil
}

// Table is an immutable snapshot of the catalog. A calculation reads from a
// single Table from start to finish.
type Table struct {
	entries  map[Key]Entry
	loadedAt time.Time
}

// NewTable validates entries and indexes them by key.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[Key]Entry, len(entries)), loadedAt: time.Now().UTC()}
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return nil, err
		}
		key := e.Key()
		if existing, ok := t.entries[key]; ok {
			return nil, fmt.Errorf("%w: %s and %s share key %s", ErrInvalidEntry, existing.Name, e.Name, key)
		}
		t.entries[key] = e
	}
	return t, nil
}

// Lookup returns the entry stored under key.
func (t *Table) Lookup(key Key) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[key]
	return e, ok
}

// Len reports the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// LoadedAt reports when the table was built.
func (t *Table) LoadedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.loadedAt
}

// Entries returns all entries sorted by key.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// Source loads the flat catalog table from its backing store.
type Source interface {
	LoadCatalog(ctx context.Context) ([]Entry, error)
}

// StaticSource serves a fixed list of entries.
type StaticSource []Entry

// LoadCatalog implements Source.
func (s StaticSource) LoadCatalog(context.Context) ([]Entry, error) {
	out := make([]Entry, len(s))
	copy(out, s)
	return out, nil
}

// TableProvider hands out the current catalog snapshot.
type TableProvider interface {
	Snapshot() (*Table, error)
}

// Catalog holds the current Table and swaps it atomically on Refresh. Readers
// that already took a snapshot keep using it until they finish.
type Catalog struct {
	source  Source
	logger  zerolog.Logger
	current atomic.Pointer[Table]
}

// NewCatalog constructs an empty catalog; call Refresh before calculating.
func NewCatalog(source Source, logger zerolog.Logger) *Catalog {
	return &Catalog{source: source, logger: logger.With().Str("component", "pricing_catalog").Logger()}
}

// Refresh reloads the table from the source. On failure the previous table
// stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c == nil || c.source == nil {
		return fmt.Errorf("%w: source not configured", ErrCatalogNotLoaded)
	}
	entries, err := c.source.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	table, err := NewTable(entries)
	if err != nil {
		return err
	}
	if violations := Lint(entries); len(violations) > 0 {
		for _, v := range violations {
			c.logger.Warn().Str("key", v.Key.String()).Str("kind", string(v.Kind)).Msg(v.Detail)
		}
	}
	c.current.Store(table)
	obs.SetCatalogEntries(table.Len())
	c.logger.Info().Int("entries", table.Len()).Msg("pricing catalog loaded")
	return nil
}

// Snapshot implements TableProvider.
func (c *Catalog) Snapshot() (*Table, error) {
	if c == nil {
		return nil, ErrCatalogNotLoaded
	}
	t := c.current.Load()
	if t == nil {
		return nil, ErrCatalogNotLoaded
	}
	return t, nil
}

// Loaded reports the size and load time of the current table.
func (c *Catalog) Loaded() (int, time.Time, bool) {
	t, err := c.Snapshot()
	if err != nil {
		return 0, time.Time{}, false
	}
	return t.Len(), t.LoadedAt(), true
}
