package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/capquote/internal/pricing"
)

// ErrEmptyCatalog is returned when a source yields no entries.
var ErrEmptyCatalog = errors.New("catalog: no entries")

// Document is the on-disk catalog format.
type Document struct {
	Version string          `json:"version"`
	Entries []pricing.Entry `json:"entries"`
}

// FileSource reads the catalog from a JSON document.
type FileSource struct {
	Path string
}

// LoadCatalog implements pricing.Source.
func (s FileSource) LoadCatalog(ctx context.Context) ([]pricing.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, errors.New("catalog: file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if len(doc.Entries) == 0 {
		return nil, ErrEmptyCatalog
	}
	return doc.Entries, nil
}

// Querier is the subset of pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listCatalogSQL = `SELECT name, category, item, variant,
	price_48::text, price_144::text, price_576::text, price_1152::text, price_2880::text, price_10000::text,
	fixed_charge
FROM pricing_catalog
WHERE active
ORDER BY category, item, variant`

// PostgresSource reads the catalog from the pricing_catalog table.
type PostgresSource struct {
	DB Querier
}

// LoadCatalog implements pricing.Source.
func (s PostgresSource) LoadCatalog(ctx context.Context) ([]pricing.Entry, error) {
	if s.DB == nil {
		return nil, errors.New("catalog: database not configured")
	}
	rows, err := s.DB.Query(ctx, listCatalogSQL)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	var entries []pricing.Entry
	for rows.Next() {
		var (
			name, category, item, variant string
			raw                           [6]string
			fixed                         bool
		)
		if err := rows.Scan(&name, &category, &item, &variant,
			&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &fixed); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		entry := pricing.Entry{
			Name:        name,
			Category:    pricing.Category(category),
			Item:        item,
			Variant:     variant,
			FixedCharge: fixed,
			Prices:      make([]decimal.Decimal, 0, len(raw)),
		}
		for _, v := range raw {
			p, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("catalog: %s price %q: %w", name, v, err)
			}
			entry.Prices = append(entry.Prices, p)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}
	return entries, nil
}

// DefaultCacheKey is the redis key holding the cached catalog table.
const DefaultCacheKey = "pricing:catalog:v1"

// CachedSource serves the catalog from Redis when present and falls back to
// the wrapped source, repopulating the cache. Cache errors are logged and
// never fail a load.
type CachedSource struct {
	Source pricing.Source
	Cache  *Cache
	Key    string
	Logger *zerolog.Logger
}

// LoadCatalog implements pricing.Source.
func (s CachedSource) LoadCatalog(ctx context.Context) ([]pricing.Entry, error) {
	if s.Source == nil {
		return nil, errors.New("catalog: cached source has no backing source")
	}
	key := s.key()
	var cached []pricing.Entry
	ok, err := s.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.log().Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if ok && len(cached) > 0 {
		return cached, nil
	}
	entries, err := s.Source.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.SetJSON(ctx, key, entries); err != nil {
		s.log().Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return entries, nil
}

// Invalidate drops the cached table so the next load reads the backing source.
func (s CachedSource) Invalidate(ctx context.Context) error {
	return s.Cache.Delete(ctx, s.key())
}

func (s CachedSource) key() string {
	if strings.TrimSpace(s.Key) == "" {
		return DefaultCacheKey
	}
	return s.Key
}

func (s CachedSource) log() *zerolog.Logger {
	if s.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return s.Logger
}
