package quote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/capquote/internal/batch"
	"github.com/noah-isme/capquote/internal/common"
	"github.com/noah-isme/capquote/internal/pricing"
	"github.com/noah-isme/capquote/internal/repo"
	"github.com/noah-isme/capquote/internal/snapshot"
)

// Calculator prices an order configuration.
type Calculator interface {
	Calculate(ctx context.Context, order pricing.OrderConfiguration) (pricing.CostBreakdown, error)
}

// Totals serves cached order totals.
type Totals interface {
	GetTotal(ctx context.Context, orderID string) (snapshot.Result, error)
	Invalidate(ctx context.Context, orderID string) error
}

// OrderStore reads and writes order configurations.
type OrderStore interface {
	LoadOrder(ctx context.Context, orderID string) (pricing.OrderConfiguration, error)
	UpdateConfiguration(ctx context.Context, orderID string, cfg pricing.OrderConfiguration) error
}

// CatalogManager reloads and exposes the pricing catalog.
type CatalogManager interface {
	Refresh(ctx context.Context) error
	Snapshot() (*pricing.Table, error)
}

// CacheInvalidator drops a cached copy of the catalog ahead of a refresh.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Enqueuer schedules background recalculation.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string, force bool) error
}

// BatchRunner recalculates many orders with bounded parallelism.
type BatchRunner interface {
	Run(ctx context.Context, ids []string, concurrency int) batch.Report
}

// ServiceConfig groups Service dependencies. Orders, Totals, Enqueuer and the
// batch runners are optional; the endpoints that need them answer 503 when absent.
type ServiceConfig struct {
	Engine       Calculator
	Catalog      CatalogManager
	CatalogCache CacheInvalidator
	Orders       OrderStore
	Totals       Totals
	Enqueuer     Enqueuer
	Batch        BatchRunner
	ForcedBatch  BatchRunner
	Logger       *zerolog.Logger
}

// Service implements the quote and order pricing use cases.
type Service struct {
	engine       Calculator
	catalog      CatalogManager
	catalogCache CacheInvalidator
	orders       OrderStore
	totals       Totals
	enqueuer     Enqueuer
	batch        BatchRunner
	forcedBatch  BatchRunner
	logger       zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errors.New("quote: engine is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "quote_service").Logger()
	}
	return &Service{
		engine:       cfg.Engine,
		catalog:      cfg.Catalog,
		catalogCache: cfg.CatalogCache,
		orders:       cfg.Orders,
		totals:       cfg.Totals,
		enqueuer:     cfg.Enqueuer,
		batch:        cfg.Batch,
		forcedBatch:  cfg.ForcedBatch,
		logger:       logger,
	}, nil
}

var errUnavailable = common.NewAppError("UNAVAILABLE", "feature not configured", http.StatusServiceUnavailable, nil)

// Quote prices a configuration that is not stored anywhere.
func (s *Service) Quote(ctx context.Context, order pricing.OrderConfiguration) (pricing.CostBreakdown, error) {
	if order.CalculationContext == "" {
		order.CalculationContext = pricing.ContextQuote
	}
	breakdown, err := s.engine.Calculate(ctx, order)
	if err != nil {
		return pricing.CostBreakdown{}, mapError(err)
	}
	return breakdown, nil
}

// OrderTotal returns the snapshot-backed total of a stored order.
func (s *Service) OrderTotal(ctx context.Context, orderID string) (snapshot.Result, error) {
	if s.totals == nil {
		return snapshot.Result{}, errUnavailable
	}
	id, err := repo.ParseOrderID(orderID)
	if err != nil {
		return snapshot.Result{}, mapError(err)
	}
	res, err := s.totals.GetTotal(ctx, id)
	if err != nil {
		return snapshot.Result{}, mapError(err)
	}
	return res, nil
}

// OrderBreakdown computes the full breakdown of a stored order.
func (s *Service) OrderBreakdown(ctx context.Context, orderID string, calcCtx pricing.CalculationContext) (pricing.CostBreakdown, error) {
	if s.orders == nil {
		return pricing.CostBreakdown{}, errUnavailable
	}
	order, err := s.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return pricing.CostBreakdown{}, mapError(err)
	}
	if calcCtx == "" {
		calcCtx = pricing.ContextAdmin
	}
	order.CalculationContext = calcCtx
	breakdown, err := s.engine.Calculate(ctx, order)
	if err != nil {
		return pricing.CostBreakdown{}, mapError(err)
	}
	return breakdown, nil
}

// UpdateConfiguration stores new price-affecting fields, clears the order's
// snapshot and schedules a background recalculation. Enqueue failures are
// logged; the next read recomputes anyway.
func (s *Service) UpdateConfiguration(ctx context.Context, orderID string, cfg pricing.OrderConfiguration) error {
	if s.orders == nil {
		return errUnavailable
	}
	id, err := repo.ParseOrderID(orderID)
	if err != nil {
		return mapError(err)
	}
	if err := s.orders.UpdateConfiguration(ctx, id, cfg); err != nil {
		return mapError(err)
	}
	if s.totals != nil {
		if err := s.totals.Invalidate(ctx, id); err != nil {
			return mapError(err)
		}
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, id, false); err != nil {
			s.logger.Warn().Err(err).Str("order_id", id).Msg("enqueue recalculation failed")
		}
	}
	return nil
}

// Recalculate runs a batch over ids and returns the report.
func (s *Service) Recalculate(ctx context.Context, ids []string, concurrency int, force bool) (batch.Report, error) {
	runner := s.batch
	if force {
		runner = s.forcedBatch
	}
	if runner == nil {
		return batch.Report{}, errUnavailable
	}
	report := runner.Run(ctx, ids, concurrency)
	s.logger.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Bool("force", force).
		Msg("admin recalculation finished")
	return report, nil
}

// CatalogStatus describes the loaded catalog.
type CatalogStatus struct {
	Entries  int       `json:"entries"`
	LoadedAt time.Time `json:"loadedAt"`
}

// RefreshCatalog reloads the catalog from its source. Stored snapshots are not
// touched; run a forced sweep to reprice existing orders.
func (s *Service) RefreshCatalog(ctx context.Context) (CatalogStatus, error) {
	if s.catalog == nil {
		return CatalogStatus{}, errUnavailable
	}
	if s.catalogCache != nil {
		if err := s.catalogCache.Invalidate(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("catalog cache invalidation failed")
		}
	}
	if err := s.catalog.Refresh(ctx); err != nil {
		return CatalogStatus{}, common.NewAppError("CATALOG_REFRESH_FAILED", "catalog refresh failed", http.StatusBadGateway, err)
	}
	table, err := s.catalog.Snapshot()
	if err != nil {
		return CatalogStatus{}, mapError(err)
	}
	return CatalogStatus{Entries: table.Len(), LoadedAt: table.LoadedAt()}, nil
}

// LintCatalog reports data-quality violations in the loaded catalog.
func (s *Service) LintCatalog(context.Context) ([]pricing.Violation, error) {
	if s.catalog == nil {
		return nil, errUnavailable
	}
	table, err := s.catalog.Snapshot()
	if err != nil {
		return nil, mapError(err)
	}
	return pricing.Lint(table.Entries()), nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if common.IsAppError(err) {
		return err
	}
	var catErr *pricing.CategoryError
	switch {
	case errors.Is(err, repo.ErrInvalidOrderID):
		return common.NewAppError("INVALID_ORDER_ID", "order id must be a UUID", http.StatusBadRequest, err)
	case errors.Is(err, repo.ErrOrderNotFound):
		return common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, err)
	case errors.Is(err, pricing.ErrInvalidOrderData), errors.Is(err, pricing.ErrInvalidQuantity):
		return common.NewAppError("INVALID_ORDER_DATA", "order has no units selected", http.StatusUnprocessableEntity, err)
	case errors.As(err, &catErr) && errors.Is(err, pricing.ErrPricingDataUnavailable):
		return common.NewAppError("PRICING_DATA_UNAVAILABLE", "required price is missing from the catalog", http.StatusConflict, err).
			WithDetails(map[string]string{"category": string(catErr.Category), "key": catErr.Key.String()})
	case errors.Is(err, pricing.ErrPricingDataUnavailable):
		return common.NewAppError("PRICING_DATA_UNAVAILABLE", "required price is missing from the catalog", http.StatusConflict, err)
	case errors.Is(err, pricing.ErrCatalogNotLoaded):
		return common.NewAppError("CATALOG_UNAVAILABLE", "pricing catalog not loaded", http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("TIMEOUT", "calculation timed out", http.StatusGatewayTimeout, err)
	default:
		return err
	}
}
