package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/capquote/internal/obs"
)

// EngineVersion is stamped on every breakdown.
const EngineVersion = "2.1.0"

// Engine computes cost breakdowns. It holds no mutable state beyond the
// catalog provider and is safe for concurrent use.
type Engine struct {
	catalog TableProvider
	logger  zerolog.Logger
	now     func() time.Time
	tracer  trace.Tracer
}

// EngineConfig groups Engine dependencies.
type EngineConfig struct {
	Catalog TableProvider
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("pricing engine: catalog is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "pricing_engine").Logger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		catalog: cfg.Catalog,
		logger:  logger,
		now:     func() time.Time { return now().UTC() },
		tracer:  otel.Tracer("pricing"),
	}, nil
}

// Calculate prices an order configuration. Fatal problems (no units, missing
// base price) return an error and no breakdown. The calculation context only
// flows into metadata and never changes the numbers.
func (e *Engine) Calculate(ctx context.Context, order OrderConfiguration) (CostBreakdown, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "pricing.calculate", trace.WithAttributes(
		attribute.String("pricing.context", string(order.CalculationContext)),
		attribute.String("pricing.price_tier", order.PriceTier),
	))
	defer span.End()

	breakdown, err := e.calculate(ctx, order)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("pricing.total", breakdown.TotalCost.String()))
	}
	obs.ObserveCalculation(contextLabel(order.CalculationContext), result, time.Since(start))
	return breakdown, err
}

func (e *Engine) calculate(ctx context.Context, order OrderConfiguration) (CostBreakdown, error) {
	if err := ctx.Err(); err != nil {
		return CostBreakdown{}, err
	}
	units := order.TotalUnits()
	if units <= 0 {
		return CostBreakdown{}, fmt.Errorf("%w: no colors or sizes selected", ErrInvalidOrderData)
	}
	table, err := e.catalog.Snapshot()
	if err != nil {
		return CostBreakdown{}, err
	}

	b := newLineBuilder(table)
	var items []CostItem
	for _, step := range builders {
		lines, err := step.build(b, order, units, order.ShipmentData)
		if err != nil {
			return CostBreakdown{}, err
		}
		items = append(items, lines...)
	}

	for _, miss := range b.misses {
		obs.IncOptionalMiss(string(miss.Category))
		e.logger.Warn().
			Str("category", string(miss.Category)).
			Str("key", miss.Key).
			Str("option", miss.Option).
			Str("order_id", order.OrderID).
			Msg("optional pricing miss")
	}

	out := Aggregate(items)
	out.TotalUnits = units
	out.Misses = b.misses
	out.Metadata = Metadata{
		CalculatedAt:       e.now(),
		Context:            order.CalculationContext,
		OrderID:            order.OrderID,
		PriceTier:          order.PriceTier,
		ResolvedBreakpoint: BreakpointFor(units),
		ShipmentUsed:       b.shipmentUsed,
		EngineVersion:      EngineVersion,
	}
	if b.shipmentUsed && order.ShipmentData != nil {
		out.Metadata.ShipmentID = order.ShipmentData.ShipmentID
	}
	return out, nil
}

func contextLabel(c CalculationContext) string {
	if c == "" {
		return "unspecified"
	}
	return string(c)
}
