package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/capquote/internal/obs"
	"github.com/noah-isme/capquote/internal/pricing"
)

// OrderLoader fetches the current configuration of an order.
type OrderLoader interface {
	LoadOrder(ctx context.Context, orderID string) (pricing.OrderConfiguration, error)
}

// Calculator prices an order configuration.
type Calculator interface {
	Calculate(ctx context.Context, order pricing.OrderConfiguration) (pricing.CostBreakdown, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Config groups Cache dependencies.
type Config struct {
	Store   Store
	Orders  OrderLoader
	Engine  Calculator
	Locker  Locker
	LockTTL time.Duration
	Timeout time.Duration
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// Result is the outcome of a total lookup.
type Result struct {
	OrderID      string          `json:"orderId"`
	Total        decimal.Decimal `json:"total"`
	Units        int             `json:"units"`
	ContentHash  string          `json:"contentHash"`
	Fresh        bool            `json:"fresh"`
	CalculatedAt time.Time       `json:"calculatedAt"`
}

// Cache serves order totals from stored snapshots and recomputes them when
// the order content no longer matches the stored hash.
type Cache struct {
	store   Store
	orders  OrderLoader
	engine  Calculator
	locker  Locker
	lockTTL time.Duration
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errors.New("snapshot: store is required")
	}
	if cfg.Orders == nil {
		return nil, errors.New("snapshot: order loader is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("snapshot: calculator is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "snapshot_cache").Logger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Cache{
		store:   cfg.Store,
		orders:  cfg.Orders,
		engine:  cfg.Engine,
		locker:  cfg.Locker,
		lockTTL: lockTTL,
		timeout: cfg.Timeout,
		logger:  logger,
		now:     now,
	}, nil
}

// GetTotal returns the order total, recomputing and persisting it when the
// snapshot is Stale. A failed recomputation is returned as an error; a stale
// total is never served.
func (c *Cache) GetTotal(ctx context.Context, orderID string) (Result, error) {
	return c.lookup(ctx, orderID, false)
}

// Recalculate recomputes and persists the total regardless of snapshot state.
func (c *Cache) Recalculate(ctx context.Context, orderID string) (Result, error) {
	return c.lookup(ctx, orderID, true)
}

// Invalidate clears the stored snapshot so the next read recomputes.
func (c *Cache) Invalidate(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("snapshot: order id is required")
	}
	if err := c.store.ClearSnapshot(ctx, orderID); err != nil {
		return err
	}
	c.logger.Debug().Str("order_id", orderID).Msg("snapshot invalidated")
	return nil
}

// LockKey names the per-order lock.
func LockKey(orderID string) string { return "lock:snapshot:" + orderID }

func (c *Cache) lookup(ctx context.Context, orderID string, force bool) (Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Result{}, errors.New("snapshot: order id is required")
	}
	var out Result
	err := c.withLock(ctx, orderID, func(ctx context.Context) error {
		res, err := c.readCheckWrite(ctx, orderID, force)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		obs.IncSnapshotLookup("error")
		return Result{}, err
	}
	return out, nil
}

func (c *Cache) withLock(ctx context.Context, orderID string, fn func(context.Context) error) error {
	if c.locker == nil {
		return fn(ctx)
	}
	return c.locker.WithLock(ctx, LockKey(orderID), c.lockTTL, fn)
}

func (c *Cache) readCheckWrite(ctx context.Context, orderID string, force bool) (Result, error) {
	order, err := c.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	order.OrderID = orderID
	order.CalculationContext = pricing.ContextSnapshot
	hash, err := ContentHash(order)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: order %s: %w", orderID, err)
	}

	if !force {
		snap, err := c.store.GetSnapshot(ctx, orderID)
		switch {
		case err == nil && snap.Matches(hash):
			obs.IncSnapshotLookup("fresh")
			return Result{
				OrderID:      orderID,
				Total:        snap.CachedTotal,
				Units:        snap.CachedUnits,
				ContentHash:  hash,
				Fresh:        true,
				CalculatedAt: *snap.LastCalculatedAt,
			}, nil
		case err != nil && !errors.Is(err, ErrSnapshotNotFound):
			c.logger.Warn().Err(err).Str("order_id", orderID).Msg("snapshot read failed, recomputing")
		}
	}
	obs.IncSnapshotLookup("stale")

	calcCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		calcCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	breakdown, err := c.engine.Calculate(calcCtx, order)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: recalculate order %s: %w", orderID, err)
	}

	at := c.now().UTC()
	snap := Snapshot{
		OrderID:          orderID,
		ContentHash:      hash,
		CachedTotal:      breakdown.TotalCost,
		CachedUnits:      breakdown.TotalUnits,
		LastCalculatedAt: &at,
	}
	if err := c.store.PutSnapshot(ctx, snap); err != nil {
		c.logger.Warn().Err(err).Str("order_id", orderID).Msg("snapshot write failed")
	}
	return Result{
		OrderID:      orderID,
		Total:        breakdown.TotalCost,
		Units:        breakdown.TotalUnits,
		ContentHash:  hash,
		Fresh:        false,
		CalculatedAt: at,
	}, nil
}
