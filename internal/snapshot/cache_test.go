package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/capquote/internal/lock"
	"github.com/noah-isme/capquote/internal/pricing"
	"github.com/noah-isme/capquote/internal/snapshot"
)

func flat(v string) []decimal.Decimal {
	d := decimal.RequireFromString(v)
	return []decimal.Decimal{d, d, d, d, d, d}
}

func testEngine(t *testing.T) *pricing.Engine {
	t.Helper()
	entries := []pricing.Entry{
		{Name: "Tier 2", Category: pricing.CategoryBaseProduct, Item: "cap", Variant: "Tier 2", Prices: flat("3.00")},
		{Name: "Large Rubber Patch", Category: pricing.CategoryLogoSetup, Item: "Rubber Patch", Variant: "Large", Prices: flat("1.20")},
		{Name: "Small Rubber Patch", Category: pricing.CategoryLogoSetup, Item: "Rubber Patch", Variant: "Small", Prices: flat("1.00")},
		{Name: "Large Mold Charge", Category: pricing.CategoryMoldCharge, Item: "mold-charge", Variant: "Large", Prices: flat("80"), FixedCharge: true},
		{Name: "Small Mold Charge", Category: pricing.CategoryMoldCharge, Item: "mold-charge", Variant: "Small", Prices: flat("50"), FixedCharge: true},
		{Name: "Fitted", Category: pricing.CategoryClosure, Prices: flat("0.50")},
	}
	catalog := pricing.NewCatalog(pricing.StaticSource(entries), zerolog.Nop())
	require.NoError(t, catalog.Refresh(context.Background()))
	engine, err := pricing.NewEngine(pricing.EngineConfig{Catalog: catalog})
	require.NoError(t, err)
	return engine
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]pricing.OrderConfiguration
}

var errNoOrder = errors.New("order not found")

func (m *memOrders) LoadOrder(_ context.Context, id string) (pricing.OrderConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return pricing.OrderConfiguration{}, errNoOrder
	}
	return o, nil
}

func (m *memOrders) set(id string, o pricing.OrderConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = o
}

type memStore struct {
	mu     sync.Mutex
	snaps  map[string]snapshot.Snapshot
	puts   int
	getErr error
	putErr error
}

func newMemStore() *memStore { return &memStore{snaps: map[string]snapshot.Snapshot{}} }

func (s *memStore) GetSnapshot(_ context.Context, id string) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return snapshot.Snapshot{}, s.getErr
	}
	snap, ok := s.snaps[id]
	if !ok {
		return snapshot.Snapshot{}, snapshot.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *memStore) PutSnapshot(_ context.Context, snap snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.snaps[snap.OrderID] = snap
	return nil
}

func (s *memStore) ClearSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

type countingCalc struct {
	inner *pricing.Engine
	calls atomic.Int32
}

func (c *countingCalc) Calculate(ctx context.Context, o pricing.OrderConfiguration) (pricing.CostBreakdown, error) {
	c.calls.Add(1)
	return c.inner.Calculate(ctx, o)
}

func patchOrder(qty int) pricing.OrderConfiguration {
	o := baseOrder()
	o.SelectedColors = map[string]map[string]int{"Black": {"OSFA": qty}}
	o.SelectedOptions = nil
	o.MultiSelectOptions = map[string][]string{pricing.OptionLogoSetup: {"Rubber Patch"}}
	return o
}

type fixture struct {
	cache  *snapshot.Cache
	orders *memOrders
	store  *memStore
	calc   *countingCalc
}

func newFixture(t *testing.T, locker snapshot.Locker) fixture {
	t.Helper()
	f := fixture{
		orders: &memOrders{orders: map[string]pricing.OrderConfiguration{"ord-1": patchOrder(576)}},
		store:  newMemStore(),
		calc:   &countingCalc{inner: testEngine(t)},
	}
	cache, err := snapshot.New(snapshot.Config{
		Store:   f.store,
		Orders:  f.orders,
		Engine:  f.calc,
		Locker:  locker,
		Timeout: time.Second,
		Now:     func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	f.cache = cache
	return f
}

func TestGetTotalStaleThenFresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)
	require.False(t, first.Fresh)
	require.True(t, first.Total.Equal(decimal.RequireFromString("2499.20")), first.Total.String())
	require.Equal(t, 576, first.Units)
	require.Equal(t, 1, f.store.puts)

	second, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)
	require.True(t, second.Fresh)
	require.True(t, second.Total.Equal(first.Total))
	require.Equal(t, first.ContentHash, second.ContentHash)
	require.EqualValues(t, 1, f.calc.calls.Load())
}

func TestGetTotalRecomputesOnHashMismatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)

	changed := patchOrder(576)
	changed.LogoSetupSelections["Rubber Patch"] = pricing.LogoSelection{Position: "Front", Size: "Small"}
	f.orders.set("ord-1", changed)

	res, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)
	require.False(t, res.Fresh)
	// 1728 + 576*1.00 + 50
	require.True(t, res.Total.Equal(decimal.RequireFromString("2354")), res.Total.String())
	require.EqualValues(t, 2, f.calc.calls.Load())
}

func TestNonPriceMutationKeepsSnapshotFresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)

	same := patchOrder(576)
	same.CalculationContext = pricing.ContextReceipt
	f.orders.set("ord-1", same)

	res, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.EqualValues(t, 1, f.calc.calls.Load())
}

func TestInvalidateForcesRecompute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)

	require.NoError(t, f.cache.Invalidate(ctx, "ord-1"))
	res, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)
	require.False(t, res.Fresh)
	require.EqualValues(t, 2, f.calc.calls.Load())

	res, err = f.cache.Recalculate(ctx, "ord-1")
	require.NoError(t, err)
	require.False(t, res.Fresh)
	require.EqualValues(t, 3, f.calc.calls.Load())
}

func TestGetTotalSurfacesCalculationErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.cache.GetTotal(ctx, "ord-1")
	require.NoError(t, err)

	broken := patchOrder(576)
	broken.PriceTier = "Tier 9"
	f.orders.set("ord-1", broken)

	_, err = f.cache.GetTotal(ctx, "ord-1")
	require.ErrorIs(t, err, pricing.ErrPricingDataUnavailable)

	empty := patchOrder(0)
	f.orders.set("ord-1", empty)
	_, err = f.cache.GetTotal(ctx, "ord-1")
	require.ErrorIs(t, err, pricing.ErrInvalidOrderData)

	_, err = f.cache.GetTotal(ctx, "missing")
	require.ErrorIs(t, err, errNoOrder)

	_, err = f.cache.GetTotal(ctx, "  ")
	require.Error(t, err)
}

func TestStoreFailuresDoNotFailReads(t *testing.T) {
	f := newFixture(t, nil)
	f.store.getErr = errors.New("store unavailable")
	f.store.putErr = errors.New("store unavailable")

	res, err := f.cache.GetTotal(context.Background(), "ord-1")
	require.NoError(t, err)
	require.False(t, res.Fresh)
	require.True(t, res.Total.Equal(decimal.RequireFromString("2499.2")))
}

func TestConcurrentReadsAreSerializedPerOrder(t *testing.T) {
	_, client := newRedis(t)
	f := newFixture(t, lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond})

	var wg sync.WaitGroup
	results := make([]snapshot.Result, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = f.cache.GetTotal(ctx, "ord-1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, results[i].Total.Equal(decimal.RequireFromString("2499.2")))
	}
	require.EqualValues(t, 1, f.calc.calls.Load())
	require.Equal(t, 1, f.store.puts)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := snapshot.New(snapshot.Config{})
	require.Error(t, err)
	_, err = snapshot.New(snapshot.Config{Store: newMemStore()})
	require.Error(t, err)
	_, err = snapshot.New(snapshot.Config{Store: newMemStore(), Orders: &memOrders{}})
	require.Error(t, err)
}

func TestGetTotalRejectsUnhashableOrder(t *testing.T) {
	f := newFixture(t, nil)
	order := patchOrder(576)
	order.SelectedColors["Red\xff"] = map[string]int{"OSFA": 1}
	f.orders.set("ord-1", order)

	_, err := f.cache.GetTotal(context.Background(), "ord-1")
	require.ErrorIs(t, err, pricing.ErrInvalidOrderData)
	require.EqualValues(t, 0, f.calc.calls.Load())
	require.Equal(t, 0, f.store.puts)
}
