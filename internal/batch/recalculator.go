package batch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/capquote/internal/obs"
	"github.com/noah-isme/capquote/internal/snapshot"
)

// TotalResolver is the snapshot operation a batch runs per order.
type TotalResolver interface {
	GetTotal(ctx context.Context, orderID string) (snapshot.Result, error)
	Recalculate(ctx context.Context, orderID string) (snapshot.Result, error)
}

// OrderLister pages through order ids in ascending order, returning ids
// greater than afterID.
type OrderLister interface {
	ListOrderIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// ItemError records why one order failed during a batch.
type ItemError struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

func (e ItemError) Error() string { return "order " + e.OrderID + ": " + e.Reason }

func (e ItemError) Unwrap() error { return e.Err }

// Report summarises a batch run.
type Report struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Fresh     int           `json:"fresh"`
	Failures  []ItemError   `json:"failures,omitempty"`
	Duration  time.Duration `json:"durationNs"`
}

func (r *Report) merge(other Report) {
	r.Total += other.Total
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Fresh += other.Fresh
	r.Failures = append(r.Failures, other.Failures...)
}

// Config groups Recalculator settings.
type Config struct {
	Resolver    TotalResolver
	Concurrency int
	PageSize    int
	// PageDelay pauses between sweep pages. Zero or negative means no pause;
	// the BATCH_PAGE_DELAY setting supplies the 100ms production default.
	PageDelay time.Duration
	// Force recomputes every order even when its snapshot is Fresh.
	Force  bool
	Logger *zerolog.Logger
}

// Recalculator refreshes snapshots for many orders with bounded parallelism.
type Recalculator struct {
	resolver    TotalResolver
	concurrency int
	pageSize    int
	pageDelay   time.Duration
	force       bool
	logger      zerolog.Logger
}

const (
	defaultConcurrency = 4
	defaultPageSize    = 200
)

// NewRecalculator constructs a Recalculator.
func NewRecalculator(cfg Config) (*Recalculator, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("batch: resolver is required")
	}
	r := &Recalculator{
		resolver:    cfg.Resolver,
		concurrency: cfg.Concurrency,
		pageSize:    cfg.PageSize,
		pageDelay:   cfg.PageDelay,
		force:       cfg.Force,
		logger:      zerolog.Nop(),
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}
	if r.pageSize <= 0 {
		r.pageSize = defaultPageSize
	}
	if r.pageDelay < 0 {
		r.pageDelay = 0
	}
	if cfg.Logger != nil {
		r.logger = cfg.Logger.With().Str("component", "batch_recalculator").Logger()
	}
	return r, nil
}

// Forced returns a copy that recomputes every order regardless of freshness.
func (r *Recalculator) Forced() *Recalculator {
	c := *r
	c.force = true
	return &c
}

// Run processes every id with at most concurrency calculations in flight.
// A failing order is recorded in the report and never stops its siblings.
// Cancelling ctx stops scheduling; unscheduled ids are reported as failed.
func (r *Recalculator) Run(ctx context.Context, ids []string, concurrency int) Report {
	start := time.Now()
	if concurrency <= 0 {
		concurrency = r.concurrency
	}
	ids = dedupe(ids)
	report := Report{Total: len(ids)}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)
	record := func(id string, fresh bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, ItemError{OrderID: id, Reason: err.Error(), Err: err})
			obs.IncBatchOrder("failed")
		case fresh:
			report.Succeeded++
			report.Fresh++
			obs.IncBatchOrder("fresh")
		default:
			report.Succeeded++
			obs.IncBatchOrder("succeeded")
		}
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			record(id, false, ctx.Err())
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(id string) {
			defer func() { <-sem }()
			defer wg.Done()
			fresh, err := r.process(ctx, id)
			if err != nil {
				r.logger.Warn().Err(err).Str("order_id", id).Msg("batch recalculation failed")
			}
			record(id, fresh, err)
		}(id)
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].OrderID < report.Failures[j].OrderID })
	report.Duration = time.Since(start)
	return report
}

func (r *Recalculator) process(ctx context.Context, id string) (fresh bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("panic during recalculation")
			r.logger.Error().Interface("panic", p).Str("order_id", id).Msg("recalculation panicked")
		}
	}()
	if r.force {
		_, err = r.resolver.Recalculate(ctx, id)
		return false, err
	}
	res, err := r.resolver.GetTotal(ctx, id)
	if err != nil {
		return false, err
	}
	return res.Fresh, nil
}

// Sweep walks every order the lister yields, one page at a time, pausing
// between pages. A listing error ends the sweep and is returned together with
// the report accumulated so far.
func (r *Recalculator) Sweep(ctx context.Context, lister OrderLister) (Report, error) {
	if lister == nil {
		return Report{}, errors.New("batch: lister is required")
	}
	start := time.Now()
	var (
		total Report
		after string
		pages int
	)
	for {
		if err := ctx.Err(); err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		ids, err := lister.ListOrderIDs(ctx, after, r.pageSize)
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		pages++
		page := r.Run(ctx, ids, r.concurrency)
		total.merge(page)
		r.logger.Info().
			Int("page", pages).
			Int("orders", page.Total).
			Int("failed", page.Failed).
			Msg("sweep page processed")

		after = ids[len(ids)-1]
		if len(ids) < r.pageSize {
			break
		}
		if r.pageDelay > 0 {
			timer := time.NewTimer(r.pageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	total.Duration = time.Since(start)
	r.logger.Info().
		Int("pages", pages).
		Int("total", total.Total).
		Int("succeeded", total.Succeeded).
		Int("failed", total.Failed).
		Int("fresh", total.Fresh).
		Dur("duration", total.Duration).
		Msg("sweep completed")
	return total, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
