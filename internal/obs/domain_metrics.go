package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingCalculationsTotal counts engine calculations by caller context and outcome.
	PricingCalculationsTotal *prometheus.CounterVec
	// PricingCalculationLatency records engine calculation latency in milliseconds.
	PricingCalculationLatency *prometheus.HistogramVec
	// PricingOptionalMissTotal counts selected options that had no catalog entry.
	PricingOptionalMissTotal *prometheus.CounterVec
	// SnapshotLookupsTotal counts order snapshot reads by freshness outcome.
	SnapshotLookupsTotal *prometheus.CounterVec
	// BatchOrdersTotal counts batch recalculation outcomes per order.
	BatchOrdersTotal *prometheus.CounterVec
	// CatalogEntries reports the number of entries in the loaded catalog.
	CatalogEntries prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_calculations_total",
			Help:      "Count of cost calculations by caller context and outcome.",
		}, []string{"context", "result"})
		PricingCalculationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_calculation_duration_ms",
			Help:      "Latency of cost calculations in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}, []string{"result"})
		PricingOptionalMissTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_optional_miss_total",
			Help:      "Count of selected options without a catalog entry.",
		}, []string{"category"})
		SnapshotLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_lookups_total",
			Help:      "Count of order snapshot reads by outcome.",
		}, []string{"result"})
		BatchOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_orders_total",
			Help:      "Count of orders processed by batch recalculation by outcome.",
		}, []string{"result"})
		CatalogEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pricing_catalog_entries",
			Help:      "Number of entries in the loaded pricing catalog.",
		})

		mustRegisterCollector(reg, PricingCalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingCalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, PricingCalculationLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PricingCalculationLatency = v
			}
		})
		mustRegisterCollector(reg, PricingOptionalMissTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingOptionalMissTotal = v
			}
		})
		mustRegisterCollector(reg, SnapshotLookupsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SnapshotLookupsTotal = v
			}
		})
		mustRegisterCollector(reg, BatchOrdersTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BatchOrdersTotal = v
			}
		})
		mustRegisterCollector(reg, CatalogEntries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				CatalogEntries = v
			}
		})
	})
}

// ObserveCalculation records the outcome of one engine calculation. It is a
// no-op until MustRegisterDomainMetrics has run.
func ObserveCalculation(context, result string, d time.Duration) {
	if PricingCalculationsTotal != nil {
		PricingCalculationsTotal.WithLabelValues(context, result).Inc()
	}
	if PricingCalculationLatency != nil {
		PricingCalculationLatency.WithLabelValues(result).Observe(DurationMillis(d))
	}
}

// IncOptionalMiss counts one unpriced optional selection.
func IncOptionalMiss(category string) {
	if PricingOptionalMissTotal != nil {
		PricingOptionalMissTotal.WithLabelValues(category).Inc()
	}
}

// IncSnapshotLookup counts one snapshot read (fresh, stale or error).
func IncSnapshotLookup(result string) {
	if SnapshotLookupsTotal != nil {
		SnapshotLookupsTotal.WithLabelValues(result).Inc()
	}
}

// IncBatchOrder counts one batch item outcome.
func IncBatchOrder(result string) {
	if BatchOrdersTotal != nil {
		BatchOrdersTotal.WithLabelValues(result).Inc()
	}
}

// SetCatalogEntries publishes the size of the loaded catalog.
func SetCatalogEntries(n int) {
	if CatalogEntries != nil {
		CatalogEntries.Set(float64(n))
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
