package observability

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type valuationMetrics struct {
	computed   *prometheus.CounterVec
	confidence *prometheus.GaugeVec
	latency    prometheus.Histogram
}

type rentMetrics struct {
	processed *prometheus.CounterVec
	netRent   *prometheus.GaugeVec
}

type bridgeMetrics struct {
	transitions *prometheus.CounterVec
	duplicates  prometheus.Counter
}

type collateralMetrics struct {
	positions    *prometheus.CounterVec
	liquidations prometheus.Counter
	shortfall    prometheus.Gauge
}

var (
	valuationOnce sync.Once
	valuationReg  *valuationMetrics

	rentOnce sync.Once
	rentReg  *rentMetrics

	bridgeOnce sync.Once
	bridgeReg  *bridgeMetrics

	collateralOnce sync.Once
	collateralReg  *collateralMetrics
)

// Valuations returns the lazily-initialised registry tracking property
// valuation activity.
func Valuations() *valuationMetrics {
	valuationOnce.Do(func() {
		valuationReg = &valuationMetrics{
			computed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "valuation",
				Name:      "computed_total",
				Help:      "Count of property valuations segmented by data quality.",
			}, []string{"quality"}),
			confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "drems",
				Subsystem: "valuation",
				Name:      "confidence",
				Help:      "Latest valuation confidence score per property.",
			}, []string{"property"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "drems",
				Subsystem: "valuation",
				Name:      "fetch_duration_seconds",
				Help:      "Latency distribution for multi-source valuation fetches.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(valuationReg.computed, valuationReg.confidence, valuationReg.latency)
	})
	return valuationReg
}

// Observe records one completed valuation.
func (m *valuationMetrics) Observe(property string, confidence uint8, degraded bool, seconds float64) {
	if m == nil {
		return
	}
	quality := "full"
	if degraded {
		quality = "degraded"
	}
	m.computed.WithLabelValues(quality).Inc()
	m.confidence.WithLabelValues(property).Set(float64(confidence))
	if seconds >= 0 {
		m.latency.Observe(seconds)
	}
}

// Rent returns the registry tracking rent cycle processing.
func Rent() *rentMetrics {
	rentOnce.Do(func() {
		rentReg = &rentMetrics{
			processed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "rent",
				Name:      "periods_processed_total",
				Help:      "Count of rent periods processed segmented by data quality.",
			}, []string{"quality"}),
			netRent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "drems",
				Subsystem: "rent",
				Name:      "net_rent_usd",
				Help:      "Latest net rent in whole USD per property.",
			}, []string{"property"}),
		}
		prometheus.MustRegister(rentReg.processed, rentReg.netRent)
	})
	return rentReg
}

// Observe records one processed rent period.
func (m *rentMetrics) Observe(property string, netRentWei *big.Int, degraded bool) {
	if m == nil {
		return
	}
	quality := "full"
	if degraded {
		quality = "degraded"
	}
	m.processed.WithLabelValues(quality).Inc()
	m.netRent.WithLabelValues(property).Set(weiToUSD(netRentWei))
}

// Bridge returns the registry tracking transfer lifecycle transitions.
func Bridge() *bridgeMetrics {
	bridgeOnce.Do(func() {
		bridgeReg = &bridgeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "bridge",
				Name:      "transitions_total",
				Help:      "Count of transfer lifecycle transitions segmented by status.",
			}, []string{"status"}),
			duplicates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "bridge",
				Name:      "duplicate_deliveries_total",
				Help:      "Count of delivery notifications rejected as duplicates.",
			}),
		}
		prometheus.MustRegister(bridgeReg.transitions, bridgeReg.duplicates)
	})
	return bridgeReg
}

// Transition records one lifecycle transition.
func (m *bridgeMetrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Duplicate records one rejected duplicate delivery.
func (m *bridgeMetrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// Collateral returns the registry tracking synthetic position activity.
func Collateral() *collateralMetrics {
	collateralOnce.Do(func() {
		collateralReg = &collateralMetrics{
			positions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "collateral",
				Name:      "position_events_total",
				Help:      "Count of position lifecycle events segmented by kind.",
			}, []string{"kind"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "drems",
				Subsystem: "collateral",
				Name:      "liquidations_total",
				Help:      "Count of executed liquidations.",
			}),
			shortfall: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "drems",
				Subsystem: "collateral",
				Name:      "protocol_shortfall_usd",
				Help:      "Accumulated protocol shortfall from undercollateralised liquidations, whole USD.",
			}),
		}
		prometheus.MustRegister(collateralReg.positions, collateralReg.liquidations, collateralReg.shortfall)
	})
	return collateralReg
}

// Position records one position lifecycle event.
func (m *collateralMetrics) Position(kind string) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues(kind).Inc()
}

// Liquidation records one executed liquidation and the running shortfall.
func (m *collateralMetrics) Liquidation(shortfallWei *big.Int) {
	if m == nil {
		return
	}
	m.liquidations.Inc()
	m.shortfall.Set(weiToUSD(shortfallWei))
}

// weiToUSD converts a 1e18-scaled USD amount into a float for gauges. Gauges
// trade precision for observability; ledgers keep the exact integers.
func weiToUSD(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0
	}
	return value
}
