package valuation

import (
	"math/big"
	"strings"
)

// Source confidence weights. Confidence is the sum of the weights of the
// sources that contributed, capped at 100.
const (
	zillowConfidence = 30
	rentalConfidence = 30
	marketConfidence = 40
)

// Value blend weights in tenths: Zillow 40%, market comparables 60%.
const (
	zillowValueWeight = 4
	marketValueWeight = 6
)

// DefaultOccupancyBps is assumed when no rental data is available.
const DefaultOccupancyBps = 9_500

// DefaultMarketTrend is reported when no market source responded.
const DefaultMarketTrend = "STABLE"

// ZillowData carries the property-value estimate from a Zillow-style API.
type ZillowData struct {
	// CurrentValue is the estimated property value in USD, 1e18 scaled.
	CurrentValue *big.Int
	PropertyType string
	Bedrooms     int
	Bathrooms    int
	SquareFeet   int
	YearBuilt    int
}

// RentalData carries the rental-market estimate.
type RentalData struct {
	// MonthlyRent is the estimated monthly rent in USD, 1e18 scaled.
	MonthlyRent  *big.Int
	OccupancyBps uint64
	DaysOnMarket int
}

// MarketData carries comparable-sales data from a realtor-style API.
type MarketData struct {
	// MarketValue is the comparable-sales estimate in USD, 1e18 scaled.
	MarketValue *big.Int
	Trend       string
	MedianPrice *big.Int
}

// DataQuality flags which sources contributed to a valuation so consumers can
// distinguish a degraded result from ground truth.
type DataQuality struct {
	HasZillowData bool `json:"hasZillowData"`
	HasRentalData bool `json:"hasRentalData"`
	HasMarketData bool `json:"hasMarketData"`
}

// Degraded reports whether any source was missing.
func (q DataQuality) Degraded() bool {
	return !q.HasZillowData || !q.HasRentalData || !q.HasMarketData
}

// PropertyValuation is the combined output for one property. A Confidence of
// zero marks the valuation as not authoritative: callers must not derive
// collateral requirements from it.
type PropertyValuation struct {
	PropertyID string
	// CurrentValue is the blended property value in USD, 1e18 scaled.
	CurrentValue *big.Int
	// RentalYieldBps is the annualised gross yield in basis points.
	RentalYieldBps uint64
	// MonthlyRent is the rental estimate in USD, 1e18 scaled.
	MonthlyRent  *big.Int
	OccupancyBps uint64
	// Confidence scores 0-100 by summing fixed per-source weights.
	Confidence  uint8
	MarketTrend string
	LastUpdated int64
	DataQuality DataQuality
}

// Authoritative reports whether downstream consumers may rely on the value for
// financial decisions.
func (v PropertyValuation) Authoritative() bool {
	return v.Confidence > 0 && v.CurrentValue != nil && v.CurrentValue.Sign() > 0
}

func normaliseTrend(trend string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(trend))
	if trimmed == "" {
		return DefaultMarketTrend
	}
	return trimmed
}
