package valuation

import (
	"math/big"
	"time"
)

// Aggregate combines the settled source results into one PropertyValuation.
// A nil source pointer marks that source as failed; individual failures degrade
// the confidence score while total failure yields a zero-value, zero-confidence
// result rather than an error. Pure transform: no I/O, no hidden state.
func Aggregate(propertyID string, zillow *ZillowData, rental *RentalData, market *MarketData, now time.Time) PropertyValuation {
	result := PropertyValuation{
		PropertyID:   propertyID,
		CurrentValue: big.NewInt(0),
		MonthlyRent:  big.NewInt(0),
		OccupancyBps: DefaultOccupancyBps,
		MarketTrend:  DefaultMarketTrend,
		LastUpdated:  now.Unix(),
		DataQuality: DataQuality{
			HasZillowData: zillow != nil,
			HasRentalData: rental != nil,
			HasMarketData: market != nil,
		},
	}

	// Weighted mean over the value sources that reported a positive figure.
	weightedSum := new(big.Int)
	totalWeight := int64(0)
	if zillow != nil && zillow.CurrentValue != nil && zillow.CurrentValue.Sign() > 0 {
		weightedSum.Add(weightedSum, new(big.Int).Mul(zillow.CurrentValue, big.NewInt(zillowValueWeight)))
		totalWeight += zillowValueWeight
	}
	if market != nil && market.MarketValue != nil && market.MarketValue.Sign() > 0 {
		weightedSum.Add(weightedSum, new(big.Int).Mul(market.MarketValue, big.NewInt(marketValueWeight)))
		totalWeight += marketValueWeight
	}
	if totalWeight > 0 {
		result.CurrentValue = weightedSum.Quo(weightedSum, big.NewInt(totalWeight))
	}

	if rental != nil {
		if rental.MonthlyRent != nil && rental.MonthlyRent.Sign() > 0 {
			result.MonthlyRent = new(big.Int).Set(rental.MonthlyRent)
		}
		if rental.OccupancyBps > 0 {
			result.OccupancyBps = rental.OccupancyBps
		}
	}
	if market != nil {
		result.MarketTrend = normaliseTrend(market.Trend)
	}

	// Annualised gross yield, only when both inputs are positive.
	if result.MonthlyRent.Sign() > 0 && result.CurrentValue.Sign() > 0 {
		annual := new(big.Int).Mul(result.MonthlyRent, big.NewInt(12))
		annual.Mul(annual, big.NewInt(10_000))
		annual.Quo(annual, result.CurrentValue)
		result.RentalYieldBps = annual.Uint64()
	}

	confidence := 0
	if zillow != nil {
		confidence += zillowConfidence
	}
	if rental != nil {
		confidence += rentalConfidence
	}
	if market != nil {
		confidence += marketConfidence
	}
	if confidence > 100 {
		confidence = 100
	}
	result.Confidence = uint8(confidence)

	return result
}
