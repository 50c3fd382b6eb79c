package valuation

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"
)

func usd(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000_000_000_000))
}

func TestAggregateBlendsValueSources(t *testing.T) {
	zillow := &ZillowData{CurrentValue: usd(500_000)}
	market := &MarketData{MarketValue: usd(600_000), Trend: "rising"}
	rental := &RentalData{MonthlyRent: usd(3_000), OccupancyBps: 9_800}

	result := Aggregate("prop-1", zillow, rental, market, time.Unix(1_700_000_000, 0))

	// 500000*0.4 + 600000*0.6 = 560000
	if result.CurrentValue.Cmp(usd(560_000)) != 0 {
		t.Fatalf("unexpected blended value: %s", result.CurrentValue)
	}
	if result.Confidence != 100 {
		t.Fatalf("unexpected confidence: %d", result.Confidence)
	}
	if result.MarketTrend != "RISING" {
		t.Fatalf("unexpected trend: %s", result.MarketTrend)
	}
	if result.OccupancyBps != 9_800 {
		t.Fatalf("unexpected occupancy: %d", result.OccupancyBps)
	}
	// 3000*12 / 560000 = 6.43% -> 642 bps (floor)
	if result.RentalYieldBps != 642 {
		t.Fatalf("unexpected yield: %d", result.RentalYieldBps)
	}
	if result.DataQuality.Degraded() {
		t.Fatalf("full result flagged degraded")
	}
}

func TestAggregateSingleSourceFallsBackToItsValue(t *testing.T) {
	market := &MarketData{MarketValue: usd(450_000)}
	result := Aggregate("prop-2", nil, nil, market, time.Now())
	if result.CurrentValue.Cmp(usd(450_000)) != 0 {
		t.Fatalf("unexpected value: %s", result.CurrentValue)
	}
	if result.Confidence != 40 {
		t.Fatalf("unexpected confidence: %d", result.Confidence)
	}
	if !result.DataQuality.Degraded() {
		t.Fatalf("partial result not flagged degraded")
	}
	if result.OccupancyBps != DefaultOccupancyBps {
		t.Fatalf("unexpected default occupancy: %d", result.OccupancyBps)
	}
}

func TestAggregateTotalFailureYieldsZeroConfidence(t *testing.T) {
	result := Aggregate("prop-3", nil, nil, nil, time.Now())
	if result.CurrentValue.Sign() != 0 {
		t.Fatalf("expected zero value, got %s", result.CurrentValue)
	}
	if result.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %d", result.Confidence)
	}
	if result.Authoritative() {
		t.Fatalf("zero-confidence valuation must not be authoritative")
	}
	if result.MarketTrend != DefaultMarketTrend {
		t.Fatalf("unexpected trend: %s", result.MarketTrend)
	}
}

func TestAggregateYieldRequiresBothInputs(t *testing.T) {
	rental := &RentalData{MonthlyRent: usd(2_000)}
	result := Aggregate("prop-4", nil, rental, nil, time.Now())
	if result.RentalYieldBps != 0 {
		t.Fatalf("yield computed without a property value: %d", result.RentalYieldBps)
	}
}

type zillowFunc func(ctx context.Context, propertyID string) (*ZillowData, error)

func (f zillowFunc) FetchProperty(ctx context.Context, propertyID string) (*ZillowData, error) {
	return f(ctx, propertyID)
}

type rentalFunc func(ctx context.Context, propertyID string) (*RentalData, error)

func (f rentalFunc) FetchRental(ctx context.Context, propertyID string) (*RentalData, error) {
	return f(ctx, propertyID)
}

type marketFunc func(ctx context.Context, propertyID string) (*MarketData, error)

func (f marketFunc) FetchMarket(ctx context.Context, propertyID string) (*MarketData, error) {
	return f(ctx, propertyID)
}

func TestFetcherToleratesPartialFailure(t *testing.T) {
	fetcher := NewFetcher(
		zillowFunc(func(context.Context, string) (*ZillowData, error) {
			return nil, fmt.Errorf("zillow down")
		}),
		rentalFunc(func(context.Context, string) (*RentalData, error) {
			return &RentalData{MonthlyRent: usd(2_500), OccupancyBps: 9_000}, nil
		}),
		marketFunc(func(context.Context, string) (*MarketData, error) {
			return &MarketData{MarketValue: usd(400_000)}, nil
		}),
	)

	result, err := fetcher.Fetch(context.Background(), "prop-5")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Confidence != 70 {
		t.Fatalf("unexpected confidence: %d", result.Confidence)
	}
	if result.CurrentValue.Cmp(usd(400_000)) != 0 {
		t.Fatalf("unexpected value: %s", result.CurrentValue)
	}
}

func TestFetcherTimesOutSlowSources(t *testing.T) {
	fetcher := NewFetcher(
		zillowFunc(func(ctx context.Context, _ string) (*ZillowData, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		rentalFunc(func(context.Context, string) (*RentalData, error) {
			return &RentalData{MonthlyRent: usd(1_800), OccupancyBps: 9_500}, nil
		}),
		marketFunc(func(context.Context, string) (*MarketData, error) {
			return &MarketData{MarketValue: usd(350_000)}, nil
		}),
		WithTimeout(50*time.Millisecond),
	)

	start := time.Now()
	result, err := fetcher.Fetch(context.Background(), "prop-6")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("slow source blocked the join: %v", elapsed)
	}
	if result.DataQuality.HasZillowData {
		t.Fatalf("timed-out source reported as present")
	}
	if result.Confidence != 70 {
		t.Fatalf("unexpected confidence: %d", result.Confidence)
	}
}
