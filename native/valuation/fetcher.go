package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const defaultFetchTimeout = 10 * time.Second

// Fetcher issues the three source requests concurrently and joins them with
// partial-failure tolerance: one slow or failing source never blocks or
// invalidates the others.
type Fetcher struct {
	zillow  ZillowSource
	rental  RentalSource
	market  MarketSource
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout bounds each individual source call.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithRateLimit throttles outbound source calls.
func WithRateLimit(limiter *rate.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = limiter }
}

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher constructs a fetcher over the three data sources. Any source may
// be nil and is then treated as permanently failed.
func NewFetcher(zillow ZillowSource, rental RentalSource, market MarketSource, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		zillow:  zillow,
		rental:  rental,
		market:  market,
		timeout: defaultFetchTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch gathers all sources concurrently and aggregates the settled results.
// Source failures are absorbed into the confidence score; the only returned
// error is a cancelled parent context.
func (f *Fetcher) Fetch(ctx context.Context, propertyID string) (PropertyValuation, error) {
	if f == nil {
		return PropertyValuation{}, fmt.Errorf("valuation: fetcher not configured")
	}

	type settled struct {
		zillow *ZillowData
		rental *RentalData
		market *MarketData
	}
	results := make(chan settled, 3)

	run := func(fetch func(context.Context) settled) {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if f.limiter != nil {
			if err := f.limiter.Wait(callCtx); err != nil {
				results <- settled{}
				return
			}
		}
		results <- fetch(callCtx)
	}

	go run(func(callCtx context.Context) settled {
		if f.zillow == nil {
			return settled{}
		}
		data, err := f.zillow.FetchProperty(callCtx, propertyID)
		if err != nil {
			f.logger.Warn("zillow source failed", "propertyId", propertyID, "err", err)
			return settled{}
		}
		return settled{zillow: data}
	})
	go run(func(callCtx context.Context) settled {
		if f.rental == nil {
			return settled{}
		}
		data, err := f.rental.FetchRental(callCtx, propertyID)
		if err != nil {
			f.logger.Warn("rental source failed", "propertyId", propertyID, "err", err)
			return settled{}
		}
		return settled{rental: data}
	})
	go run(func(callCtx context.Context) settled {
		if f.market == nil {
			return settled{}
		}
		data, err := f.market.FetchMarket(callCtx, propertyID)
		if err != nil {
			f.logger.Warn("market source failed", "propertyId", propertyID, "err", err)
			return settled{}
		}
		return settled{market: data}
	})

	var zillow *ZillowData
	var rental *RentalData
	var market *MarketData
	for i := 0; i < 3; i++ {
		select {
		case <-ctx.Done():
			return PropertyValuation{}, ctx.Err()
		case outcome := <-results:
			if outcome.zillow != nil {
				zillow = outcome.zillow
			}
			if outcome.rental != nil {
				rental = outcome.rental
			}
			if outcome.market != nil {
				market = outcome.market
			}
		}
	}

	return Aggregate(propertyID, zillow, rental, market, f.now()), nil
}
