package rent

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultCollectTimeout = 10 * time.Second

// PaymentSource yields completed payments for a property and period.
type PaymentSource interface {
	FetchPayments(ctx context.Context, propertyID string, periodStart, periodEnd time.Time, expectedRent *big.Int) (*PaymentData, error)
}

// FallbackPaymentSource yields payments from a direct processor when the
// management platform cannot be reached.
type FallbackPaymentSource interface {
	FetchCharges(ctx context.Context, propertyID string, periodStart time.Time, expectedRent *big.Int) (*PaymentData, error)
}

// ExpenseSource yields operating expenses for a property and period.
type ExpenseSource interface {
	FetchExpenses(ctx context.Context, propertyID string, periodStart, periodEnd time.Time) (*ExpenseData, error)
}

// TenantSource yields occupancy data for a property.
type TenantSource interface {
	FetchTenants(ctx context.Context, propertyID string, now time.Time) (*TenantData, error)
}

// Collector gathers the three rent sub-results concurrently, degrading to nil
// on individual failures so that Process can substitute defaults. Payments run
// through a fallback chain: management platform first, then the direct payment
// processor.
type Collector struct {
	payments PaymentSource
	fallback FallbackPaymentSource
	expenses ExpenseSource
	tenants  TenantSource

	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// CollectorOption customises a Collector.
type CollectorOption func(*Collector)

// WithCollectTimeout bounds each sub-fetch.
func WithCollectTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCollectRateLimit throttles outbound requests across all sub-fetches.
func WithCollectRateLimit(limiter *rate.Limiter) CollectorOption {
	return func(c *Collector) { c.limiter = limiter }
}

// WithCollectLogger overrides the default logger.
func WithCollectLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector wires the sources. Any source may be nil; its sub-result then
// degrades to defaults.
func NewCollector(payments PaymentSource, fallback FallbackPaymentSource, expenses ExpenseSource, tenants TenantSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		payments: payments,
		fallback: fallback,
		expenses: expenses,
		tenants:  tenants,
		timeout:  defaultCollectTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetClock overrides the wall clock for tests.
func (c *Collector) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// CollectResult carries the settled sub-results. Nil fields mean every source
// for that concern failed.
type CollectResult struct {
	Payments *PaymentData
	Expenses *ExpenseData
	Tenants  *TenantData
}

// Collect fetches payments, expenses and tenants in parallel, tolerating
// individual failures. It returns an error only when the parent context is
// cancelled before all sub-fetches settle.
func (c *Collector) Collect(ctx context.Context, propertyID string, periodStart, periodEnd time.Time, expectedRent *big.Int) (*CollectResult, error) {
	result := &CollectResult{}
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			if c.limiter != nil {
				if err := c.limiter.Wait(subCtx); err != nil {
					c.logger.Warn("rent source rate limit wait failed", "source", name, "property", propertyID, "error", err)
					return
				}
			}
			if err := fn(subCtx); err != nil {
				c.logger.Warn("rent source fetch failed", "source", name, "property", propertyID, "error", err)
			}
		}()
	}

	var mu sync.Mutex
	run("payments", func(subCtx context.Context) error {
		data, err := c.collectPayments(subCtx, propertyID, periodStart, periodEnd, expectedRent)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Payments = data
		mu.Unlock()
		return nil
	})
	run("expenses", func(subCtx context.Context) error {
		if c.expenses == nil {
			return nil
		}
		data, err := c.expenses.FetchExpenses(subCtx, propertyID, periodStart, periodEnd)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Expenses = data
		mu.Unlock()
		return nil
	})
	run("tenants", func(subCtx context.Context) error {
		if c.tenants == nil {
			return nil
		}
		data, err := c.tenants.FetchTenants(subCtx, propertyID, c.now())
		if err != nil {
			return err
		}
		mu.Lock()
		result.Tenants = data
		mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Collector) collectPayments(ctx context.Context, propertyID string, periodStart, periodEnd time.Time, expectedRent *big.Int) (*PaymentData, error) {
	var platformErr error
	if c.payments != nil {
		data, err := c.payments.FetchPayments(ctx, propertyID, periodStart, periodEnd, expectedRent)
		if err == nil {
			return data, nil
		}
		platformErr = err
		c.logger.Warn("platform payments unavailable, trying payment processor", "property", propertyID, "error", err)
	}
	if c.fallback != nil {
		return c.fallback.FetchCharges(ctx, propertyID, periodStart, expectedRent)
	}
	return nil, platformErr
}
