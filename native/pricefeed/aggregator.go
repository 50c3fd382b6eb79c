package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Aggregator consults a list of registered adapters in priority order until a
// fresh, positive quote is obtained. A nil aggregator is unusable; construct one
// with NewAggregator.
type Aggregator struct {
	mu        sync.RWMutex
	priority  []string
	adapters  map[string]Adapter
	threshold time.Duration
	now       func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority ordering and
// staleness threshold. A non-positive threshold falls back to the default.
func NewAggregator(priority []string, threshold time.Duration) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return &Aggregator{
		priority:  append([]string{}, priority...),
		adapters:  make(map[string]Adapter),
		threshold: threshold,
		now:       time.Now,
	}
}

// SetClock overrides the wall-clock source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SetStalenessThreshold updates the freshness window used when filtering quotes.
func (a *Aggregator) SetStalenessThreshold(threshold time.Duration) {
	if a == nil || threshold <= 0 {
		return
	}
	a.mu.Lock()
	a.threshold = threshold
	a.mu.Unlock()
}

// Register adds or replaces an adapter under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless of
// configuration casing.
func (a *Aggregator) Register(name string, adapter Adapter) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adapters[trimmed] = adapter
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetQuote fetches a quote from the configured adapters respecting the priority
// ordering. The returned quote is a defensive copy with its Stale flag computed
// against the current wall clock; quotes with non-positive values are rejected.
func (a *Aggregator) GetQuote(ctx context.Context, pair string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("pricefeed: aggregator not configured")
	}
	canonical := NormalisePair(pair)
	if canonical == "" {
		return PriceQuote{}, fmt.Errorf("pricefeed: pair required")
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	threshold := a.threshold
	now := a.now
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		adapter := a.adapters[strings.ToLower(name)]
		a.mu.RUnlock()
		if adapter == nil {
			continue
		}
		quote, err := adapter.GetQuote(ctx, canonical)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Value == nil || quote.Value.Sign() <= 0 {
			lastErr = fmt.Errorf("pricefeed: adapter %s returned non-positive value", name)
			continue
		}
		result := quote.Clone()
		result.Pair = canonical
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		result.Stale = result.IsStale(now(), threshold)
		if result.Stale {
			lastErr = ErrOracleUnavailable
			continue
		}
		return result, nil
	}

	if lastErr == nil || errors.Is(lastErr, ErrOracleUnavailable) {
		return PriceQuote{}, ErrOracleUnavailable
	}
	return PriceQuote{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, lastErr)
}
