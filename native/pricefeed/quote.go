package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"
)

// DefaultStalenessThreshold bounds how old a reading may be before callers must
// treat it as stale. Staleness is evaluated against current wall-clock time, not
// the time the quote was stored, so two reads seconds apart can disagree near
// the threshold.
const DefaultStalenessThreshold = 24 * time.Hour

// ErrOracleUnavailable indicates that no adapter could produce a usable quote.
var ErrOracleUnavailable = errors.New("pricefeed: oracle unavailable")

// PriceQuote captures a normalised price reading for a pair. Value is a USD
// price scaled by 1e18 and is never negative.
type PriceQuote struct {
	Pair      string
	Value     *big.Int
	UpdatedAt time.Time
	Source    string
	Stale     bool
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Pair: q.Pair, UpdatedAt: q.UpdatedAt, Source: q.Source, Stale: q.Stale}
	if q.Value != nil {
		clone.Value = new(big.Int).Set(q.Value)
	}
	return clone
}

// IsStale reports whether the quote is older than the threshold relative to now.
func (q PriceQuote) IsStale(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	if q.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(q.UpdatedAt) > threshold
}

// Adapter resolves a price quote for the provided pair.
type Adapter interface {
	GetQuote(ctx context.Context, pair string) (PriceQuote, error)
}

// NormalisePair canonicalises pair identifiers such as "usdc/usd".
func NormalisePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}
