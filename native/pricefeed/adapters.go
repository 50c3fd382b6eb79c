package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ManualAdapter provides an in-memory adapter used for tests and manual
// overrides during incident response.
type ManualAdapter struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualAdapter constructs an empty manual adapter.
func NewManualAdapter() *ManualAdapter {
	return &ManualAdapter{quotes: make(map[string]PriceQuote)}
}

// Set stores the provided value for the pair. Non-positive values are ignored.
func (m *ManualAdapter) Set(pair string, value *big.Int, updatedAt time.Time) {
	if m == nil || value == nil || value.Sign() <= 0 {
		return
	}
	canonical := NormalisePair(pair)
	if canonical == "" {
		return
	}
	m.mu.Lock()
	m.quotes[canonical] = PriceQuote{
		Pair:      canonical,
		Value:     new(big.Int).Set(value),
		UpdatedAt: updatedAt,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// GetQuote retrieves the stored quote for the pair.
func (m *ManualAdapter) GetQuote(_ context.Context, pair string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("pricefeed: manual adapter not configured")
	}
	canonical := NormalisePair(pair)
	m.mu.RLock()
	stored, ok := m.quotes[canonical]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("pricefeed: manual quote for %s not found", canonical)
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedAdapter fetches price data from a Chainlink-style aggregator proxy
// exposing the latest round as JSON.
type FeedAdapter struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewFeedAdapter constructs a feed adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only attached to the
// request headers when supplied.
func NewFeedAdapter(client HTTPDoer, endpoint, apiKey string) *FeedAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedAdapter{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

type feedPayload struct {
	Answer    string `json:"answer"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updatedAt"`
}

// GetQuote resolves the latest reading for the pair, scaling the reported
// answer to 18 fractional decimals.
func (f *FeedAdapter) GetQuote(ctx context.Context, pair string) (PriceQuote, error) {
	if f == nil || f.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("pricefeed: feed adapter not configured")
	}
	canonical := NormalisePair(pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("pair", canonical)
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("pricefeed: feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload feedPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("pricefeed: decode feed: %w", err)
	}
	answer := strings.TrimSpace(payload.Answer)
	if answer == "" {
		return PriceQuote{}, fmt.Errorf("pricefeed: empty feed answer")
	}
	raw, ok := new(big.Int).SetString(answer, 10)
	if !ok || raw.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("pricefeed: invalid feed answer %q", payload.Answer)
	}
	value := scaleToWei(raw, payload.Decimals)
	return PriceQuote{
		Pair:      canonical,
		Value:     value,
		UpdatedAt: time.Unix(payload.UpdatedAt, 0),
		Source:    "feed",
	}, nil
}

// scaleToWei rescales a value carrying the given number of fractional decimals
// to the canonical 18-decimal representation.
func scaleToWei(value *big.Int, decimals uint8) *big.Int {
	scaled := new(big.Int).Set(value)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		scaled.Mul(scaled, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		scaled.Quo(scaled, factor)
	}
	return scaled
}
