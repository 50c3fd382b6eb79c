package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ZillowSource resolves property-value estimates.
type ZillowSource interface {
	FetchProperty(ctx context.Context, propertyID string) (*ZillowData, error)
}

// RentalSource resolves rental-market estimates.
type RentalSource interface {
	FetchRental(ctx context.Context, propertyID string) (*RentalData, error)
}

// MarketSource resolves comparable-sales estimates.
type MarketSource interface {
	FetchMarket(ctx context.Context, propertyID string) (*MarketData, error)
}

// ZillowClient adapts a RapidAPI-hosted Zillow property endpoint.
type ZillowClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewZillowClient constructs the adapter. When the client is nil
// http.DefaultClient is used.
func NewZillowClient(client HTTPDoer, endpoint, apiKey string) *ZillowClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ZillowClient{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (c *ZillowClient) FetchProperty(ctx context.Context, propertyID string) (*ZillowData, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("valuation: zillow client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("zpid", strings.TrimSpace(propertyID))
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-RapidAPI-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("valuation: zillow status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Price        json.Number `json:"price"`
		Zestimate    json.Number `json:"zestimate"`
		PropertyType string      `json:"propertyType"`
		Bedrooms     int         `json:"bedrooms"`
		Bathrooms    int         `json:"bathrooms"`
		LivingArea   int         `json:"livingArea"`
		YearBuilt    int         `json:"yearBuilt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("valuation: decode zillow: %w", err)
	}

	value := dollarsToWei(payload.Price)
	if value.Sign() == 0 {
		value = dollarsToWei(payload.Zestimate)
	}
	return &ZillowData{
		CurrentValue: value,
		PropertyType: strings.TrimSpace(payload.PropertyType),
		Bedrooms:     payload.Bedrooms,
		Bathrooms:    payload.Bathrooms,
		SquareFeet:   payload.LivingArea,
		YearBuilt:    payload.YearBuilt,
	}, nil
}

// RentalClient adapts a Rentspree-style rental estimate endpoint.
type RentalClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewRentalClient constructs the adapter. The endpoint should contain a %s
// placeholder for the property identifier.
func NewRentalClient(client HTTPDoer, endpoint, apiKey string) *RentalClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RentalClient{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (c *RentalClient) FetchRental(ctx context.Context, propertyID string) (*RentalData, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("valuation: rental client not configured")
	}
	target := fmt.Sprintf(c.endpoint, url.PathEscape(strings.TrimSpace(propertyID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("valuation: rental status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		MonthlyRent         json.Number `json:"monthlyRent"`
		OccupancyRate       json.Number `json:"occupancyRate"`
		AverageDaysOnMarket int         `json:"averageDaysOnMarket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("valuation: decode rental: %w", err)
	}

	occupancy := uint64(DefaultOccupancyBps)
	if rate, err := payload.OccupancyRate.Float64(); err == nil && rate > 0 && rate <= 100 {
		occupancy = uint64(rate * 100)
	}
	return &RentalData{
		MonthlyRent:  dollarsToWei(payload.MonthlyRent),
		OccupancyBps: occupancy,
		DaysOnMarket: payload.AverageDaysOnMarket,
	}, nil
}

// MarketClient adapts a realtor-style comparable-sales endpoint.
type MarketClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewMarketClient constructs the adapter.
func NewMarketClient(client HTTPDoer, endpoint, apiKey string) *MarketClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MarketClient{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (c *MarketClient) FetchMarket(ctx context.Context, propertyID string) (*MarketData, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("valuation: market client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("property_id", strings.TrimSpace(propertyID))
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-RapidAPI-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("valuation: market status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Estimate    json.Number `json:"estimate"`
		MarketTrend string      `json:"marketTrend"`
		MedianPrice json.Number `json:"medianPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("valuation: decode market: %w", err)
	}
	return &MarketData{
		MarketValue: dollarsToWei(payload.Estimate),
		Trend:       normaliseTrend(payload.MarketTrend),
		MedianPrice: dollarsToWei(payload.MedianPrice),
	}, nil
}

// dollarsToWei converts a decimal USD figure into an 1e18-scaled integer.
// Unparseable or negative inputs yield zero.
func dollarsToWei(number json.Number) *big.Int {
	trimmed := strings.TrimSpace(number.String())
	if trimmed == "" {
		return big.NewInt(0)
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(rat.Num(), rat.Denom())
}
