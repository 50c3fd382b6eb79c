package rent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PlatformClient adapts an AppFolio-style property management API exposing
// payments, expenses and tenants per property.
type PlatformClient struct {
	client  HTTPDoer
	baseURL string
	apiKey  string
}

// NewPlatformClient constructs the adapter. When the client is nil
// http.DefaultClient is used.
func NewPlatformClient(client HTTPDoer, baseURL, apiKey string) *PlatformClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &PlatformClient{client: client, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), apiKey: strings.TrimSpace(apiKey)}
}

func (c *PlatformClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("rent: platform client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rent: platform status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchPayments returns the completed rent payments for the period.
func (c *PlatformClient) FetchPayments(ctx context.Context, propertyID string, periodStart, periodEnd time.Time, expectedRent *big.Int) (*PaymentData, error) {
	var payload struct {
		Payments []struct {
			Amount json.Number `json:"amount"`
			Status string      `json:"status"`
		} `json:"payments"`
	}
	query := url.Values{}
	query.Set("start_date", periodStart.UTC().Format("2006-01-02"))
	query.Set("end_date", periodEnd.UTC().Format("2006-01-02"))
	query.Set("payment_type", "rent")
	if err := c.get(ctx, "/v1/properties/"+url.PathEscape(propertyID)+"/payments", query, &payload); err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	for _, payment := range payload.Payments {
		status := strings.ToLower(strings.TrimSpace(payment.Status))
		if status != "completed" && status != "cleared" {
			continue
		}
		total.Add(total, dollarsToWei(payment.Amount))
	}
	data := &PaymentData{GrossCollected: total, ExpectedRent: big.NewInt(0), Source: SourcePlatform}
	if expectedRent != nil && expectedRent.Sign() > 0 {
		data.ExpectedRent = new(big.Int).Set(expectedRent)
	}
	return data, nil
}

// FetchExpenses returns the categorised expenses for the period.
func (c *PlatformClient) FetchExpenses(ctx context.Context, propertyID string, periodStart, periodEnd time.Time) (*ExpenseData, error) {
	var payload struct {
		Expenses []struct {
			Amount      json.Number `json:"amount"`
			Description string      `json:"description"`
		} `json:"expenses"`
	}
	query := url.Values{}
	query.Set("start_date", periodStart.UTC().Format("2006-01-02"))
	query.Set("end_date", periodEnd.UTC().Format("2006-01-02"))
	if err := c.get(ctx, "/v1/properties/"+url.PathEscape(propertyID)+"/expenses", query, &payload); err != nil {
		return nil, err
	}

	data := &ExpenseData{Total: big.NewInt(0), Source: SourcePlatform}
	data.Breakdown.EnsureDefaults()
	for _, expense := range payload.Expenses {
		amount := dollarsToWei(expense.Amount)
		data.Total.Add(data.Total, amount)
		switch CategorizeExpense(expense.Description) {
		case "maintenance":
			data.Breakdown.Maintenance.Add(data.Breakdown.Maintenance, amount)
		case "utilities":
			data.Breakdown.Utilities.Add(data.Breakdown.Utilities, amount)
		case "insurance":
			data.Breakdown.Insurance.Add(data.Breakdown.Insurance, amount)
		case "management":
			data.Breakdown.Management.Add(data.Breakdown.Management, amount)
		default:
			data.Breakdown.Other.Add(data.Breakdown.Other, amount)
		}
	}
	return data, nil
}

// FetchTenants returns occupancy derived from active leases.
func (c *PlatformClient) FetchTenants(ctx context.Context, propertyID string, now time.Time) (*TenantData, error) {
	var payload struct {
		Tenants []struct {
			Status       string `json:"status"`
			LeaseEndDate string `json:"lease_end_date"`
		} `json:"tenants"`
	}
	if err := c.get(ctx, "/v1/properties/"+url.PathEscape(propertyID)+"/tenants", nil, &payload); err != nil {
		return nil, err
	}

	totalUnits := len(payload.Tenants)
	if totalUnits == 0 {
		totalUnits = 1
	}
	occupied := 0
	today := now.UTC().Format("2006-01-02")
	for _, tenant := range payload.Tenants {
		if strings.EqualFold(strings.TrimSpace(tenant.Status), "active") && tenant.LeaseEndDate > today {
			occupied++
		}
	}
	return &TenantData{
		OccupancyBps:  uint64(occupied * 10_000 / totalUnits),
		OccupiedUnits: occupied,
		TotalUnits:    totalUnits,
		Source:        SourcePlatform,
	}, nil
}

// StripeClient adapts the payment-processor fallback used when the management
// platform is unreachable.
type StripeClient struct {
	client    HTTPDoer
	endpoint  string
	secretKey string
}

// NewStripeClient constructs the fallback adapter.
func NewStripeClient(client HTTPDoer, endpoint, secretKey string) *StripeClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &StripeClient{client: client, endpoint: strings.TrimSpace(endpoint), secretKey: strings.TrimSpace(secretKey)}
}

// FetchCharges sums succeeded rent charges for the property since periodStart.
func (c *StripeClient) FetchCharges(ctx context.Context, propertyID string, periodStart time.Time, expectedRent *big.Int) (*PaymentData, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("rent: stripe client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("created[gte]", fmt.Sprintf("%d", periodStart.Unix()))
	query.Set("metadata[property_id]", propertyID)
	query.Set("metadata[payment_type]", "rent")
	query.Set("limit", "100")
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rent: stripe status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []struct {
			// Amount is in cents, as reported by the processor.
			Amount int64  `json:"amount"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("rent: decode stripe: %w", err)
	}

	total := big.NewInt(0)
	for _, charge := range payload.Data {
		if !strings.EqualFold(charge.Status, "succeeded") {
			continue
		}
		cents := big.NewInt(charge.Amount)
		cents.Mul(cents, big.NewInt(10_000_000_000_000_000)) // cents -> 1e18 USD
		total.Add(total, cents)
	}
	data := &PaymentData{GrossCollected: total, ExpectedRent: big.NewInt(0), Source: SourceStripe}
	if expectedRent != nil && expectedRent.Sign() > 0 {
		data.ExpectedRent = new(big.Int).Set(expectedRent)
	}
	return data, nil
}

// dollarsToWei converts a decimal USD figure into a 1e18-scaled integer.
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
