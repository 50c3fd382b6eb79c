package rent

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Sub-fetch source labels recorded for audit.
const (
	SourcePlatform = "property_management_platform"
	SourceStripe   = "stripe_direct"
	SourceDefault  = "default"
)

// DefaultOccupancyBps is assumed when tenant data is unavailable.
const DefaultOccupancyBps = 10_000

// ExpenseBreakdown categorises period expenses. Amounts are USD, 1e18 scaled.
type ExpenseBreakdown struct {
	Maintenance *big.Int `json:"maintenance"`
	Utilities   *big.Int `json:"utilities"`
	Insurance   *big.Int `json:"insurance"`
	Management  *big.Int `json:"management"`
	Other       *big.Int `json:"other"`
}

// EnsureDefaults populates nil amounts so arithmetic and JSON handling is safe.
func (b *ExpenseBreakdown) EnsureDefaults() {
	if b.Maintenance == nil {
		b.Maintenance = big.NewInt(0)
	}
	if b.Utilities == nil {
		b.Utilities = big.NewInt(0)
	}
	if b.Insurance == nil {
		b.Insurance = big.NewInt(0)
	}
	if b.Management == nil {
		b.Management = big.NewInt(0)
	}
	if b.Other == nil {
		b.Other = big.NewInt(0)
	}
}

// PaymentData summarises collected rent payments for one period.
type PaymentData struct {
	GrossCollected *big.Int
	ExpectedRent   *big.Int
	Source         string
}

// ExpenseData summarises property expenses for one period.
type ExpenseData struct {
	Total     *big.Int
	Breakdown ExpenseBreakdown
	Source    string
}

// TenantData summarises occupancy for one period.
type TenantData struct {
	OccupancyBps  uint64
	OccupiedUnits int
	TotalUnits    int
	Source        string
}

// DataQuality flags which sub-fetches produced real data rather than the
// documented degradation defaults.
type DataQuality struct {
	HasPaymentData bool `json:"hasPaymentData"`
	HasExpenseData bool `json:"hasExpenseData"`
	HasTenantData  bool `json:"hasTenantData"`
}

// Degraded reports whether any sub-fetch fell back to a default.
func (q DataQuality) Degraded() bool {
	return !q.HasPaymentData || !q.HasExpenseData || !q.HasTenantData
}

// PeriodRecord is the single source of truth for one (property, period) rent
// cycle. Recomputation replaces the stored record, never duplicates it.
type PeriodRecord struct {
	PropertyID string `json:"propertyId"`
	PeriodKey  string `json:"periodKey"`
	// GrossRentCollected, TotalExpenses and NetRentCollected are USD, 1e18
	// scaled. NetRentCollected is clamped at zero.
	GrossRentCollected *big.Int `json:"grossRentCollected"`
	TotalExpenses      *big.Int `json:"totalExpenses"`
	NetRentCollected   *big.Int `json:"netRentCollected"`
	ExpectedRent       *big.Int `json:"expectedRent"`
	// CollectionEfficiencyBps is gross/expected in basis points, zero when no
	// expected rent was configured.
	CollectionEfficiencyBps uint64           `json:"collectionEfficiencyBps"`
	OccupancyBps            uint64           `json:"occupancyBps"`
	Breakdown               ExpenseBreakdown `json:"expenseBreakdown"`
	DataQuality             DataQuality      `json:"dataQuality"`
	ComputedAt              int64            `json:"computedAt"`
}

// Clone returns a deep copy of the record.
func (r *PeriodRecord) Clone() *PeriodRecord {
	if r == nil {
		return nil
	}
	clone := *r
	set := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		return new(big.Int).Set(v)
	}
	clone.GrossRentCollected = set(r.GrossRentCollected)
	clone.TotalExpenses = set(r.TotalExpenses)
	clone.NetRentCollected = set(r.NetRentCollected)
	clone.ExpectedRent = set(r.ExpectedRent)
	clone.Breakdown = ExpenseBreakdown{
		Maintenance: set(r.Breakdown.Maintenance),
		Utilities:   set(r.Breakdown.Utilities),
		Insurance:   set(r.Breakdown.Insurance),
		Management:  set(r.Breakdown.Management),
		Other:       set(r.Breakdown.Other),
	}
	return &clone
}

// PeriodKeyFor renders the canonical year-month key for a point in time.
func PeriodKeyFor(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.UTC().Year(), int(t.UTC().Month()))
}

// CategorizeExpense maps a free-form expense description onto a breakdown
// bucket name.
func CategorizeExpense(description string) string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "maintenance"), strings.Contains(desc, "repair"):
		return "maintenance"
	case strings.Contains(desc, "utility"), strings.Contains(desc, "electric"), strings.Contains(desc, "water"):
		return "utilities"
	case strings.Contains(desc, "insurance"):
		return "insurance"
	case strings.Contains(desc, "management"), strings.Contains(desc, "fee"):
		return "management"
	default:
		return "other"
	}
}
