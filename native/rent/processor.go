package rent

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"drems/core/events"
)

var (
	errNilStore       = errors.New("rent processor: store not configured")
	errMissingKeys    = errors.New("rent processor: property id and period key required")
	errExpectedAmount = errors.New("rent processor: expected rent must not be negative")
)

// Store persists period records with replace semantics: at most one record per
// (property, period).
type Store interface {
	GetRecord(propertyID, periodKey string) (*PeriodRecord, bool, error)
	PutRecord(record *PeriodRecord) error
}

// Processor aggregates the settled sub-fetch results for one property period
// into a net-rent figure. Process is idempotent per (property, period): given
// identical inputs it produces identical records apart from ComputedAt, and
// the stored record is replaced, never appended.
type Processor struct {
	mu      sync.Mutex
	store   Store
	emitter events.Emitter
	now     func() time.Time
}

// NewProcessor constructs a processor over the provided store.
func NewProcessor(store Store) *Processor {
	return &Processor{store: store, emitter: events.NoopEmitter{}, now: time.Now}
}

// SetEmitter installs the event sink notified when records are stored.
func (p *Processor) SetEmitter(emitter events.Emitter) {
	if p == nil || emitter == nil {
		return
	}
	p.emitter = emitter
}

// SetClock overrides the wall-clock source. Intended for tests.
func (p *Processor) SetClock(now func() time.Time) {
	if p == nil || now == nil {
		return
	}
	p.now = now
}

// Process combines the three sub-fetch results. A nil sub-result degrades to
// its documented default (zero payments, zero expenses, full occupancy) and is
// flagged in the record's DataQuality rather than aborting the computation.
// The write is all-or-nothing: the prior record stays untouched on failure.
func (p *Processor) Process(propertyID, periodKey string, payments *PaymentData, expenses *ExpenseData, tenants *TenantData) (*PeriodRecord, error) {
	if p == nil || p.store == nil {
		return nil, errNilStore
	}
	propertyID = strings.TrimSpace(propertyID)
	periodKey = strings.TrimSpace(periodKey)
	if propertyID == "" || periodKey == "" {
		return nil, errMissingKeys
	}

	record := &PeriodRecord{
		PropertyID:         propertyID,
		PeriodKey:          periodKey,
		GrossRentCollected: big.NewInt(0),
		TotalExpenses:      big.NewInt(0),
		ExpectedRent:       big.NewInt(0),
		OccupancyBps:       DefaultOccupancyBps,
	}
	record.Breakdown.EnsureDefaults()

	if payments != nil {
		record.DataQuality.HasPaymentData = payments.Source != "" && payments.Source != SourceDefault
		if payments.GrossCollected != nil && payments.GrossCollected.Sign() > 0 {
			record.GrossRentCollected = new(big.Int).Set(payments.GrossCollected)
		}
		if payments.ExpectedRent != nil {
			if payments.ExpectedRent.Sign() < 0 {
				return nil, errExpectedAmount
			}
			record.ExpectedRent = new(big.Int).Set(payments.ExpectedRent)
		}
	}
	if expenses != nil {
		record.DataQuality.HasExpenseData = expenses.Source != "" && expenses.Source != SourceDefault
		if expenses.Total != nil && expenses.Total.Sign() > 0 {
			record.TotalExpenses = new(big.Int).Set(expenses.Total)
		}
		breakdown := expenses.Breakdown
		breakdown.EnsureDefaults()
		record.Breakdown = ExpenseBreakdown{
			Maintenance: new(big.Int).Set(breakdown.Maintenance),
			Utilities:   new(big.Int).Set(breakdown.Utilities),
			Insurance:   new(big.Int).Set(breakdown.Insurance),
			Management:  new(big.Int).Set(breakdown.Management),
			Other:       new(big.Int).Set(breakdown.Other),
		}
	}
	if tenants != nil {
		record.DataQuality.HasTenantData = tenants.Source != "" && tenants.Source != SourceDefault
		if tenants.OccupancyBps > 0 {
			record.OccupancyBps = tenants.OccupancyBps
		}
	}

	// Net rent never goes negative: a loss-making period yields zero.
	net := new(big.Int).Sub(record.GrossRentCollected, record.TotalExpenses)
	if net.Sign() < 0 {
		net = big.NewInt(0)
	}
	record.NetRentCollected = net

	if record.ExpectedRent.Sign() > 0 {
		efficiency := new(big.Int).Mul(record.GrossRentCollected, big.NewInt(10_000))
		efficiency.Quo(efficiency, record.ExpectedRent)
		record.CollectionEfficiencyBps = efficiency.Uint64()
	}

	record.ComputedAt = p.now().Unix()

	p.mu.Lock()
	err := p.store.PutRecord(record.Clone())
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.emitter.Emit(events.RentProcessed{
		PropertyID: propertyID,
		PeriodKey:  periodKey,
		NetRent:    record.NetRentCollected,
		Degraded:   record.DataQuality.Degraded(),
	})
	return record, nil
}

// Record returns the stored record for the period, if any.
func (p *Processor) Record(propertyID, periodKey string) (*PeriodRecord, bool, error) {
	if p == nil || p.store == nil {
		return nil, false, errNilStore
	}
	return p.store.GetRecord(strings.TrimSpace(propertyID), strings.TrimSpace(periodKey))
}

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*PeriodRecord
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*PeriodRecord)}
}

func recordKey(propertyID, periodKey string) string {
	return propertyID + "/" + periodKey
}

// GetRecord returns a copy of the stored record.
func (s *MemoryStore) GetRecord(propertyID, periodKey string) (*PeriodRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(propertyID, periodKey)]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// PutRecord replaces the record for its (property, period) key.
func (s *MemoryStore) PutRecord(record *PeriodRecord) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	s.records[recordKey(record.PropertyID, record.PeriodKey)] = record.Clone()
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
