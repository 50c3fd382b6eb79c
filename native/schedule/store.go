package schedule

import "sync"

// Store persists per-property schedules.
type Store interface {
	GetSchedule(propertyID string) (*Schedule, bool, error)
	PutSchedule(schedule *Schedule) error
	ListSchedules() ([]*Schedule, error)
}

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]*Schedule)}
}

// GetSchedule returns a copy of the stored schedule.
func (s *MemoryStore) GetSchedule(propertyID string) (*Schedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[propertyID]
	if !ok {
		return nil, false, nil
	}
	return schedule.Clone(), true, nil
}

// PutSchedule replaces the schedule for its property.
func (s *MemoryStore) PutSchedule(schedule *Schedule) error {
	if schedule == nil {
		return nil
	}
	s.mu.Lock()
	s.schedules[schedule.PropertyID] = schedule.Clone()
	s.mu.Unlock()
	return nil
}

// ListSchedules returns copies of every stored schedule.
func (s *MemoryStore) ListSchedules() ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, schedule.Clone())
	}
	return out, nil
}
