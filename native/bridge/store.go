package bridge

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory Store used by tests and single-process setups.
// Mutate serialises on a single mutex, which makes it a valid at-most-once
// decision point within one process.
type MemoryStore struct {
	mu        sync.Mutex
	transfers map[common.Hash]*TransferRequest
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[common.Hash]*TransferRequest)}
}

// GetTransfer returns a copy of the stored record.
func (s *MemoryStore) GetTransfer(messageID common.Hash) (*TransferRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.transfers[messageID]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// PutTransfer stores the record keyed by its message id.
func (s *MemoryStore) PutTransfer(record *TransferRequest) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	s.transfers[record.MessageID] = record.Clone()
	s.mu.Unlock()
	return nil
}

// Mutate applies fn to the stored record under the store lock. Changes are
// discarded when fn returns an error.
func (s *MemoryStore) Mutate(messageID common.Hash, fn func(*TransferRequest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.transfers[messageID]
	if !ok {
		return ErrUnknownMessage
	}
	working := record.Clone()
	if err := fn(working); err != nil {
		return err
	}
	s.transfers[messageID] = working
	return nil
}

// Len reports the number of stored transfers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}
