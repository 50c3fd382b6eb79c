package collateral

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger is an in-memory Ledger implementation backing tests and
// single-process deployments.
type MemoryLedger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	accounts  map[common.Address]*Account
}

// NewMemoryLedger constructs an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		positions: make(map[string]*Position),
		accounts:  make(map[common.Address]*Account),
	}
}

func positionKey(owner, propertyToken common.Address) string {
	return owner.Hex() + "/" + propertyToken.Hex()
}

// GetPosition returns a copy of the stored position or nil when absent.
func (l *MemoryLedger) GetPosition(owner, propertyToken common.Address) (*Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[positionKey(owner, propertyToken)].Clone(), nil
}

// PutPosition stores a copy of the position.
func (l *MemoryLedger) PutPosition(position *Position) error {
	if position == nil {
		return nil
	}
	l.mu.Lock()
	l.positions[positionKey(position.Owner, position.PropertyToken)] = position.Clone()
	l.mu.Unlock()
	return nil
}

// GetAccount returns a copy of the stored account or nil when absent.
func (l *MemoryLedger) GetAccount(addr common.Address) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stored, ok := l.accounts[addr]
	if !ok {
		return nil, nil
	}
	return cloneAccount(stored), nil
}

// PutAccount stores a copy of the account.
func (l *MemoryLedger) PutAccount(account *Account) error {
	if account == nil {
		return nil
	}
	l.mu.Lock()
	l.accounts[account.Address] = cloneAccount(account)
	l.mu.Unlock()
	return nil
}

func cloneAccount(a *Account) *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Address: a.Address}
	if a.BalanceCollateral != nil {
		clone.BalanceCollateral = new(big.Int).Set(a.BalanceCollateral)
	}
	if a.BalanceSynthetic != nil {
		clone.BalanceSynthetic = new(big.Int).Set(a.BalanceSynthetic)
	}
	return clone
}
