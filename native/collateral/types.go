package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionState tracks the lifecycle of a synthetic position.
type PositionState uint8

const (
	// StateEmpty marks a position with no collateral or debt.
	StateEmpty PositionState = iota
	// StateOpen marks a live position backing minted synthetic supply.
	StateOpen
	// StateLiquidated marks a seized position. Terminal for the instance; the
	// same (owner, propertyToken) pair may reopen a fresh position afterwards.
	StateLiquidated
)

// String renders the state for logs and API payloads.
func (s PositionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateLiquidated:
		return "liquidated"
	default:
		return "empty"
	}
}

// Position maintains the collateral and synthetic debt for one
// (owner, propertyToken) pair. Amounts are wei-denominated big integers.
type Position struct {
	Owner         common.Address
	PropertyToken common.Address
	// Collateral is the collateral-token amount locked in the module account.
	Collateral *big.Int
	// SyntheticMinted is the outstanding synthetic supply backed by this position.
	SyntheticMinted *big.Int
	// OpenedAt records the unix time of the first mint for this instance.
	OpenedAt int64
	State    PositionState
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Owner:         p.Owner,
		PropertyToken: p.PropertyToken,
		OpenedAt:      p.OpenedAt,
		State:         p.State,
	}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.SyntheticMinted != nil {
		clone.SyntheticMinted = new(big.Int).Set(p.SyntheticMinted)
	}
	return clone
}

// Account tracks the collateral-token and synthetic-token balances for an
// address on the backing ledger.
type Account struct {
	Address           common.Address
	BalanceCollateral *big.Int
	BalanceSynthetic  *big.Int
}

// RiskParameters groups the safety limits governing mint and liquidation
// decisions, expressed in basis points for deterministic integer arithmetic.
type RiskParameters struct {
	// MinHealthFactorBps is the minimum health factor a mint may leave behind.
	// 15000 corresponds to 150% collateralisation.
	MinHealthFactorBps uint64
	// LiquidationThresholdBps scales collateral value when computing the health
	// factor. 10000 means collateral counts at face value.
	LiquidationThresholdBps uint64
}

// Normalise applies defaults for unset parameters.
func (p RiskParameters) Normalise() RiskParameters {
	out := p
	if out.MinHealthFactorBps == 0 {
		out.MinHealthFactorBps = 15000
	}
	if out.LiquidationThresholdBps == 0 {
		out.LiquidationThresholdBps = 10000
	}
	return out
}
