package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status tracks a transfer through its lifecycle. Completed and Failed are
// terminal.
type Status uint8

const (
	StatusUnknown Status = iota
	// StatusPending means the request is accepted but the source lock is not
	// yet confirmed.
	StatusPending
	// StatusInFlight means the source-chain lock confirmed and the message is
	// travelling to the destination chain.
	StatusInFlight
	// StatusCompleted means the recipient was credited on the destination
	// chain. Exactly one credit happens per message.
	StatusCompleted
	// StatusFailed means destination delivery reported failure.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "inflight"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransferRequest is the ledger record for one cross-chain transfer. Amounts
// and fees are wei denominated.
type TransferRequest struct {
	MessageID          common.Hash    `json:"messageId"`
	SourceChainID      uint64         `json:"sourceChainId"`
	DestinationChainID uint64         `json:"destinationChainId"`
	Sender             common.Address `json:"sender"`
	Recipient          common.Address `json:"recipient"`
	Token              common.Address `json:"token"`
	Amount             *big.Int       `json:"amount"`
	FeePaid            *big.Int       `json:"feePaid"`
	Status             Status         `json:"status"`
	FailureReason      string         `json:"failureReason,omitempty"`
	CreatedAt          int64          `json:"createdAt"`
	UpdatedAt          int64          `json:"updatedAt"`
}

// Clone returns a deep copy of the request.
func (r *TransferRequest) Clone() *TransferRequest {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	if r.FeePaid != nil {
		clone.FeePaid = new(big.Int).Set(r.FeePaid)
	}
	return &clone
}

// FeeSchedule prices bridge messages: a flat base fee plus an optional
// per-destination-chain override that replaces the flat fee entirely.
type FeeSchedule struct {
	FlatFee  *big.Int
	PerChain map[uint64]*big.Int
}

// RequiredFee returns the fee owed for a message to the destination chain.
func (f FeeSchedule) RequiredFee(destinationChainID uint64) *big.Int {
	if override, ok := f.PerChain[destinationChainID]; ok && override != nil {
		return new(big.Int).Set(override)
	}
	if f.FlatFee == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(f.FlatFee)
}
