package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"drems/core/events"
)

var (
	// ErrInsufficientFee is returned when the paid fee does not cover the
	// destination chain's required fee. No state is written.
	ErrInsufficientFee = errors.New("bridge: insufficient fee")
	// ErrDuplicateDelivery is returned when a delivery notification arrives
	// for a message that was already credited. The recipient is not credited
	// a second time.
	ErrDuplicateDelivery = errors.New("bridge: message already delivered")
	// ErrUnknownMessage is returned when no transfer exists for the message id.
	ErrUnknownMessage = errors.New("bridge: unknown message")

	errNilLedgerStore = errors.New("bridge: ledger store not configured")
	errInvalidAmount  = errors.New("bridge: transfer amount must be positive")
	errSameChain      = errors.New("bridge: source and destination chain must differ")
	errTerminalState  = errors.New("bridge: transfer already finalised")
)

// Store persists transfer records. Mutate must apply fn to the stored record
// atomically with respect to other Mutate calls for the same message id; it is
// the single decision point that makes delivery at-most-once.
type Store interface {
	GetTransfer(messageID common.Hash) (*TransferRequest, bool, error)
	PutTransfer(record *TransferRequest) error
	Mutate(messageID common.Hash, fn func(*TransferRequest) error) error
}

// CreditFunc credits the recipient on the destination side. The ledger calls
// it at most once per message id, inside the store mutation that flips the
// transfer to Completed.
type CreditFunc func(recipient common.Address, token common.Address, amount *big.Int) error

// Ledger tracks cross-chain transfers and enforces at-most-once delivery
// credit per message id.
type Ledger struct {
	store   Store
	fees    FeeSchedule
	emitter events.Emitter
	now     func() time.Time
}

// NewLedger constructs a ledger over the provided store.
func NewLedger(store Store, fees FeeSchedule) *Ledger {
	return &Ledger{store: store, fees: fees, emitter: events.NoopEmitter{}, now: time.Now}
}

// SetEmitter installs the event sink for lifecycle transitions.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil || emitter == nil {
		return
	}
	l.emitter = emitter
}

// SetClock overrides the wall-clock source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.now = now
}

// RequiredFee exposes the fee owed for the destination chain.
func (l *Ledger) RequiredFee(destinationChainID uint64) *big.Int {
	return l.fees.RequiredFee(destinationChainID)
}

// Submit validates and records a new transfer in Pending state. The fee check
// runs before any state is written: an underpaid request leaves the ledger
// untouched.
func (l *Ledger) Submit(sender, recipient, token common.Address, amount *big.Int, sourceChainID, destinationChainID uint64, feePaid *big.Int) (*TransferRequest, error) {
	if l == nil || l.store == nil {
		return nil, errNilLedgerStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if sourceChainID == destinationChainID {
		return nil, errSameChain
	}
	required := l.fees.RequiredFee(destinationChainID)
	if feePaid == nil {
		feePaid = big.NewInt(0)
	}
	if feePaid.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: need %s, got %s", ErrInsufficientFee, required, feePaid)
	}

	now := l.now().Unix()
	record := &TransferRequest{
		MessageID:          newMessageID(sender, recipient, amount),
		SourceChainID:      sourceChainID,
		DestinationChainID: destinationChainID,
		Sender:             sender,
		Recipient:          recipient,
		Token:              token,
		Amount:             new(big.Int).Set(amount),
		FeePaid:            new(big.Int).Set(feePaid),
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := l.store.PutTransfer(record.Clone()); err != nil {
		return nil, err
	}
	l.emit(events.TypeBridgeSubmitted, record)
	return record, nil
}

// MarkInFlight flips a pending transfer to InFlight once the source lock
// confirms.
func (l *Ledger) MarkInFlight(messageID common.Hash) error {
	if l == nil || l.store == nil {
		return errNilLedgerStore
	}
	var snapshot *TransferRequest
	err := l.store.Mutate(messageID, func(record *TransferRequest) error {
		if record.Status.Terminal() {
			return errTerminalState
		}
		record.Status = StatusInFlight
		record.UpdatedAt = l.now().Unix()
		snapshot = record.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	l.emit(events.TypeBridgeInFlight, snapshot)
	return nil
}

// MarkDelivered finalises a transfer as Completed and invokes credit exactly
// once. A repeat notification for an already-completed message returns
// ErrDuplicateDelivery without touching balances; the credit call happens
// inside the store mutation so concurrent notifications for the same message
// serialise on one winner.
//
// Delivery is normally reported from InFlight, but a still-Pending transfer is
// accepted too: source-lock and destination-delivery notifications travel over
// independent relayers and can arrive out of order. The message id, not the
// prior status, is what guards the credit.
func (l *Ledger) MarkDelivered(messageID common.Hash, credit CreditFunc) error {
	if l == nil || l.store == nil {
		return errNilLedgerStore
	}
	var snapshot *TransferRequest
	err := l.store.Mutate(messageID, func(record *TransferRequest) error {
		if record.Status == StatusCompleted {
			return ErrDuplicateDelivery
		}
		if record.Status == StatusFailed {
			return errTerminalState
		}
		if credit != nil {
			if err := credit(record.Recipient, record.Token, new(big.Int).Set(record.Amount)); err != nil {
				return fmt.Errorf("bridge: credit recipient: %w", err)
			}
		}
		record.Status = StatusCompleted
		record.UpdatedAt = l.now().Unix()
		snapshot = record.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	l.emit(events.TypeBridgeCompleted, snapshot)
	return nil
}

// MarkFailed finalises a transfer as Failed with the reported reason.
func (l *Ledger) MarkFailed(messageID common.Hash, reason string) error {
	if l == nil || l.store == nil {
		return errNilLedgerStore
	}
	var snapshot *TransferRequest
	err := l.store.Mutate(messageID, func(record *TransferRequest) error {
		if record.Status.Terminal() {
			return errTerminalState
		}
		record.Status = StatusFailed
		record.FailureReason = reason
		record.UpdatedAt = l.now().Unix()
		snapshot = record.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	l.emit(events.TypeBridgeFailed, snapshot)
	return nil
}

// Transfer returns the stored record for a message id.
func (l *Ledger) Transfer(messageID common.Hash) (*TransferRequest, error) {
	if l == nil || l.store == nil {
		return nil, errNilLedgerStore
	}
	record, ok, err := l.store.GetTransfer(messageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownMessage
	}
	return record, nil
}

// Status returns the lifecycle status for a message id.
func (l *Ledger) Status(messageID common.Hash) (Status, error) {
	record, err := l.Transfer(messageID)
	if err != nil {
		return StatusUnknown, err
	}
	return record.Status, nil
}

func (l *Ledger) emit(eventType string, record *TransferRequest) {
	if record == nil {
		return
	}
	l.emitter.Emit(events.BridgeTransfer{
		Type:               eventType,
		MessageID:          record.MessageID,
		SourceChainID:      record.SourceChainID,
		DestinationChainID: record.DestinationChainID,
		Sender:             record.Sender,
		Recipient:          record.Recipient,
		Token:              record.Token,
		Amount:             record.Amount,
	})
}

// newMessageID derives a globally unique message id from a fresh UUID plus the
// transfer parameters.
func newMessageID(sender, recipient common.Address, amount *big.Int) common.Hash {
	nonce := uuid.New()
	return crypto.Keccak256Hash(nonce[:], sender.Bytes(), recipient.Bytes(), amount.Bytes())
}
