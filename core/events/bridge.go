package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeBridgeSubmitted is emitted when a transfer request enters the ledger.
	TypeBridgeSubmitted = "bridge.submitted"
	// TypeBridgeInFlight is emitted once the source-chain lock confirms.
	TypeBridgeInFlight = "bridge.inflight"
	// TypeBridgeCompleted is emitted when destination delivery credits the recipient.
	TypeBridgeCompleted = "bridge.completed"
	// TypeBridgeFailed is emitted when destination delivery reports failure.
	TypeBridgeFailed = "bridge.failed"
)

// BridgeTransfer carries the lifecycle metadata shared by all bridge events.
type BridgeTransfer struct {
	Type               string
	MessageID          common.Hash
	SourceChainID      uint64
	DestinationChainID uint64
	Sender             common.Address
	Recipient          common.Address
	Token              common.Address
	Amount             *big.Int
}

func (e BridgeTransfer) EventType() string { return e.Type }

func (e BridgeTransfer) Attributes() map[string]string {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return map[string]string{
		"messageId":        e.MessageID.Hex(),
		"sourceChainId":    strconv.FormatUint(e.SourceChainID, 10),
		"destinationChain": strconv.FormatUint(e.DestinationChainID, 10),
		"sender":           e.Sender.Hex(),
		"recipient":        e.Recipient.Hex(),
		"token":            e.Token.Hex(),
		"amount":           amount,
	}
}
