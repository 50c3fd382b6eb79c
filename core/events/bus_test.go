package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBusFansOut(t *testing.T) {
	bus := NewBus()
	first, cancelFirst := bus.Subscribe(4)
	second, cancelSecond := bus.Subscribe(4)
	defer cancelSecond()

	bus.Emit(RentProcessed{PropertyID: "prop-1", PeriodKey: "2026-08", NetRent: big.NewInt(7_200)})

	for name, feed := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case evt := <-feed:
			if evt.EventType() != TypeRentProcessed {
				t.Fatalf("%s subscriber: unexpected type %s", name, evt.EventType())
			}
			if evt.Attributes()["netRent"] != "7200" {
				t.Fatalf("%s subscriber: unexpected attributes %v", name, evt.Attributes())
			}
		default:
			t.Fatalf("%s subscriber received nothing", name)
		}
	}

	cancelFirst()
	if _, open := <-first; open {
		t.Fatalf("cancel must close the subscriber channel")
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	feed, cancel := bus.Subscribe(1)
	defer cancel()

	transfer := BridgeTransfer{Type: TypeBridgeSubmitted, MessageID: common.HexToHash("0x01"), Amount: big.NewInt(1)}
	bus.Emit(transfer)
	bus.Emit(transfer) // buffer full, must not block

	if len(feed) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(feed))
	}
}
