package bridge

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func wei(eth float64) *big.Int {
	value := new(big.Float).Mul(big.NewFloat(eth), big.NewFloat(1e18))
	out, _ := value.Int(nil)
	return out
}

func testLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	ledger := NewLedger(store, FeeSchedule{FlatFee: wei(0.05)})
	return ledger, store
}

func TestSubmitRejectsUnderpaidFee(t *testing.T) {
	ledger, store := testLedger(t)

	_, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(1_000), 1, 43114, wei(0.001),
	)
	if !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("expected ErrInsufficientFee, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("underpaid submit must not write state, got %d records", store.Len())
	}
}

func TestSubmitHonoursPerChainFeeOverride(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, FeeSchedule{
		FlatFee:  wei(0.05),
		PerChain: map[uint64]*big.Int{43114: wei(0.01)},
	})

	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(1_000), 1, 43114, wei(0.01),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}
	if required := ledger.RequiredFee(137); required.Cmp(wei(0.05)) != 0 {
		t.Fatalf("flat fee must apply to chains without override, got %s", required)
	}
}

func TestTransferLifecycle(t *testing.T) {
	ledger, _ := testLedger(t)

	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := ledger.MarkInFlight(record.MessageID); err != nil {
		t.Fatalf("mark in flight: %v", err)
	}
	status, err := ledger.Status(record.MessageID)
	if err != nil || status != StatusInFlight {
		t.Fatalf("expected inflight, got %s err %v", status, err)
	}

	credited := big.NewInt(0)
	credit := func(recipient, token common.Address, amount *big.Int) error {
		if recipient != record.Recipient || token != record.Token {
			t.Fatalf("credit routed to wrong account: %s / %s", recipient, token)
		}
		credited.Add(credited, amount)
		return nil
	}
	if err := ledger.MarkDelivered(record.MessageID, credit); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if credited.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected single full credit, got %s", credited)
	}
	status, err = ledger.Status(record.MessageID)
	if err != nil || status != StatusCompleted {
		t.Fatalf("expected completed, got %s err %v", status, err)
	}
}

func TestDeliveryBeforeLockConfirmation(t *testing.T) {
	ledger, _ := testLedger(t)
	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The destination relayer reports delivery before the source lock does.
	var credits atomic.Int64
	if err := ledger.MarkDelivered(record.MessageID, func(common.Address, common.Address, *big.Int) error {
		credits.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("out-of-order delivery: %v", err)
	}
	if credits.Load() != 1 {
		t.Fatalf("expected one credit, got %d", credits.Load())
	}

	// The late lock confirmation must not revive the transfer.
	if err := ledger.MarkInFlight(record.MessageID); err == nil {
		t.Fatalf("late lock confirmation must be rejected on a completed transfer")
	}
	status, err := ledger.Status(record.MessageID)
	if err != nil || status != StatusCompleted {
		t.Fatalf("expected completed, got %s err %v", status, err)
	}
}

func TestDuplicateDeliveryCreditsOnce(t *testing.T) {
	ledger, _ := testLedger(t)
	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var credits atomic.Int64
	credit := func(common.Address, common.Address, *big.Int) error {
		credits.Add(1)
		return nil
	}
	for i := 0; i < 5; i++ {
		err := ledger.MarkDelivered(record.MessageID, credit)
		if i == 0 && err != nil {
			t.Fatalf("first delivery: %v", err)
		}
		if i > 0 && !errors.Is(err, ErrDuplicateDelivery) {
			t.Fatalf("delivery %d: expected ErrDuplicateDelivery, got %v", i, err)
		}
	}
	if credits.Load() != 1 {
		t.Fatalf("expected exactly one credit, got %d", credits.Load())
	}
}

func TestConcurrentDeliveryCreditsOnce(t *testing.T) {
	ledger, _ := testLedger(t)
	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var credits atomic.Int64
	var duplicates atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.MarkDelivered(record.MessageID, func(common.Address, common.Address, *big.Int) error {
				credits.Add(1)
				return nil
			})
			if errors.Is(err, ErrDuplicateDelivery) {
				duplicates.Add(1)
			} else if err != nil {
				t.Errorf("mark delivered: %v", err)
			}
		}()
	}
	wg.Wait()
	if credits.Load() != 1 {
		t.Fatalf("expected exactly one credit under contention, got %d", credits.Load())
	}
	if duplicates.Load() != 15 {
		t.Fatalf("expected 15 duplicate rejections, got %d", duplicates.Load())
	}
}

func TestCreditFailureLeavesTransferRetryable(t *testing.T) {
	ledger, _ := testLedger(t)
	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	boom := errors.New("destination unavailable")
	err = ledger.MarkDelivered(record.MessageID, func(common.Address, common.Address, *big.Int) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected credit error surfaced, got %v", err)
	}
	status, err := ledger.Status(record.MessageID)
	if err != nil || status == StatusCompleted {
		t.Fatalf("failed credit must not complete the transfer: %s err %v", status, err)
	}

	if err := ledger.MarkDelivered(record.MessageID, func(common.Address, common.Address, *big.Int) error {
		return nil
	}); err != nil {
		t.Fatalf("retry after credit failure: %v", err)
	}
}

func TestMarkFailedIsTerminal(t *testing.T) {
	ledger, _ := testLedger(t)
	record, err := ledger.Submit(
		common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(5_000), 1, 137, wei(0.05),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := ledger.MarkFailed(record.MessageID, "destination reverted"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := ledger.MarkDelivered(record.MessageID, nil); err == nil {
		t.Fatalf("delivery after failure must be rejected")
	}
	stored, err := ledger.Transfer(record.MessageID)
	if err != nil {
		t.Fatalf("transfer lookup: %v", err)
	}
	if stored.Status != StatusFailed || stored.FailureReason != "destination reverted" {
		t.Fatalf("unexpected terminal state: %+v", stored)
	}
}

func TestUnknownMessage(t *testing.T) {
	ledger, _ := testLedger(t)
	if _, err := ledger.Status(common.HexToHash("0xdead")); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if err := ledger.MarkInFlight(common.HexToHash("0xdead")); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	ledger, store := testLedger(t)
	for i := 0; i < 8; i++ {
		if _, err := ledger.Submit(
			common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
			big.NewInt(5_000), 1, 137, wei(0.05),
		); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if store.Len() != 8 {
		t.Fatalf("identical parameters must still yield distinct message ids, got %d records", store.Len())
	}
}
