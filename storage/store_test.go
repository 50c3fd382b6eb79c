package storage

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"drems/native/bridge"
	"drems/native/collateral"
	"drems/native/rent"
	"drems/native/schedule"
	"drems/native/valuation"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "drems.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTransferRoundTrip(t *testing.T) {
	store := openStore(t)
	record := &bridge.TransferRequest{
		MessageID:          common.HexToHash("0xabc"),
		SourceChainID:      1,
		DestinationChainID: 137,
		Sender:             common.HexToAddress("0x01"),
		Recipient:          common.HexToAddress("0x02"),
		Token:              common.HexToAddress("0x03"),
		Amount:             big.NewInt(5_000),
		FeePaid:            big.NewInt(50),
		Status:             bridge.StatusPending,
		CreatedAt:          100,
		UpdatedAt:          100,
	}
	if err := store.PutTransfer(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.GetTransfer(record.MessageID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Amount.Cmp(record.Amount) != 0 || got.Status != bridge.StatusPending || got.Recipient != record.Recipient {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMutateSerialisesDeliveries(t *testing.T) {
	store := openStore(t)
	record := &bridge.TransferRequest{
		MessageID: common.HexToHash("0xabc"),
		Amount:    big.NewInt(5_000),
		Status:    bridge.StatusInFlight,
	}
	if err := store.PutTransfer(record); err != nil {
		t.Fatalf("put: %v", err)
	}

	ledger := bridge.NewLedger(store, bridge.FeeSchedule{})
	credits := 0
	for i := 0; i < 3; i++ {
		err := ledger.MarkDelivered(record.MessageID, func(common.Address, common.Address, *big.Int) error {
			credits++
			return nil
		})
		if i == 0 && err != nil {
			t.Fatalf("first delivery: %v", err)
		}
		if i > 0 && !errors.Is(err, bridge.ErrDuplicateDelivery) {
			t.Fatalf("delivery %d: expected duplicate, got %v", i, err)
		}
	}
	if credits != 1 {
		t.Fatalf("expected exactly one credit through bolt store, got %d", credits)
	}
}

func TestMutateUnknownMessage(t *testing.T) {
	store := openStore(t)
	err := store.Mutate(common.HexToHash("0xdead"), func(*bridge.TransferRequest) error { return nil })
	if !errors.Is(err, bridge.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestRentRecordReplaceSemantics(t *testing.T) {
	store := openStore(t)
	first := &rent.PeriodRecord{
		PropertyID:         "prop-1",
		PeriodKey:          "2026-08",
		GrossRentCollected: big.NewInt(100),
		TotalExpenses:      big.NewInt(10),
		NetRentCollected:   big.NewInt(90),
		ExpectedRent:       big.NewInt(100),
	}
	first.Breakdown.EnsureDefaults()
	if err := store.PutRecord(first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := first.Clone()
	second.NetRentCollected = big.NewInt(80)
	if err := store.PutRecord(second); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, ok, err := store.GetRecord("prop-1", "2026-08")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.NetRentCollected.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("expected replaced record, got %s", got.NetRentCollected)
	}
	if _, ok, _ := store.GetRecord("prop-1", "2026-09"); ok {
		t.Fatalf("unexpected record for other period")
	}
}

func TestScheduleListing(t *testing.T) {
	store := openStore(t)
	for _, id := range []string{"prop-1", "prop-2"} {
		if err := store.PutSchedule(&schedule.Schedule{PropertyID: id, NextRentCollection: 42}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	all, err := store.ListSchedules()
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %v err=%v", all, err)
	}
	got, ok, err := store.GetSchedule("prop-2")
	if err != nil || !ok || got.NextRentCollection != 42 {
		t.Fatalf("get: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestCollateralLedgerRoundTrip(t *testing.T) {
	store := openStore(t)
	owner := common.HexToAddress("0x01")
	token := common.HexToAddress("0x02")

	missing, err := store.GetPosition(owner, token)
	if err != nil || missing != nil {
		t.Fatalf("missing position must be nil: %+v err=%v", missing, err)
	}

	position := &collateral.Position{
		Owner:           owner,
		PropertyToken:   token,
		Collateral:      big.NewInt(150),
		SyntheticMinted: big.NewInt(100),
		OpenedAt:        100,
		State:           collateral.StateOpen,
	}
	if err := store.PutPosition(position); err != nil {
		t.Fatalf("put position: %v", err)
	}
	got, err := store.GetPosition(owner, token)
	if err != nil || got == nil {
		t.Fatalf("get position: %+v err=%v", got, err)
	}
	if got.Collateral.Cmp(position.Collateral) != 0 || got.State != collateral.StateOpen {
		t.Fatalf("position mismatch: %+v", got)
	}

	account := &collateral.Account{
		Address:           owner,
		BalanceCollateral: big.NewInt(1_000),
		BalanceSynthetic:  big.NewInt(0),
	}
	if err := store.PutAccount(account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	gotAcc, err := store.GetAccount(owner)
	if err != nil || gotAcc == nil || gotAcc.BalanceCollateral.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("account mismatch: %+v err=%v", gotAcc, err)
	}
}

func TestValuationRoundTrip(t *testing.T) {
	store := openStore(t)
	record := &valuation.PropertyValuation{
		PropertyID:   "prop-1",
		CurrentValue: big.NewInt(560_000),
		Confidence:   100,
		MarketTrend:  "RISING",
		OccupancyBps: 9_500,
		LastUpdated:  100,
	}
	if err := store.PutValuation(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.GetValuation("prop-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.CurrentValue.Cmp(record.CurrentValue) != 0 || got.Confidence != 100 || got.MarketTrend != "RISING" {
		t.Fatalf("valuation mismatch: %+v", got)
	}
}
