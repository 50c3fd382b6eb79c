package collateral

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drems/native/pricefeed"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

func wei(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000_000_000_000))
}

func usdQuote(value *big.Int) pricefeed.PriceQuote {
	return pricefeed.PriceQuote{Pair: "COLL/USD", Value: value, UpdatedAt: time.Now()}
}

func newFundedEngine(t *testing.T, owner common.Address, collateralBalance *big.Int, params RiskParameters) (*Engine, *MemoryLedger) {
	t.Helper()
	moduleAddr := makeAddress(0x01)
	ledger := NewMemoryLedger()
	if err := ledger.PutAccount(&Account{Address: owner, BalanceCollateral: collateralBalance, BalanceSynthetic: big.NewInt(0)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	engine := NewEngine(moduleAddr, params)
	engine.SetState(ledger)
	return engine, ledger
}

func TestOpenOrIncreaseEnforcesMinHealthFactor(t *testing.T) {
	owner := makeAddress(0x20)
	token := makeAddress(0x30)
	engine, _ := newFundedEngine(t, owner, wei(1_000), RiskParameters{})

	// 150 USD of collateral backing 100 USD of synthetic at 150% minimum: exactly at the bound.
	position, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1)))
	if err != nil {
		t.Fatalf("open at exact bound: %v", err)
	}
	if position.State != StateOpen {
		t.Fatalf("unexpected state: %v", position.State)
	}
	if position.SyntheticMinted.Cmp(wei(100)) != 0 {
		t.Fatalf("unexpected minted: %s", position.SyntheticMinted)
	}
}

func TestOpenOrIncreaseRejectsUndercollateralisedMint(t *testing.T) {
	owner := makeAddress(0x21)
	token := makeAddress(0x31)
	engine, ledger := newFundedEngine(t, owner, wei(1_000), RiskParameters{})

	_, err := engine.OpenOrIncrease(owner, token, wei(150), wei(101), usdQuote(wei(1)))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}

	// Failed mint must leave no partial state behind.
	acc, err := ledger.GetAccount(owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.BalanceCollateral.Cmp(wei(1_000)) != 0 {
		t.Fatalf("collateral balance mutated on failure: %s", acc.BalanceCollateral)
	}
	stored, err := ledger.GetPosition(owner, token)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if stored != nil {
		t.Fatalf("position created on failed mint")
	}
}

func TestDecreaseOrCloseReturnsProportionalCollateral(t *testing.T) {
	owner := makeAddress(0x22)
	token := makeAddress(0x32)
	engine, ledger := newFundedEngine(t, owner, wei(1_000), RiskParameters{})

	if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}
	released, err := engine.DecreaseOrClose(owner, token, wei(40))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if released.Cmp(wei(60)) != 0 {
		t.Fatalf("unexpected released collateral: %s", released)
	}

	position, err := engine.Position(owner, token)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.SyntheticMinted.Cmp(wei(60)) != 0 || position.Collateral.Cmp(wei(90)) != 0 {
		t.Fatalf("unexpected position after burn: minted=%s collateral=%s", position.SyntheticMinted, position.Collateral)
	}

	// Full burn closes the position and returns the remainder.
	released, err = engine.DecreaseOrClose(owner, token, wei(60))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if released.Cmp(wei(90)) != 0 {
		t.Fatalf("unexpected close release: %s", released)
	}
	position, err = engine.Position(owner, token)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.State != StateEmpty || position.Collateral.Sign() != 0 {
		t.Fatalf("position not emptied: %+v", position)
	}

	acc, _ := ledger.GetAccount(owner)
	if acc.BalanceCollateral.Cmp(wei(1_000)) != 0 {
		t.Fatalf("collateral not fully returned: %s", acc.BalanceCollateral)
	}
	if acc.BalanceSynthetic.Sign() != 0 {
		t.Fatalf("synthetic not fully burned: %s", acc.BalanceSynthetic)
	}
}

func TestDecreaseOrCloseRejectsInvalidBurns(t *testing.T) {
	owner := makeAddress(0x23)
	token := makeAddress(0x33)
	engine, _ := newFundedEngine(t, owner, wei(1_000), RiskParameters{})
	if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := engine.DecreaseOrClose(owner, token, big.NewInt(0)); !errors.Is(err, ErrInvalidBurnAmount) {
		t.Fatalf("expected ErrInvalidBurnAmount for zero burn, got %v", err)
	}
	if _, err := engine.DecreaseOrClose(owner, token, wei(101)); !errors.Is(err, ErrInvalidBurnAmount) {
		t.Fatalf("expected ErrInvalidBurnAmount for oversized burn, got %v", err)
	}
}

func TestHealthFactorIsDeterministic(t *testing.T) {
	owner := makeAddress(0x24)
	token := makeAddress(0x34)
	engine, _ := newFundedEngine(t, owner, wei(1_000), RiskParameters{})
	if _, err := engine.OpenOrIncrease(owner, token, wei(300), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}
	position, _ := engine.Position(owner, token)
	first, err := engine.HealthFactorBps(position, usdQuote(wei(1)))
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if first.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("unexpected health factor: %s", first)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.HealthFactorBps(position, usdQuote(wei(1)))
		if err != nil {
			t.Fatalf("health factor: %v", err)
		}
		if again.Cmp(first) != 0 {
			t.Fatalf("health factor not deterministic: %s vs %s", again, first)
		}
	}
}

func TestLiquidateRecordsShortfall(t *testing.T) {
	owner := makeAddress(0x25)
	token := makeAddress(0x35)
	engine, _ := newFundedEngine(t, owner, wei(1_000), RiskParameters{})
	if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Collateral price collapses: 150 tokens at $0.50 back $100 of debt.
	crashed := usdQuote(new(big.Int).Quo(wei(1), big.NewInt(2)))
	seized, returned, err := engine.Liquidate(owner, token, crashed)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(wei(150)) != 0 {
		t.Fatalf("unexpected seized: %s", seized)
	}
	if returned.Sign() != 0 {
		t.Fatalf("unexpected returned collateral: %s", returned)
	}
	// Debt of $100 covered by $75 of collateral: $25 protocol loss.
	if engine.ProtocolShortfallUSD().Cmp(wei(25)) != 0 {
		t.Fatalf("unexpected shortfall: %s", engine.ProtocolShortfallUSD())
	}

	position, _ := engine.Position(owner, token)
	if position.State != StateLiquidated {
		t.Fatalf("position not liquidated: %v", position.State)
	}

	// Liquidated is terminal for the instance but the pair may reopen.
	if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("reopen after liquidation: %v", err)
	}
	position, _ = engine.Position(owner, token)
	if position.State != StateOpen {
		t.Fatalf("reopened position not open: %v", position.State)
	}
}

func TestLiquidateReturnsExcessCollateral(t *testing.T) {
	owner := makeAddress(0x26)
	token := makeAddress(0x36)
	// Collateral counted at 80% of face value for health purposes.
	engine, ledger := newFundedEngine(t, owner, wei(1_000), RiskParameters{LiquidationThresholdBps: 12_500})
	if _, err := engine.OpenOrIncrease(owner, token, wei(200), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}

	// 120 collateral / (100 * 1.25) = 0.96 health: liquidatable, yet the
	// collateral still covers the debt at face value.
	position, _ := engine.Position(owner, token)
	position.Collateral = wei(120)
	if err := ledger.PutPosition(position); err != nil {
		t.Fatalf("adjust position: %v", err)
	}

	seized, returned, err := engine.Liquidate(owner, token, usdQuote(wei(1)))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(wei(100)) != 0 {
		t.Fatalf("unexpected seized: %s", seized)
	}
	if returned.Cmp(wei(20)) != 0 {
		t.Fatalf("unexpected returned: %s", returned)
	}
	if engine.ProtocolShortfallUSD().Sign() != 0 {
		t.Fatalf("unexpected shortfall: %s", engine.ProtocolShortfallUSD())
	}
}

func TestLiquidateRequiresUnhealthyPosition(t *testing.T) {
	owner := makeAddress(0x27)
	token := makeAddress(0x37)
	engine, _ := newFundedEngine(t, owner, wei(1_000), RiskParameters{})
	if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, err := engine.Liquidate(owner, token, usdQuote(wei(1))); err == nil {
		t.Fatalf("liquidation of healthy position must fail")
	}
}

func TestConcurrentMintsSerialisePerPosition(t *testing.T) {
	owner := makeAddress(0x28)
	token := makeAddress(0x38)
	engine, ledger := newFundedEngine(t, owner, wei(100_000), RiskParameters{})

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
				t.Errorf("concurrent mint: %v", err)
			}
		}()
	}
	wg.Wait()

	position, err := engine.Position(owner, token)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Cmp(wei(150*workers)) != 0 {
		t.Fatalf("lost collateral update: %s", position.Collateral)
	}
	if position.SyntheticMinted.Cmp(wei(100*workers)) != 0 {
		t.Fatalf("lost mint update: %s", position.SyntheticMinted)
	}
	acc, _ := ledger.GetAccount(owner)
	if acc.BalanceSynthetic.Cmp(wei(100*workers)) != 0 {
		t.Fatalf("synthetic balance mismatch: %s", acc.BalanceSynthetic)
	}
}

func TestConcurrentPositionsPreserveAccountBalances(t *testing.T) {
	moduleAddr := makeAddress(0x01)
	ledger := NewMemoryLedger()
	engine := NewEngine(moduleAddr, RiskParameters{})
	engine.SetState(ledger)

	const workers = 16
	owners := make([]common.Address, workers)
	for i := range owners {
		owners[i] = makeAddress(byte(0x40 + i))
		if err := ledger.PutAccount(&Account{Address: owners[i], BalanceCollateral: wei(1_000), BalanceSynthetic: big.NewInt(0)}); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	token := makeAddress(0x39)

	// Distinct positions run in parallel but share the module account.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner common.Address) {
			defer wg.Done()
			if _, err := engine.OpenOrIncrease(owner, token, wei(150), wei(100), usdQuote(wei(1))); err != nil {
				t.Errorf("concurrent open: %v", err)
			}
		}(owners[i])
	}
	wg.Wait()

	moduleAcc, err := ledger.GetAccount(moduleAddr)
	if err != nil {
		t.Fatalf("module account: %v", err)
	}
	if moduleAcc.BalanceCollateral.Cmp(wei(150*workers)) != 0 {
		t.Fatalf("module account lost deposits: %s", moduleAcc.BalanceCollateral)
	}

	// Every position must be able to close against the module balance.
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner common.Address) {
			defer wg.Done()
			released, err := engine.DecreaseOrClose(owner, token, wei(100))
			if err != nil {
				t.Errorf("concurrent close: %v", err)
				return
			}
			if released.Cmp(wei(150)) != 0 {
				t.Errorf("unexpected released collateral: %s", released)
			}
		}(owners[i])
	}
	wg.Wait()

	moduleAcc, _ = ledger.GetAccount(moduleAddr)
	if moduleAcc.BalanceCollateral.Sign() != 0 {
		t.Fatalf("module account not drained after closes: %s", moduleAcc.BalanceCollateral)
	}
	for _, owner := range owners {
		acc, _ := ledger.GetAccount(owner)
		if acc.BalanceCollateral.Cmp(wei(1_000)) != 0 {
			t.Fatalf("owner %s collateral mismatch: %s", owner.Hex(), acc.BalanceCollateral)
		}
	}
}
