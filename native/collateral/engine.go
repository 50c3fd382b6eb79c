package collateral

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drems/core/events"
	"drems/native/pricefeed"
)

var (
	// ErrInsufficientCollateral is returned when a mint would leave the position
	// below the minimum health factor.
	ErrInsufficientCollateral = errors.New("collateral engine: insufficient collateral for requested mint")
	// ErrInvalidBurnAmount is returned for non-positive or oversized burns.
	ErrInvalidBurnAmount = errors.New("collateral engine: invalid burn amount")

	errNilState            = errors.New("collateral engine: ledger not configured")
	errInvalidAmount       = errors.New("collateral engine: amount must be positive")
	errInsufficientBalance = errors.New("collateral engine: insufficient balance")
	errInvalidQuote        = errors.New("collateral engine: price quote unusable")
	errNoSyntheticDebt     = errors.New("collateral engine: position has no synthetic debt")
	errNotLiquidatable     = errors.New("collateral engine: position health factor at or above 1")
	errPositionLiquidated  = errors.New("collateral engine: position already liquidated")
)

var (
	basisPoints = big.NewInt(10_000)
	wad         = big.NewInt(1_000_000_000_000_000_000)
)

// Ledger abstracts the balance and position store the engine mutates. All
// read-modify-write cycles, per position and across the shared accounts, are
// serialised by the engine, so implementations only need per-call consistency.
type Ledger interface {
	GetPosition(owner, propertyToken common.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAccount(addr common.Address) (*Account, error)
	PutAccount(account *Account) error
}

// Engine owns collateral deposits, synthetic mint/burn and liquidation
// decisions for all positions.
type Engine struct {
	state         Ledger
	moduleAddress common.Address
	params        RiskParameters
	emitter       events.Emitter
	now           func() time.Time

	priceMu         sync.RWMutex
	syntheticPrices map[common.Address]*big.Int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	accountMu sync.Mutex

	shortfallMu  sync.Mutex
	shortfallUSD *big.Int
}

// NewEngine constructs a collateral engine holding locked collateral in the
// provided module account.
func NewEngine(moduleAddr common.Address, params RiskParameters) *Engine {
	return &Engine{
		moduleAddress:   moduleAddr,
		params:          params.Normalise(),
		emitter:         events.NoopEmitter{},
		now:             time.Now,
		syntheticPrices: make(map[common.Address]*big.Int),
		locks:           make(map[string]*sync.Mutex),
		shortfallUSD:    big.NewInt(0),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state Ledger) { e.state = state }

// SetEmitter installs the event sink notified on position changes.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the wall-clock source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// SetSyntheticUnitPrice records the USD value (1e18 scaled) of one unit of the
// property token's synthetic supply. Non-positive values are ignored.
func (e *Engine) SetSyntheticUnitPrice(propertyToken common.Address, usdValue *big.Int) {
	if e == nil || usdValue == nil || usdValue.Sign() <= 0 {
		return
	}
	e.priceMu.Lock()
	e.syntheticPrices[propertyToken] = new(big.Int).Set(usdValue)
	e.priceMu.Unlock()
}

func (e *Engine) syntheticUnitPrice(propertyToken common.Address) *big.Int {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()
	if price, ok := e.syntheticPrices[propertyToken]; ok {
		return new(big.Int).Set(price)
	}
	return new(big.Int).Set(wad)
}

// positionLock returns the mutex serialising operations for one position key.
func (e *Engine) positionLock(owner, propertyToken common.Address) *sync.Mutex {
	key := owner.Hex() + "/" + propertyToken.Hex()
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	if lock, ok := e.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[key] = lock
	return lock
}

// OpenOrIncrease locks collateralDeposit and mints mintAmount synthetic against
// the (owner, propertyToken) position, creating it on first use. The resulting
// health factor must be at least the configured minimum or the whole operation
// fails with ErrInsufficientCollateral and no state changes.
func (e *Engine) OpenOrIncrease(owner, propertyToken common.Address, collateralDeposit, mintAmount *big.Int, quote pricefeed.PriceQuote) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if collateralDeposit == nil || collateralDeposit.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if mintAmount == nil || mintAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := validateQuote(quote); err != nil {
		return nil, err
	}

	lock := e.positionLock(owner, propertyToken)
	lock.Lock()
	defer lock.Unlock()

	position, err := e.ensurePosition(owner, propertyToken)
	if err != nil {
		return nil, err
	}
	if position.State == StateLiquidated {
		// A liquidated instance is terminal; reopening starts from scratch.
		position = &Position{Owner: owner, PropertyToken: propertyToken, Collateral: big.NewInt(0), SyntheticMinted: big.NewInt(0)}
	}

	projectedCollateral := new(big.Int).Add(position.Collateral, collateralDeposit)
	projectedMinted := new(big.Int).Add(position.SyntheticMinted, mintAmount)

	hf := e.healthFactorBps(projectedCollateral, projectedMinted, quote.Value, e.syntheticUnitPrice(propertyToken))
	if hf == nil || hf.Cmp(new(big.Int).SetUint64(e.params.MinHealthFactorBps)) < 0 {
		return nil, ErrInsufficientCollateral
	}

	if err := e.lockCollateral(owner, collateralDeposit, mintAmount); err != nil {
		return nil, err
	}

	opened := position.State == StateEmpty
	position.Collateral = projectedCollateral
	position.SyntheticMinted = projectedMinted
	position.State = StateOpen
	if opened {
		position.OpenedAt = e.now().Unix()
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	if opened {
		e.emitter.Emit(events.PositionChanged{
			Type:            events.TypePositionOpened,
			Owner:           owner,
			PropertyToken:   propertyToken,
			Collateral:      position.Collateral,
			SyntheticMinted: position.SyntheticMinted,
		})
	}
	return position.Clone(), nil
}

// DecreaseOrClose burns burnAmount synthetic and returns the proportional share
// of locked collateral to the owner. Burning the full minted amount closes the
// position. The released collateral amount is returned.
func (e *Engine) DecreaseOrClose(owner, propertyToken common.Address, burnAmount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if burnAmount == nil || burnAmount.Sign() <= 0 {
		return nil, ErrInvalidBurnAmount
	}

	lock := e.positionLock(owner, propertyToken)
	lock.Lock()
	defer lock.Unlock()

	position, err := e.ensurePosition(owner, propertyToken)
	if err != nil {
		return nil, err
	}
	if position.State == StateLiquidated {
		return nil, errPositionLiquidated
	}
	if position.SyntheticMinted.Sign() == 0 || burnAmount.Cmp(position.SyntheticMinted) > 0 {
		return nil, ErrInvalidBurnAmount
	}

	fullClose := burnAmount.Cmp(position.SyntheticMinted) == 0
	var released *big.Int
	if fullClose {
		released = new(big.Int).Set(position.Collateral)
	} else {
		released = new(big.Int).Mul(position.Collateral, burnAmount)
		released = released.Quo(released, position.SyntheticMinted)
	}

	if err := e.releaseCollateral(owner, burnAmount, released); err != nil {
		return nil, err
	}

	position.SyntheticMinted = new(big.Int).Sub(position.SyntheticMinted, burnAmount)
	position.Collateral = new(big.Int).Sub(position.Collateral, released)
	if fullClose {
		position.Collateral = big.NewInt(0)
		position.SyntheticMinted = big.NewInt(0)
		position.State = StateEmpty
		position.OpenedAt = 0
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	if fullClose {
		e.emitter.Emit(events.PositionChanged{
			Type:          events.TypePositionClosed,
			Owner:         owner,
			PropertyToken: propertyToken,
		})
	}
	return released, nil
}

// HealthFactorBps computes the position's health factor in basis points.
// 10000 corresponds to 1.0; positions below that are liquidatable. The result
// is deterministic for identical inputs.
func (e *Engine) HealthFactorBps(position *Position, quote pricefeed.PriceQuote) (*big.Int, error) {
	if e == nil || position == nil {
		return nil, errNilState
	}
	if err := validateQuote(quote); err != nil {
		return nil, err
	}
	hf := e.healthFactorBps(position.Collateral, position.SyntheticMinted, quote.Value, e.syntheticUnitPrice(position.PropertyToken))
	if hf == nil {
		return nil, errNoSyntheticDebt
	}
	return hf, nil
}

// Liquidate seizes an undercollateralised position: the synthetic debt is
// cancelled, collateral covering the debt value is retained by the module and
// any remainder is returned to the owner. A value shortfall is recorded as a
// protocol loss rather than silently hidden. Returns the seized and returned
// collateral amounts.
func (e *Engine) Liquidate(owner, propertyToken common.Address, quote pricefeed.PriceQuote) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := validateQuote(quote); err != nil {
		return nil, nil, err
	}

	lock := e.positionLock(owner, propertyToken)
	lock.Lock()
	defer lock.Unlock()

	position, err := e.ensurePosition(owner, propertyToken)
	if err != nil {
		return nil, nil, err
	}
	if position.State == StateLiquidated {
		return nil, nil, errPositionLiquidated
	}
	if position.SyntheticMinted.Sign() == 0 {
		return nil, nil, errNoSyntheticDebt
	}

	unitPrice := e.syntheticUnitPrice(propertyToken)
	hf := e.healthFactorBps(position.Collateral, position.SyntheticMinted, quote.Value, unitPrice)
	if hf == nil || hf.Cmp(basisPoints) >= 0 {
		return nil, nil, errNotLiquidatable
	}

	// Debt value in USD (1e18) and its collateral-token equivalent.
	debtUSD := new(big.Int).Mul(position.SyntheticMinted, unitPrice)
	debtUSD = debtUSD.Quo(debtUSD, wad)
	debtCollateral := new(big.Int).Mul(debtUSD, wad)
	debtCollateral = debtCollateral.Quo(debtCollateral, quote.Value)

	seized := new(big.Int).Set(debtCollateral)
	if seized.Cmp(position.Collateral) > 0 {
		seized = new(big.Int).Set(position.Collateral)
	}
	returned := new(big.Int).Sub(position.Collateral, seized)

	// Shortfall in USD when the seized collateral does not cover the debt.
	seizedUSD := new(big.Int).Mul(seized, quote.Value)
	seizedUSD = seizedUSD.Quo(seizedUSD, wad)
	shortfall := new(big.Int).Sub(debtUSD, seizedUSD)
	if shortfall.Sign() < 0 {
		shortfall = big.NewInt(0)
	}

	if returned.Sign() > 0 {
		if err := e.refundCollateral(owner, returned); err != nil {
			return nil, nil, err
		}
	}

	debtCancelled := new(big.Int).Set(position.SyntheticMinted)
	position.Collateral = big.NewInt(0)
	position.SyntheticMinted = big.NewInt(0)
	position.State = StateLiquidated
	if err := e.state.PutPosition(position); err != nil {
		return nil, nil, err
	}

	if shortfall.Sign() > 0 {
		e.shortfallMu.Lock()
		e.shortfallUSD = new(big.Int).Add(e.shortfallUSD, shortfall)
		e.shortfallMu.Unlock()
	}

	e.emitter.Emit(events.PositionLiquidated{
		Owner:              owner,
		PropertyToken:      propertyToken,
		DebtCancelled:      debtCancelled,
		CollateralSeized:   seized,
		CollateralReturned: returned,
		ShortfallUSD:       shortfall,
	})
	return seized, returned, nil
}

// Account balances are shared across positions: every position of one owner
// uses the owner account, and every operation touches the module account. All
// account read-modify-write cycles therefore go through accountMu; the
// per-position locks only order operations against one position. accountMu is
// always acquired after a position lock, never the other way round.

// lockCollateral moves collateralDeposit from the owner into the module
// account and credits the freshly minted synthetic.
func (e *Engine) lockCollateral(owner common.Address, collateralDeposit, mintAmount *big.Int) error {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	if ownerAcc.BalanceCollateral.Cmp(collateralDeposit) < 0 {
		return errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	ownerAcc.BalanceCollateral = new(big.Int).Sub(ownerAcc.BalanceCollateral, collateralDeposit)
	ownerAcc.BalanceSynthetic = new(big.Int).Add(ownerAcc.BalanceSynthetic, mintAmount)
	moduleAcc.BalanceCollateral = new(big.Int).Add(moduleAcc.BalanceCollateral, collateralDeposit)
	if err := e.state.PutAccount(ownerAcc); err != nil {
		return err
	}
	return e.state.PutAccount(moduleAcc)
}

// releaseCollateral burns burnAmount synthetic from the owner and moves
// released collateral out of the module account back to the owner.
func (e *Engine) releaseCollateral(owner common.Address, burnAmount, released *big.Int) error {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	if ownerAcc.BalanceSynthetic.Cmp(burnAmount) < 0 {
		return errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.BalanceCollateral.Cmp(released) < 0 {
		return errInsufficientBalance
	}
	ownerAcc.BalanceSynthetic = new(big.Int).Sub(ownerAcc.BalanceSynthetic, burnAmount)
	ownerAcc.BalanceCollateral = new(big.Int).Add(ownerAcc.BalanceCollateral, released)
	moduleAcc.BalanceCollateral = new(big.Int).Sub(moduleAcc.BalanceCollateral, released)
	if err := e.state.PutAccount(ownerAcc); err != nil {
		return err
	}
	return e.state.PutAccount(moduleAcc)
}

// refundCollateral returns seizure leftovers from the module account to the
// owner after a liquidation.
func (e *Engine) refundCollateral(owner common.Address, returned *big.Int) error {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.BalanceCollateral.Cmp(returned) < 0 {
		return errInsufficientBalance
	}
	moduleAcc.BalanceCollateral = new(big.Int).Sub(moduleAcc.BalanceCollateral, returned)
	ownerAcc.BalanceCollateral = new(big.Int).Add(ownerAcc.BalanceCollateral, returned)
	if err := e.state.PutAccount(moduleAcc); err != nil {
		return err
	}
	return e.state.PutAccount(ownerAcc)
}

// CreditCollateral adds bridged-in funds to the recipient's collateral
// balance. The token parameter is accepted for ledger symmetry; the engine
// tracks a single collateral asset per account.
func (e *Engine) CreditCollateral(recipient, _ common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	acc, err := e.loadAccount(recipient)
	if err != nil {
		return err
	}
	acc.BalanceCollateral = new(big.Int).Add(acc.BalanceCollateral, amount)
	return e.state.PutAccount(acc)
}

// ProtocolShortfallUSD reports the cumulative USD value (1e18) of liquidation
// losses absorbed by the protocol.
func (e *Engine) ProtocolShortfallUSD() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.shortfallMu.Lock()
	defer e.shortfallMu.Unlock()
	return new(big.Int).Set(e.shortfallUSD)
}

// Position returns a copy of the stored position, or an empty one.
func (e *Engine) Position(owner, propertyToken common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lock := e.positionLock(owner, propertyToken)
	lock.Lock()
	defer lock.Unlock()
	position, err := e.ensurePosition(owner, propertyToken)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// healthFactorBps returns nil when there is no synthetic debt. With bps
// denominators of 10000, the formula is
//
//	hf = (collateral * price / liquidationThreshold) / (minted * unitPrice)
//
// evaluated entirely in integer arithmetic to avoid rounding-induced false
// liquidations.
func (e *Engine) healthFactorBps(collateral, minted, price, unitPrice *big.Int) *big.Int {
	if minted == nil || minted.Sign() == 0 {
		return nil
	}
	if collateral == nil || collateral.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(collateral, price)
	num.Mul(num, basisPoints)
	num.Mul(num, basisPoints)
	den := new(big.Int).Mul(minted, unitPrice)
	den.Mul(den, new(big.Int).SetUint64(e.params.LiquidationThresholdBps))
	if den.Sign() == 0 {
		return big.NewInt(0)
	}
	return num.Quo(num, den)
}

func (e *Engine) ensurePosition(owner, propertyToken common.Address) (*Position, error) {
	position, err := e.state.GetPosition(owner, propertyToken)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Owner: owner, PropertyToken: propertyToken}
	}
	if position.Collateral == nil {
		position.Collateral = big.NewInt(0)
	}
	if position.SyntheticMinted == nil {
		position.SyntheticMinted = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) loadAccount(addr common.Address) (*Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Address: addr}
	}
	if acc.BalanceCollateral == nil {
		acc.BalanceCollateral = big.NewInt(0)
	}
	if acc.BalanceSynthetic == nil {
		acc.BalanceSynthetic = big.NewInt(0)
	}
	return acc, nil
}

func validateQuote(quote pricefeed.PriceQuote) error {
	if quote.Value == nil || quote.Value.Sign() <= 0 {
		return errInvalidQuote
	}
	if quote.Stale {
		return errInvalidQuote
	}
	return nil
}
