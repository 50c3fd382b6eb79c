package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypePositionOpened is emitted when collateral is locked and synthetic minted.
	TypePositionOpened = "collateral.position_opened"
	// TypePositionClosed is emitted when a position burns down to zero.
	TypePositionClosed = "collateral.position_closed"
	// TypePositionLiquidated is emitted when an undercollateralised position is seized.
	TypePositionLiquidated = "collateral.position_liquidated"
)

// PositionChanged captures mint/burn activity against a synthetic position.
type PositionChanged struct {
	Type            string
	Owner           common.Address
	PropertyToken   common.Address
	Collateral      *big.Int
	SyntheticMinted *big.Int
}

func (e PositionChanged) EventType() string { return e.Type }

func (e PositionChanged) Attributes() map[string]string {
	collateral := "0"
	if e.Collateral != nil {
		collateral = e.Collateral.String()
	}
	minted := "0"
	if e.SyntheticMinted != nil {
		minted = e.SyntheticMinted.String()
	}
	return map[string]string{
		"owner":         e.Owner.Hex(),
		"propertyToken": e.PropertyToken.Hex(),
		"collateral":    collateral,
		"synthetic":     minted,
	}
}

// PositionLiquidated records the financial outcome of a liquidation, including
// any shortfall the protocol absorbed.
type PositionLiquidated struct {
	Owner              common.Address
	PropertyToken      common.Address
	DebtCancelled      *big.Int
	CollateralSeized   *big.Int
	CollateralReturned *big.Int
	ShortfallUSD       *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Attributes() map[string]string {
	str := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	return map[string]string{
		"owner":              e.Owner.Hex(),
		"propertyToken":      e.PropertyToken.Hex(),
		"debtCancelled":      str(e.DebtCancelled),
		"collateralSeized":   str(e.CollateralSeized),
		"collateralReturned": str(e.CollateralReturned),
		"shortfallUsd":       str(e.ShortfallUSD),
	}
}
