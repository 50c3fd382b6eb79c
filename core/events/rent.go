package events

import (
	"math/big"
	"strconv"
)

const (
	// TypeRentProcessed is emitted when a rent period record is stored.
	TypeRentProcessed = "rent.processed"
)

// RentProcessed summarises the outcome of one rent aggregation cycle.
type RentProcessed struct {
	PropertyID string
	PeriodKey  string
	NetRent    *big.Int
	Degraded   bool
}

func (RentProcessed) EventType() string { return TypeRentProcessed }

func (e RentProcessed) Attributes() map[string]string {
	net := "0"
	if e.NetRent != nil {
		net = e.NetRent.String()
	}
	return map[string]string{
		"propertyId": e.PropertyID,
		"periodKey":  e.PeriodKey,
		"netRent":    net,
		"degraded":   strconv.FormatBool(e.Degraded),
	}
}
