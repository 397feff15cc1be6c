// Package models defines the domain models shared across the relay.
package models

import (
	"fmt"
	"math"
	"strconv"
)

// Side is the aggressor side of a trade.
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Action is the venue event kind. Values outside the known set are kept
// as-is so downstream consumers can still display them.
type Action int

const (
	ActionAdd    Action = 1
	ActionUpdate Action = 2
	ActionRemove Action = 4
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "Add"
	case ActionUpdate:
		return "Update"
	case ActionRemove:
		return "Remove"
	default:
		return strconv.Itoa(int(a))
	}
}

// Trade is the canonical trade record relayed to downstream clients.
// The JSON field names are a compatibility contract and must not change.
type Trade struct {
	// Type is the record kind reported by the binding (e.g. "trade").
	Type string `json:"TYPE"`

	// Exchange is the venue identifier (e.g. "Bybit").
	Exchange string `json:"M"`

	// Base is the traded asset (e.g. "BTC").
	Base string `json:"FSYM"`

	// Quote is the pricing asset (e.g. "USDT").
	Quote string `json:"TSYM"`

	// Side is 1 for Buy and 2 for Sell.
	Side Side `json:"SIDE"`

	// Action is the venue event kind.
	Action Action `json:"ACTION"`

	// SequenceID is monotonically non-decreasing per venue stream and is
	// used for de-duplication only.
	SequenceID int64 `json:"CCSEQ"`

	// Price in quote currency.
	Price float64 `json:"P"`

	// Quantity of base currency.
	Quantity float64 `json:"Q"`

	// Seq is the venue sequence number.
	Seq int64 `json:"SEQ"`

	// ReportedAtNanos is the venue event time in unix nanoseconds.
	ReportedAtNanos int64 `json:"REPORTEDNS"`

	// DelayNanos is the venue-reported delay between event and publication.
	DelayNanos int64 `json:"DELAYNS"`
}

// Validate returns an error when t is not a fully formed trade.
func (t Trade) Validate() error {
	if t.Exchange == "" {
		return fmt.Errorf("missing exchange")
	}
	if t.Base == "" || t.Quote == "" {
		return fmt.Errorf("missing symbol")
	}
	if !t.Side.Valid() {
		return fmt.Errorf("invalid side %d", t.Side)
	}
	if !finiteNonNegative(t.Price) {
		return fmt.Errorf("invalid price %v", t.Price)
	}
	if !finiteNonNegative(t.Quantity) {
		return fmt.Errorf("invalid quantity %v", t.Quantity)
	}
	return nil
}

// Pair returns "BASE/QUOTE".
func (t Trade) Pair() string {
	return t.Base + "/" + t.Quote
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
