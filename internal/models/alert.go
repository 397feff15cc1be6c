package models

import "fmt"

// Condition selects the compared trade value and the comparison direction.
type Condition string

const (
	PriceAbove    Condition = "price_above"
	PriceBelow    Condition = "price_below"
	QuantityAbove Condition = "quantity_above"
	QuantityBelow Condition = "quantity_below"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case PriceAbove, PriceBelow, QuantityAbove, QuantityBelow:
		return true
	}
	return false
}

// OnPrice reports whether the condition compares the trade price.
func (c Condition) OnPrice() bool {
	return c == PriceAbove || c == PriceBelow
}

// Above reports whether the condition triggers on values above the threshold.
func (c Condition) Above() bool {
	return c == PriceAbove || c == QuantityAbove
}

// SideFilter restricts a rule to one trade side.
type SideFilter string

const (
	FilterAll  SideFilter = "all"
	FilterBuy  SideFilter = "buy"
	FilterSell SideFilter = "sell"
)

// Valid reports whether f is a known filter.
func (f SideFilter) Valid() bool {
	return f == FilterAll || f == FilterBuy || f == FilterSell
}

// Matches reports whether a trade on side s passes the filter.
func (f SideFilter) Matches(s Side) bool {
	switch f {
	case FilterAll:
		return true
	case FilterBuy:
		return s == SideBuy
	case FilterSell:
		return s == SideSell
	}
	return false
}

// RuleSpec is the caller-supplied part of an alert rule.
type RuleSpec struct {
	Label     string     `json:"label"`
	Symbol    string     `json:"symbol"`
	Condition Condition  `json:"condition"`
	Threshold float64    `json:"threshold"`
	Side      SideFilter `json:"side"`
	Active    bool       `json:"active"`
}

// Validate checks structural completeness only. Threshold positivity is
// the caller's concern.
func (s RuleSpec) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !s.Condition.Valid() {
		return fmt.Errorf("unknown condition %q", s.Condition)
	}
	if !s.Side.Valid() {
		return fmt.Errorf("unknown side %q", s.Side)
	}
	return nil
}

// AlertRule is a stored user rule. ID and CreatedAt are assigned by the
// alert engine and never supplied by callers.
type AlertRule struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Symbol    string     `json:"symbol"`
	Condition Condition  `json:"condition"`
	Threshold float64    `json:"threshold"`
	Side      SideFilter `json:"side"`
	Active    bool       `json:"active"`

	// CreatedAt is in unix milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// TriggeredAlert records a rule match. Rule fields are snapshots taken at
// trigger time.
type TriggeredAlert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"ruleId"`
	RuleLabel   string    `json:"ruleLabel"`
	Condition   Condition `json:"condition"`
	Threshold   float64   `json:"threshold"`
	Trade       Trade     `json:"transaction"`
	TriggeredAt int64     `json:"triggeredAt"`
}

// Value returns the trade value the alert's condition compared.
func (a TriggeredAlert) Value() float64 {
	if a.Condition.OnPrice() {
		return a.Trade.Price
	}
	return a.Trade.Quantity
}
