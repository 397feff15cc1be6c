// Package binance binds the Binance spot <symbol>@trade stream.
//
// Side table: Binance reports "m" (buyer is the maker) instead of the
// aggressor side, so m=true -> Sell and m=false -> Buy.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

const (
	Name         = "binance"
	Market       = "Binance"
	BinanceWSURL = "wss://stream.binance.com:9443/ws"
)

type Binding struct{}

func New() *Binding {
	return &Binding{}
}

func (b *Binding) Name() string       { return Name }
func (b *Binding) DefaultURL() string { return BinanceWSURL }

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (b *Binding) Subscription(pairs []string) (any, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("binance: no pairs to subscribe")
	}
	params := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		params = append(params, strings.ToLower(pair)+"@trade")
	}
	return subscribeMessage{Method: "SUBSCRIBE", Params: params, ID: 1}, nil
}

// combinedMessage wraps events on /stream endpoints.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeEvent declares both "m" and "M" because encoding/json matches keys
// case-insensitively when no exact field exists.
type tradeEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   *int64 `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime *int64 `json:"T"`
	Maker     *bool  `json:"m"`
	Ignore    bool   `json:"M"`
}

func (b *Binding) Normalize(raw []byte) ([]models.Trade, error) {
	var wrapped combinedMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, venue.Wrap(Name, "malformed json", err)
	}
	if wrapped.Stream != "" && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var ev tradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, venue.Wrap(Name, "malformed json", err)
	}
	if ev.Event != "trade" {
		return nil, venue.Failf(Name, "not a trade event")
	}
	if ev.TradeID == nil || ev.TradeTime == nil || ev.Maker == nil {
		return nil, venue.Failf(Name, "missing trade field")
	}

	base, quote, err := venue.SplitPair(Name, ev.Symbol)
	if err != nil {
		return nil, err
	}
	price, err := venue.ParseAmount(Name, "price", ev.Price)
	if err != nil {
		return nil, err
	}
	qty, err := venue.ParseAmount(Name, "quantity", ev.Quantity)
	if err != nil {
		return nil, err
	}

	side := models.SideBuy
	if *ev.Maker {
		side = models.SideSell
	}

	var delay int64
	if ev.EventTime > *ev.TradeTime {
		delay = venue.MillisToNanos(ev.EventTime - *ev.TradeTime)
	}

	trade := models.Trade{
		Type:            "trade",
		Exchange:        Market,
		Base:            base,
		Quote:           quote,
		Side:            side,
		Action:          models.ActionAdd,
		SequenceID:      *ev.TradeID,
		Price:           price,
		Quantity:        qty,
		Seq:             *ev.TradeID,
		ReportedAtNanos: venue.MillisToNanos(*ev.TradeTime),
		DelayNanos:      delay,
	}
	if err := trade.Validate(); err != nil {
		return nil, venue.Wrap(Name, "invalid trade", err)
	}
	return []models.Trade{trade}, nil
}
