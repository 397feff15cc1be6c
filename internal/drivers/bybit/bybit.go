// Package bybit binds the Bybit v5 spot publicTrade stream.
//
// Side table: "S" = "Buy" -> Buy, "Sell" -> Sell. Anything else is rejected.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

const (
	Name        = "bybit"
	Market      = "Bybit"
	BybitWSURL  = "wss://stream.bybit.com/v5/public/spot"
	TopicPrefix = "publicTrade."
)

type Binding struct{}

func New() *Binding {
	return &Binding{}
}

func (b *Binding) Name() string       { return Name }
func (b *Binding) DefaultURL() string { return BybitWSURL }

type subscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Subscription returns {"op":"subscribe","args":["publicTrade.BTCUSDT",...]}.
func (b *Binding) Subscription(pairs []string) (any, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("bybit: no pairs to subscribe")
	}
	args := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		args = append(args, TopicPrefix+strings.ToUpper(pair))
	}
	return subscribeMessage{Op: "subscribe", Args: args}, nil
}

// Heartbeat keeps the connection alive; Bybit drops sockets that stay
// silent for 20 seconds.
func (b *Binding) Heartbeat() any {
	return map[string]string{"op": "ping"}
}

type tradeMessage struct {
	Topic string            `json:"topic"`
	Data  []json.RawMessage `json:"data"`
}

type tradeData struct {
	Time   *int64 `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Volume string `json:"v"`
	Price  string `json:"p"`
}

func (b *Binding) Normalize(raw []byte) ([]models.Trade, error) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, venue.Wrap(Name, "malformed json", err)
	}
	if !strings.HasPrefix(msg.Topic, TopicPrefix) || len(msg.Data) == 0 {
		return nil, venue.Failf(Name, "not a trade message")
	}

	trades := make([]models.Trade, 0, len(msg.Data))
	for _, item := range msg.Data {
		trade, err := parseTrade(item)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func parseTrade(item json.RawMessage) (models.Trade, error) {
	var d tradeData
	if err := json.Unmarshal(item, &d); err != nil {
		return models.Trade{}, venue.Wrap(Name, "malformed trade", err)
	}
	if d.Time == nil {
		return models.Trade{}, venue.Failf(Name, "missing T")
	}

	base, quote, err := venue.SplitPair(Name, d.Symbol)
	if err != nil {
		return models.Trade{}, err
	}

	var side models.Side
	switch d.Side {
	case "Buy":
		side = models.SideBuy
	case "Sell":
		side = models.SideSell
	default:
		return models.Trade{}, venue.Failf(Name, "unknown side %q", d.Side)
	}

	price, err := venue.ParseAmount(Name, "price", d.Price)
	if err != nil {
		return models.Trade{}, err
	}
	qty, err := venue.ParseAmount(Name, "quantity", d.Volume)
	if err != nil {
		return models.Trade{}, err
	}

	trade := models.Trade{
		Type:            "trade",
		Exchange:        Market,
		Base:            base,
		Quote:           quote,
		Side:            side,
		Action:          models.ActionAdd,
		SequenceID:      *d.Time,
		Price:           price,
		Quantity:        qty,
		Seq:             *d.Time,
		ReportedAtNanos: venue.MillisToNanos(*d.Time),
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, venue.Wrap(Name, "invalid trade", err)
	}
	return trade, nil
}
