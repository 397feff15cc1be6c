// Package cryptocompare binds the CryptoCompare streamer. Trade messages
// already carry the canonical field set.
//
// Side table: SIDE 1 -> Buy, 2 -> Sell. Anything else is rejected.
package cryptocompare

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

const (
	Name         = "cryptocompare"
	StreamerURL  = "wss://streamer.cryptocompare.com/v2"
	DefaultVenue = "Binance"

	// trade subscription channel
	tradeChannel = 8

	// typeTrade is the only TYPE normalized; welcome, heartbeat,
	// subscription acks and error codes all fail closed.
	typeTrade = "0"
)

type Binding struct {
	exchange string
}

type Option func(*Binding)

// WithExchange selects the exchange whose trades are subscribed.
func WithExchange(exchange string) Option {
	return func(b *Binding) {
		if exchange != "" {
			b.exchange = exchange
		}
	}
}

func New(opts ...Option) *Binding {
	b := &Binding{exchange: DefaultVenue}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Binding) Name() string       { return Name }
func (b *Binding) DefaultURL() string { return StreamerURL }

func (b *Binding) WithAPIKey(u *url.URL, apiKey string) {
	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()
}

type subscribeMessage struct {
	Action string   `json:"action"`
	Subs   []string `json:"subs"`
}

// Subscription returns {"action":"SubAdd","subs":["8~Binance~BTC~USDT",...]}.
func (b *Binding) Subscription(pairs []string) (any, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("cryptocompare: no pairs to subscribe")
	}
	subs := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		base, quote, err := venue.SplitPair(Name, pair)
		if err != nil {
			return nil, fmt.Errorf("cryptocompare: %w", err)
		}
		subs = append(subs, fmt.Sprintf("%d~%s~%s~%s", tradeChannel, b.exchange, base, quote))
	}
	return subscribeMessage{Action: "SubAdd", Subs: subs}, nil
}

type envelope struct {
	Type    string `json:"TYPE"`
	Message string `json:"MESSAGE"`
}

func (b *Binding) Normalize(raw []byte) ([]models.Trade, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, venue.Wrap(Name, "malformed json", err)
	}
	if env.Type != typeTrade {
		return nil, venue.Failf(Name, "non-trade message %s %s", env.Type, env.Message)
	}

	trade, err := venue.DecodeCanonical(Name, raw)
	if err != nil {
		return nil, err
	}
	return []models.Trade{trade}, nil
}
