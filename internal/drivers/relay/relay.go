// Package relay binds another tickrelay instance. The wire format is the
// canonical Trade JSON, one trade per frame, with no handshake.
package relay

import (
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

const (
	Name     = "relay"
	RelayURL = "ws://localhost:4000/ws"
)

type Binding struct{}

func New() *Binding {
	return &Binding{}
}

func (b *Binding) Name() string       { return Name }
func (b *Binding) DefaultURL() string { return RelayURL }

// Subscription returns nil; the relay streams every pair on accept.
func (b *Binding) Subscription([]string) (any, error) {
	return nil, nil
}

func (b *Binding) Normalize(raw []byte) ([]models.Trade, error) {
	trade, err := venue.DecodeCanonical(Name, raw)
	if err != nil {
		return nil, err
	}
	return []models.Trade{trade}, nil
}
