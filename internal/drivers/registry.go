// Package drivers registers every exchange binding with the venue registry.
package drivers

import (
	"github.com/navid-fn/tickrelay/internal/drivers/binance"
	"github.com/navid-fn/tickrelay/internal/drivers/bybit"
	"github.com/navid-fn/tickrelay/internal/drivers/cryptocompare"
	"github.com/navid-fn/tickrelay/internal/drivers/relay"
	"github.com/navid-fn/tickrelay/internal/venue"
)

// RegisterAll makes the built-in bindings available through venue.Lookup.
func RegisterAll() {
	venue.Register(bybit.New())
	venue.Register(binance.New())
	venue.Register(cryptocompare.New())
	venue.Register(relay.New())
}
