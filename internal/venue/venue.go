// Package venue defines the exchange binding contract and the normalizer
// that turns venue wire messages into canonical trades.
package venue

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/navid-fn/tickrelay/internal/models"
)

// Binding maps one exchange's wire protocol onto the canonical Trade.
type Binding interface {
	// Name is the registry key, lower case (e.g. "bybit").
	Name() string

	// DefaultURL is the public websocket endpoint.
	DefaultURL() string

	// Subscription builds the handshake sent once after the socket opens.
	// A nil message means the venue needs no handshake.
	Subscription(pairs []string) (any, error)

	// Normalize converts one wire message into zero or more trades.
	// Any malformed or irrelevant message returns an error wrapping
	// ErrNormalization and no trades.
	Normalize(raw []byte) ([]models.Trade, error)
}

// Heartbeater is implemented by bindings that expect an application level
// ping instead of websocket ping frames.
type Heartbeater interface {
	Heartbeat() any
}

// KeyedEndpoint is implemented by bindings that carry an API key in the
// connection URL.
type KeyedEndpoint interface {
	WithAPIKey(u *url.URL, apiKey string)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Binding{}
)

// Register adds b to the registry, replacing any binding with the same name.
func Register(b Binding) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(b.Name())] = b
}

// Lookup returns the binding registered under name.
func Lookup(name string) (Binding, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[strings.ToLower(name)]
	return b, ok
}

// Names lists registered bindings in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize runs the binding registered for exchange against raw.
func Normalize(exchange string, raw []byte) ([]models.Trade, error) {
	b, ok := Lookup(exchange)
	if !ok {
		return nil, Failf(exchange, "unknown exchange")
	}
	return b.Normalize(raw)
}

// Endpoint resolves the URL to dial for b. An empty rawURL falls back to
// the binding default; the API key is applied when b supports it.
func Endpoint(b Binding, rawURL, apiKey string) (string, error) {
	if rawURL == "" {
		rawURL = b.DefaultURL()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %s url: %w", b.Name(), err)
	}
	if keyed, ok := b.(KeyedEndpoint); ok && apiKey != "" {
		keyed.WithAPIKey(u, apiKey)
	}
	return u.String(), nil
}
