// Package feed maintains the upstream exchange websocket: it dials,
// subscribes, normalizes inbound frames into trades and reconnects with
// capped exponential backoff after unintentional closes.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

// WebSocket timeouts
const (
	HandshakeTimeout     = 10 * time.Second
	WriteTimeout         = 10 * time.Second
	DefaultPingInterval  = 20 * time.Second
	DefaultReadTimeout   = 60 * time.Second
	DefaultReconnectBase = 1 * time.Second
	DefaultReconnectMax  = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification. Err is set for EventError only.
type Event struct {
	Kind EventKind
	Err  error
}

// Config holds the upstream connection settings.
type Config struct {
	URL     string
	Pairs   []string
	Headers http.Header

	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int // 0 = unbounded

	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func (c *Config) applyDefaults(b venue.Binding) {
	if c.URL == "" {
		c.URL = b.DefaultURL()
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

type Option func(*Feed)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) { f.logger = logger }
}

func WithScheduler(s Scheduler) Option {
	return func(f *Feed) { f.schedule = s }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

type sinkEntry struct {
	id int
	fn func(models.Trade)
}

type listenerEntry struct {
	id int
	fn func(Event)
}

// Feed is one upstream connection. All methods are safe for concurrent use.
type Feed struct {
	binding  venue.Binding
	config   Config
	logger   *slog.Logger
	schedule Scheduler
	dialer   *websocket.Dialer
	paused   atomic.Bool
	writeMu  sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	conn        *websocket.Conn
	cancelDial  context.CancelFunc
	cancelTimer func()
	backoff     retry.Backoff
	attempt     int
	nextID      int
	sinks       []sinkEntry
	listeners   []listenerEntry
}

func New(binding venue.Binding, config Config, opts ...Option) *Feed {
	config.applyDefaults(binding)
	f := &Feed{
		binding:  binding,
		config:   config,
		logger:   slog.Default(),
		schedule: afterFunc,
		dialer:   &websocket.Dialer{HandshakeTimeout: HandshakeTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("venue", binding.Name())
	f.backoff = f.newBackoff()
	return f
}

func (f *Feed) newBackoff() retry.Backoff {
	return newBackoff(f.config.ReconnectBase, f.config.ReconnectMax, f.config.MaxReconnectAttempts)
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Attempt is the number of reconnects scheduled since the last open.
func (f *Feed) Attempt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempt
}

func (f *Feed) Venue() string {
	return f.binding.Name()
}

// AddSink registers fn for every normalized trade, in wire order.
func (f *Feed) AddSink(fn func(models.Trade)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.sinks = append(f.sinks, sinkEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.sinks {
				if s.id == id {
					f.sinks = append(f.sinks[:i:i], f.sinks[i+1:]...)
					return
				}
			}
		})
	}
}

// OnEvent registers fn for lifecycle events.
func (f *Feed) OnEvent(fn func(Event)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, l := range f.listeners {
				if l.id == id {
					f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Pause stops forwarding to sinks. Frames are still read and normalized.
func (f *Feed) Pause()         { f.paused.Store(true) }
func (f *Feed) Resume()        { f.paused.Store(false) }
func (f *Feed) IsPaused() bool { return f.paused.Load() }

// Connect starts dialing without blocking. It is a no-op while connecting
// or open; while a reconnect is pending it dials immediately.
func (f *Feed) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateConnecting, StateOpen:
		return
	case StateReconnecting:
		f.stopTimerLocked()
	}
	f.attempt = 0
	f.backoff = f.newBackoff()
	f.dialLocked()
}

// Disconnect closes the upstream on purpose and suppresses reconnects.
func (f *Feed) Disconnect() {
	f.mu.Lock()
	prev := f.state
	f.gen++
	f.stopTimerLocked()
	if f.cancelDial != nil {
		f.cancelDial()
		f.cancelDial = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = StateClosed
	f.mu.Unlock()

	if conn != nil {
		f.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		f.writeMu.Unlock()
		conn.Close()
	}

	if prev == StateConnecting || prev == StateOpen || prev == StateReconnecting {
		f.logger.Info("Upstream disconnected", "url", f.config.URL)
		f.emit(Event{Kind: EventDisconnected})
	}
}

func (f *Feed) stopTimerLocked() {
	if f.cancelTimer != nil {
		f.cancelTimer()
		f.cancelTimer = nil
	}
}

func (f *Feed) dialLocked() {
	f.gen++
	gen := f.gen
	ctx, cancel := context.WithCancel(context.Background())
	f.cancelDial = cancel
	f.state = StateConnecting
	go f.run(ctx, gen)
}

func (f *Feed) run(ctx context.Context, gen uint64) {
	conn, _, err := f.dialer.DialContext(ctx, f.config.URL, f.config.Headers)
	if err != nil {
		f.handleClose(gen, &TransportError{Op: "dial", URL: f.config.URL, Err: err})
		return
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.conn = conn
	f.state = StateOpen
	f.attempt = 0
	f.backoff = f.newBackoff()
	f.mu.Unlock()

	if err := f.subscribe(conn); err != nil {
		conn.Close()
		f.handleClose(gen, &TransportError{Op: "subscribe", URL: f.config.URL, Err: err})
		return
	}

	f.logger.Info("Upstream connected", "url", f.config.URL, "pairs", len(f.config.Pairs))
	f.emit(Event{Kind: EventConnected})

	err = f.readLoop(conn)
	conn.Close()
	f.handleClose(gen, &TransportError{Op: "read", URL: f.config.URL, Err: err})
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	msg, err := f.binding.Subscription(f.config.Pairs)
	if err != nil || msg == nil {
		return err
	}
	return f.writeJSON(conn, msg)
}

// readLoop blocks until the connection fails or is closed.
func (f *Feed) readLoop(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	})

	go f.heartbeat(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		trades, err := f.binding.Normalize(raw)
		if err != nil {
			f.logger.Debug("Dropped upstream message", "error", err)
			continue
		}
		if f.paused.Load() {
			continue
		}

		f.mu.Lock()
		sinks := make([]sinkEntry, len(f.sinks))
		copy(sinks, f.sinks)
		f.mu.Unlock()

		for _, trade := range trades {
			for _, s := range sinks {
				s.fn(trade)
			}
		}
	}
}

func (f *Feed) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	hb, appLevel := f.binding.(venue.Heartbeater)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var err error
			if appLevel {
				err = f.writeJSON(conn, hb.Heartbeat())
			} else {
				f.writeMu.Lock()
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout))
				f.writeMu.Unlock()
			}
			if err != nil {
				f.logger.Warn("Heartbeat failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (f *Feed) writeJSON(conn *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return conn.WriteJSON(v)
}

// handleClose moves to Closed and schedules a reconnect unless the close
// was intentional. Closes from a superseded generation are ignored.
func (f *Feed) handleClose(gen uint64, cause error) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.conn = nil
	if f.cancelDial != nil {
		f.cancelDial()
		f.cancelDial = nil
	}
	f.state = StateClosed

	events := []Event{{Kind: EventError, Err: cause}, {Kind: EventDisconnected}}

	delay, stop := f.backoff.Next()
	if stop {
		attempts := f.attempt
		f.mu.Unlock()

		f.logger.Error("Upstream reconnect exhausted", "error", cause, "attempts", attempts)
		events = append(events, Event{Kind: EventError, Err: ErrReconnectExhausted})
		f.emit(events...)
		return
	}

	f.attempt++
	attempt := f.attempt
	f.state = StateReconnecting
	f.cancelTimer = f.schedule(delay, func() { f.fireReconnect(gen) })
	f.mu.Unlock()

	f.logger.Warn("Upstream disconnected, reconnecting",
		"error", cause,
		"delay", delay,
		"attempt", attempt,
	)
	f.emit(events...)
}

func (f *Feed) fireReconnect(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.state != StateReconnecting {
		return
	}
	f.cancelTimer = nil
	f.dialLocked()
}

func (f *Feed) emit(events ...Event) {
	f.mu.Lock()
	listeners := make([]listenerEntry, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l.fn(ev)
		}
	}
}
