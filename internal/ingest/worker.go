// Package ingest runs the ingestion worker: a single goroutine that owns an
// upstream subscription, keeps a bounded newest-first trade buffer, feeds
// trades to the alert engine and flushes batches on a ticker.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/venue"
)

const (
	DefaultMaxItems      = 500
	DefaultFlushInterval = 2 * time.Second

	tradeQueueSize  = 4096
	statusQueueSize = 64
)

// Opener returns a connected upstream and the func that gives it back.
type Opener func(cfg feed.Config) (*feed.Feed, func())

// PrivateOpener opens a dedicated feed for binding, disconnected on release.
func PrivateOpener(binding venue.Binding, opts ...feed.Option) Opener {
	return func(cfg feed.Config) (*feed.Feed, func()) {
		f := feed.New(binding, cfg, opts...)
		f.Connect()
		return f, f.Disconnect
	}
}

// HubOpener shares the hub's feed. The config is ignored; the hub owns it.
func HubOpener(hub *feed.Hub) Opener {
	return func(feed.Config) (*feed.Feed, func()) {
		return hub.Acquire()
	}
}

// Evaluator receives every trade while the worker is not paused.
type Evaluator interface {
	Evaluate(ctx context.Context, trade models.Trade) []models.TriggeredAlert
}

type Option func(*Worker)

func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

type Worker struct {
	opener        Opener
	engine        Evaluator
	logger        *slog.Logger
	flushInterval time.Duration

	control chan Control
	status  chan Status
	trades  chan models.Trade
	events  chan feed.Event

	paused  atomic.Bool
	dropped atomic.Uint64

	latestMu sync.RWMutex
	latest   []models.Trade

	// owned by the run goroutine
	connected bool
	upstream  *feed.Feed
	release   func()
	detach    []func()
	buf       []models.Trade
	dirty     bool
	maxItems  int
}

func NewWorker(opener Opener, engine Evaluator, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		opener:        opener,
		engine:        engine,
		logger:        logger,
		flushInterval: DefaultFlushInterval,
		control:       make(chan Control, 8),
		status:        make(chan Status, statusQueueSize),
		trades:        make(chan models.Trade, tradeQueueSize),
		events:        make(chan feed.Event, 16),
		maxItems:      DefaultMaxItems,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send queues a control message. It blocks only when eight messages are
// already pending.
func (w *Worker) Send(c Control) {
	w.control <- c
}

func (w *Worker) Connect(cfg ConnectConfig) { w.Send(Control{Kind: ControlConnect, Config: cfg}) }
func (w *Worker) Pause()                    { w.Send(Control{Kind: ControlPause}) }
func (w *Worker) Resume()                   { w.Send(Control{Kind: ControlResume}) }
func (w *Worker) Disconnect()               { w.Send(Control{Kind: ControlDisconnect}) }

// Status delivers worker status messages. Messages are dropped when the
// reader falls behind by more than the channel capacity.
func (w *Worker) Status() <-chan Status {
	return w.status
}

func (w *Worker) Paused() bool { return w.paused.Load() }

// Dropped counts trades lost because the worker queue was full.
func (w *Worker) Dropped() uint64 { return w.dropped.Load() }

// Latest returns the last flushed batch, newest first.
func (w *Worker) Latest() []models.Trade {
	w.latestMu.RLock()
	defer w.latestMu.RUnlock()
	out := make([]models.Trade, len(w.latest))
	copy(out, w.latest)
	return out
}

// Run processes control messages, trades and upstream events until ctx is
// cancelled. The upstream is released before it returns.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer w.detachUpstream()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-w.control:
			w.handleControl(c)

		case trade := <-w.trades:
			w.handleTrade(ctx, trade)

		case ev := <-w.events:
			w.handleEvent(ev)

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Worker) handleControl(c Control) {
	switch c.Kind {
	case ControlConnect:
		w.detachUpstream()
		if c.Config.MaxItems > 0 {
			w.maxItems = c.Config.MaxItems
		}
		if len(w.buf) > w.maxItems {
			w.buf = w.buf[:w.maxItems]
		}
		w.attachUpstream(c.Config.Feed)
		w.logger.Info("Ingest worker connected", "venue", w.upstream.Venue(), "max_items", w.maxItems)
	case ControlPause:
		w.paused.Store(true)
		w.logger.Info("Ingest worker paused")
	case ControlResume:
		w.paused.Store(false)
		w.logger.Info("Ingest worker resumed")
	case ControlDisconnect:
		if w.upstream != nil {
			w.detachUpstream()
			w.setConnected(false)
			w.logger.Info("Ingest worker disconnected")
		}
	}
}

func (w *Worker) attachUpstream(cfg feed.Config) {
	f, release := w.opener(cfg)
	w.upstream = f
	w.release = release

	w.detach = append(w.detach,
		f.OnEvent(func(ev feed.Event) {
			select {
			case w.events <- ev:
			default:
			}
		}),
		f.AddSink(func(trade models.Trade) {
			select {
			case w.trades <- trade:
			default:
				w.dropped.Add(1)
			}
		}),
	)

	// a shared feed may already be open and will not announce it again
	if f.State() == feed.StateOpen {
		w.setConnected(true)
	}
}

func (w *Worker) detachUpstream() {
	for _, fn := range w.detach {
		fn()
	}
	w.detach = nil
	if w.release != nil {
		w.release()
		w.release = nil
	}
	w.upstream = nil
}

func (w *Worker) handleTrade(ctx context.Context, trade models.Trade) {
	if w.paused.Load() {
		return
	}

	w.buf = append(w.buf, models.Trade{})
	copy(w.buf[1:], w.buf)
	w.buf[0] = trade
	if len(w.buf) > w.maxItems {
		w.buf = w.buf[:w.maxItems]
	}
	w.dirty = true

	if w.engine != nil {
		w.engine.Evaluate(ctx, trade)
	}
}

func (w *Worker) handleEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.EventConnected:
		w.setConnected(true)
	case feed.EventDisconnected:
		w.setConnected(false)
	case feed.EventError:
		reason := "upstream error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		w.emit(Status{Kind: StatusError, Reason: reason})
	}
}

// setConnected emits a status only on transitions.
func (w *Worker) setConnected(up bool) {
	if w.connected == up {
		return
	}
	w.connected = up
	if up {
		w.emit(Status{Kind: StatusConnected})
	} else {
		w.emit(Status{Kind: StatusDisconnected})
	}
}

// flush publishes a copy of the buffer when it changed since the last flush.
func (w *Worker) flush() {
	if !w.dirty {
		return
	}
	w.dirty = false

	batch := make([]models.Trade, len(w.buf))
	copy(batch, w.buf)

	w.latestMu.Lock()
	w.latest = batch
	w.latestMu.Unlock()

	w.emit(Status{Kind: StatusNewMessage, Trades: batch})
}

func (w *Worker) emit(s Status) {
	select {
	case w.status <- s:
	default:
		w.logger.Debug("Status dropped, reader is behind", "kind", s.Kind)
	}
}
