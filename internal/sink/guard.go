package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

// Guard skips its sink while the breaker is open.
type Guard struct {
	sink    TradeSink
	breaker *faulttolerance.CircuitBreaker
}

func NewGuard(sink TradeSink, breaker *faulttolerance.CircuitBreaker) *Guard {
	return &Guard{sink: sink, breaker: breaker}
}

func (g *Guard) Send(ctx context.Context, trade models.Trade) error {
	return g.breaker.Execute(func() error {
		return g.sink.Send(ctx, trade)
	})
}

// SendBatch counts the whole batch as one breaker call.
func (g *Guard) SendBatch(ctx context.Context, trades []models.Trade) error {
	return g.breaker.Execute(func() error {
		return sendBatch(ctx, g.sink, trades)
	})
}

func (g *Guard) Close() error {
	return g.sink.Close()
}

const (
	DefaultPumpQueue = 1024

	// DefaultPumpBatch caps how many queued trades one delivery drains.
	DefaultPumpBatch = 256
)

// Pump decouples feed delivery from broker writes. Offer never blocks;
// trades are dropped when the queue is full. Run drains whatever is queued
// and hands it to each sink as one batch, so a slow broker round trip is
// paid per batch rather than per trade.
type Pump struct {
	sinks   []TradeSink
	queue   chan models.Trade
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewPump(logger *slog.Logger, queueSize int, sinks ...TradeSink) *Pump {
	if queueSize <= 0 {
		queueSize = DefaultPumpQueue
	}
	return &Pump{
		sinks:  sinks,
		queue:  make(chan models.Trade, queueSize),
		logger: logger,
	}
}

// Offer is a feed sink callback.
func (p *Pump) Offer(trade models.Trade) {
	select {
	case p.queue <- trade:
	default:
		p.dropped.Add(1)
	}
}

func (p *Pump) Dropped() int64 {
	return p.dropped.Load()
}

// Run delivers queued trades to every sink until ctx is done, then closes
// the sinks.
func (p *Pump) Run(ctx context.Context) {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-p.queue:
			p.deliver(ctx, p.drain(trade))
		}
	}
}

// drain collects first plus whatever is already queued, up to
// DefaultPumpBatch trades.
func (p *Pump) drain(first models.Trade) []models.Trade {
	batch := []models.Trade{first}
	for len(batch) < DefaultPumpBatch {
		select {
		case trade := <-p.queue:
			batch = append(batch, trade)
		default:
			return batch
		}
	}
	return batch
}

func (p *Pump) deliver(ctx context.Context, batch []models.Trade) {
	for _, s := range p.sinks {
		err := sendBatch(ctx, s, batch)
		switch {
		case err == nil:
		case errors.Is(err, faulttolerance.ErrCircuitBreakerOpen):
			p.logger.Debug("Sink skipped, breaker open", "trades", len(batch))
		default:
			p.logger.Warn("Sink send failed", "trades", len(batch), "error", err)
		}
	}
}

func (p *Pump) close() {
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Warn("Sink close failed", "error", err)
		}
	}
}
