// Package sink forwards canonical trades and triggered alerts to message
// brokers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/navid-fn/tickrelay/internal/models"
)

// TradeSink publishes one canonical trade.
type TradeSink interface {
	Send(ctx context.Context, trade models.Trade) error
	Close() error
}

// BatchSink publishes several trades in one broker round trip. Sinks that
// do not implement it receive a batch one Send at a time.
type BatchSink interface {
	SendBatch(ctx context.Context, trades []models.Trade) error
}

// sendBatch delivers trades to s, stopping at the first error.
func sendBatch(ctx context.Context, s TradeSink, trades []models.Trade) error {
	if bs, ok := s.(BatchSink); ok {
		return bs.SendBatch(ctx, trades)
	}
	for _, trade := range trades {
		if err := s.Send(ctx, trade); err != nil {
			return err
		}
	}
	return nil
}

func encodeTrade(trade models.Trade) ([]byte, error) {
	data, err := json.Marshal(trade)
	if err != nil {
		return nil, fmt.Errorf("marshal trade: %w", err)
	}
	return data, nil
}
