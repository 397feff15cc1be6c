package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

const DefaultSubjectPrefix = "trades"

type subjectPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes canonical trades on "<prefix>.<m>.<fsym>".
// NATS core is fire-and-forget, so Send only reports local failures.
type NATSPublisher struct {
	conn   subjectPublisher
	closer func()
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	p := newNATSPublisher(conn, prefix)
	p.closer = conn.Close
	return p
}

func newNATSPublisher(conn subjectPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, closer: func() {}}
}

// Subject returns the lower-cased subject for trade.
func (p *NATSPublisher) Subject(trade models.Trade) string {
	return strings.ToLower(fmt.Sprintf("%s.%s.%s", p.prefix, trade.Exchange, trade.Base))
}

func (p *NATSPublisher) Send(_ context.Context, trade models.Trade) error {
	data, err := encodeTrade(trade)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(trade), data); err != nil {
		return fmt.Errorf("nats publish failed: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.closer()
	return nil
}

// DialNATS connects to url, retrying the initial connect through retryer.
// Once connected the client reconnects on its own.
func DialNATS(ctx context.Context, url string, retryer *faulttolerance.Retryer, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("tickrelay"),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.FlusherTimeout(5 * time.Second),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected, attempting reconnect", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	var conn *nats.Conn
	err := retryer.Execute(ctx, func(ctx context.Context) error {
		var err error
		conn, err = nats.Connect(url, opts...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return conn, nil
}
