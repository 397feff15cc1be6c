package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

const (
	DefaultAlertExchange = "crypto_alerts"
	ExchangeType         = "topic"
)

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes triggered alerts to a topic exchange with routing
// key "alert.<symbol>.<condition>".
type AMQPNotifier struct {
	ch       channelPublisher
	exchange string
	closer   func() error
}

var _ alerts.Notifier = (*AMQPNotifier)(nil)

func NewAMQPNotifier(conn *amqp.Connection, ch *amqp.Channel, exchange string) *AMQPNotifier {
	n := newAMQPNotifier(ch, exchange)
	n.closer = func() error {
		ch.Close()
		return conn.Close()
	}
	return n
}

func newAMQPNotifier(ch channelPublisher, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultAlertExchange
	}
	return &AMQPNotifier{ch: ch, exchange: exchange, closer: func() error { return nil }}
}

// RoutingKey returns e.g. "alert.btcusdt.price_above".
func RoutingKey(n alerts.Notification) string {
	symbol := strings.ToLower(n.Alert.Trade.Base + n.Alert.Trade.Quote)
	return fmt.Sprintf("alert.%s.%s", symbol, n.Alert.Condition)
}

func (a *AMQPNotifier) Notify(ctx context.Context, n alerts.Notification) error {
	body, err := json.Marshal(n.Alert)
	if err != nil {
		return fmt.Errorf("could not marshal alert: %w", err)
	}

	err = a.ch.PublishWithContext(ctx,
		a.exchange,
		RoutingKey(n),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   n.Alert.ID,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish failed: %w", err)
	}
	return nil
}

func (a *AMQPNotifier) Close() error {
	return a.closer()
}

// SetupAMQP dials url through retryer, opens a channel and declares the
// durable topic exchange.
func SetupAMQP(ctx context.Context, url, exchange string, retryer *faulttolerance.Retryer, logger *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if exchange == "" {
		exchange = DefaultAlertExchange
	}

	var conn *amqp.Connection
	err := retryer.Execute(ctx, func(context.Context) error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	logger.Info("Connected to RabbitMQ", "exchange", exchange)
	return conn, ch, nil
}
