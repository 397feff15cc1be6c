package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/navid-fn/tickrelay/internal/models"
)

const (
	DefaultKafkaTopic = "relay_trades"
	kafkaWriteTimeout = 5 * time.Second

	// A synchronous write waits up to kafkaBatchTimeout for a partial batch
	// to fill, so it stays small; the pump already batches.
	kafkaBatchTimeout = 5 * time.Millisecond
)

// messageWriter is the subset of *kafka.Writer the sender needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender writes canonical trades to a topic keyed by "<M>:<FSYM>", so
// one venue/asset stream always lands on the same partition.
type KafkaSender struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaWriter returns a hash-balanced writer for broker/topic.
func NewKafkaWriter(broker, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              DefaultPumpBatch,
		BatchTimeout:           kafkaBatchTimeout,
	}
}

func NewKafkaSender(writer messageWriter, logger *slog.Logger) *KafkaSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSender{writer: writer, logger: logger}
}

// KafkaKey returns the partition key for trade.
func KafkaKey(trade models.Trade) string {
	return trade.Exchange + ":" + trade.Base
}

func (s *KafkaSender) Send(ctx context.Context, trade models.Trade) error {
	return s.SendBatch(ctx, []models.Trade{trade})
}

// SendBatch writes all trades with one WriteMessages call.
func (s *KafkaSender) SendBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, trade := range trades {
		data, err := encodeTrade(trade)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(KafkaKey(trade)),
			Value: data,
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	if err := s.writer.WriteMessages(writeCtx, msgs...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	s.logger.Info("Closing kafka writer")
	return s.writer.Close()
}
