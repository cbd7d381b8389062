package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/form8k-radar/internal/models"
)

// Notifier announces entries that were just committed to the ledger.
type Notifier interface {
	Publish(ctx context.Context, entries []models.LedgerEntry) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes one JSON message per entry, keyed by accession ID so
// every event for a filing lands on the same partition.
type KafkaNotifier struct {
	w       messageWriter
	timeout time.Duration
}

// NewKafkaNotifier builds a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: timeout,
	}
	return &KafkaNotifier{w: w, timeout: timeout}
}

// Publish sends all entries in one batch.
func (n *KafkaNotifier) Publish(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.AccessionID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.AccessionID),
			Value: payload,
			Time:  e.DiscoveredAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// Discard drops every notification; used when no brokers are configured.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, []models.LedgerEntry) error { return nil }
