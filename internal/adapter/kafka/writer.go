package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Writer produces delivery requests to the sink topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic. Messages
// are keyed by user ID so one user's deliveries stay on one partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger.With("component", "kafka_writer", "topic", cfg.KafkaSinkTopic)}
}

// Publish writes all requests in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, requests []domain.DeliveryRequest) error {
	if len(requests) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(requests))
	for i := range requests {
		msg, err := serializeToMessage(requests[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d delivery requests: %w", len(msgs), err)
	}
	w.logger.Debug("delivery requests written", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a DeliveryRequest into a Kafka message.
func serializeToMessage(req domain.DeliveryRequest) (kafkago.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize delivery request: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(req.UserID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "delivery_id", Value: []byte(req.ID)},
			{Key: "event_id", Value: []byte(req.EventID)},
			{Key: "source", Value: []byte(req.Event.Source)},
			{Key: "created_at", Value: []byte(req.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
