// Package kafka publishes classified change records to a Kafka topic for
// downstream consumers. The sink is optional; the monitor runs without it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

// Publisher produces change records to the configured topic.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the change-feed topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishChanges serializes and publishes the classified records that carry
// a change annotation, keyed by incident id so per-incident ordering holds
// within a partition. Records classified as no-change are skipped.
func (p *Publisher) PublishChanges(ctx context.Context, statuses []domain.EmergencyStatus) error {
	msgs := make([]kafkago.Message, 0, len(statuses))
	for i := range statuses {
		if statuses[i].Change == domain.ChangeNone {
			continue
		}
		msg, err := serializeToMessage(statuses[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an EmergencyStatus into a Kafka message.
func serializeToMessage(status domain.EmergencyStatus) (kafkago.Message, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(domain.IncidentKey(status.IncidentID)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "change", Value: []byte(status.Change)},
			{Key: "update_time", Value: []byte(status.UpdateTime.Format(time.RFC3339))},
		},
	}, nil
}
