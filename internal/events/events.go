// Package events notifies downstream consumers of harvest outcomes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"
)

// Type names the harvest event.
type Type string

const (
	SensorImported   Type = "sensor_imported"
	HarvestCompleted Type = "harvest_completed"
	HarvestFailed    Type = "harvest_failed"
)

// Event is published once per imported sensor and once per finished run.
type Event struct {
	Type         Type      `json:"event_type"`
	RunID        int64     `json:"run_id"`
	DatasourceID int64     `json:"datasource_id"`
	Source       string    `json:"source"`
	SensorID     string    `json:"sensor_id,omitempty"`
	ServiceID    string    `json:"service_id,omitempty"`
	Observations int       `json:"observations,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// KafkaPublisher writes events as JSON messages to a Kafka topic.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher returns a publisher producing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

// Publish writes events in a single batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := toMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "events: write %d messages to %s", len(msgs), p.writer.Topic)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// toMessage keys messages by source so a datasource's events stay ordered
// within a partition.
func toMessage(e Event) (kafkago.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, eris.Wrapf(err, "events: serialize %s", e.Type)
	}
	return kafkago.Message{
		Key:   []byte(e.Source),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "occurred_at", Value: []byte(e.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
