package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	w messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}}
}

// Publish keys the message by routing key and carries the caller's trace
// context in the message headers.
func (k *Kafka) Publish(ctx context.Context, routingKey string, payload any) error {
	env, body, err := encode(routingKey, payload)
	if err != nil {
		return err
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []kafka.Header{{Key: "event-id", Value: []byte(env.ID)}}
	for _, key := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(carrier.Get(key))})
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(routingKey),
		Value:   body,
		Headers: headers,
		Time:    env.Timestamp,
	})
}

func (k *Kafka) Close() error { return k.w.Close() }
