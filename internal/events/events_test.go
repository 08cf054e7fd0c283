package events

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestEnvelope(t *testing.T) {
	a, err := NewEnvelope(BuyCommittedKey, BuyCommitted{BuyID: 7, TotalValue: 600})
	require.NoError(t, err)
	b, err := NewEnvelope(BuyCommittedKey, BuyCommitted{BuyID: 8})
	require.NoError(t, err)

	require.Equal(t, BuyCommittedKey, a.Type)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.False(t, a.Timestamp.IsZero())

	var got BuyCommitted
	require.NoError(t, json.Unmarshal(a.Payload, &got))
	require.EqualValues(t, 7, got.BuyID)
	require.EqualValues(t, 600, got.TotalValue)
}

func TestKafkaPublish(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w}

	cid := int64(3)
	err := k.Publish(context.Background(), SellCommittedKey, SellCommitted{SellID: 1, CustomerID: &cid, SaleValue: 3000, PaidValue: 500})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	require.Equal(t, SellCommittedKey, string(msg.Key))
	require.Equal(t, "event-id", msg.Headers[0].Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	require.Equal(t, SellCommittedKey, env.Type)
	require.Equal(t, string(msg.Headers[0].Value), env.ID)

	require.NoError(t, k.Close())
	require.True(t, w.closed)
}

func TestRabbitPublish(t *testing.T) {
	ch := &fakeChannel{}
	r := &Rabbit{ch: ch, exchange: "backoffice"}

	require.NoError(t, r.Publish(context.Background(), BuyCommittedKey, BuyCommitted{BuyID: 2}))
	require.Equal(t, "backoffice", ch.exchange)
	require.Equal(t, BuyCommittedKey, ch.key)
	require.Equal(t, "application/json", ch.msg.ContentType)
	require.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	require.NotEmpty(t, ch.msg.MessageId)
	require.NoError(t, r.Close())
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	k := &Kafka{w: &fakeWriter{}}
	require.Error(t, k.Publish(context.Background(), "x", make(chan int)))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), BuyCommittedKey, nil))
	require.NoError(t, p.Close())
}
