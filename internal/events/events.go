// Package events publishes notifications about committed transactions.
// Publishing happens after the store commit and is best effort.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ahinestrog/backoffice/internal/money"
)

const (
	BuyCommittedKey  = "buy.committed"
	SellCommittedKey = "sell.committed"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

// Envelope wraps every payload on the wire.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewEnvelope(routingKey string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      routingKey,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

func encode(routingKey string, payload any) (*Envelope, []byte, error) {
	env, err := NewEnvelope(routingKey, payload)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, nil, err
	}
	return env, body, nil
}

type LineItem struct {
	ProductID int64       `json:"product_id"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Value `json:"unit_price"`
	Total     money.Value `json:"total"`
}

type BuyCommitted struct {
	BuyID      int64       `json:"buy_id"`
	Title      string      `json:"title"`
	TotalValue money.Value `json:"total_value"`
	Items      []LineItem  `json:"items"`
}

type SellCommitted struct {
	SellID     int64       `json:"sell_id"`
	CustomerID *int64      `json:"customer_id,omitempty"`
	SaleValue  money.Value `json:"sale_value"`
	PaidValue  money.Value `json:"paid_value"`
	Items      []LineItem  `json:"items"`
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error { return nil }
