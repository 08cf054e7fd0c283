package commit

import (
	"context"
	"strings"
	"time"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/money"
	"github.com/ahinestrog/backoffice/internal/store"
)

// SalePayment is how the customer settles a sale. PayingNow is raw operator
// input and is only read for deferred sales.
type SalePayment struct {
	Deferred   bool   `json:"deferred"`
	CustomerID int64  `json:"customer_id,omitempty"`
	PayingNow  string `json:"paying_now,omitempty"`
}

// PaymentTracker holds a validated SalePayment.
type PaymentTracker struct {
	payment   SalePayment
	payingNow money.Value
}

// NewPaymentTracker validates p before anything is written. It returns the
// first failing field as a *domain.Error.
func NewPaymentTracker(p SalePayment) (*PaymentTracker, error) {
	t := &PaymentTracker{payment: p}
	if !p.Deferred {
		return t, nil
	}
	if p.CustomerID <= 0 {
		return nil, domain.Validation(domain.FieldCustomer, "select the customer who will pay later")
	}
	if strings.TrimSpace(p.PayingNow) != "" {
		v, err := money.ParseInputMinimum(p.PayingNow)
		if err != nil {
			return nil, domain.Validation(domain.FieldPayingNow, "the minimum value is 0.01")
		}
		t.payingNow = v
	}
	return t, nil
}

func (t *PaymentTracker) Deferred() bool { return t.payment.Deferred }

// Customer is the customer to attach to the sale, nil when none was chosen.
func (t *PaymentTracker) Customer() *int64 {
	if t.payment.CustomerID <= 0 {
		return nil
	}
	id := t.payment.CustomerID
	return &id
}

// Collected is the amount received at commit time: the full sale value for
// an immediate sale, the paying-now amount (possibly zero) for a deferred one.
func (t *PaymentTracker) Collected(saleValue money.Value) money.Value {
	if !t.payment.Deferred {
		return saleValue
	}
	return t.payingNow
}

// Record writes a Payment for the sale only when something was collected.
func (t *PaymentTracker) Record(ctx context.Context, tx store.Tx, sellID int64, collected money.Value, at time.Time) (*domain.Payment, error) {
	if collected <= 0 {
		return nil, nil
	}
	p := &domain.Payment{SellID: sellID, Value: collected, CreatedAt: at}
	if _, err := tx.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
