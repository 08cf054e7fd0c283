// Package commit turns a cart into a durable purchase or sale.
//
// A commit moves through Validating, Resolving and Mutating and ends either
// Committed or Aborted. Resolving and Mutating run inside one store
// transaction: every product is re-read there, stock is adjusted, and the
// header with its items (plus a payment for sales) is written. Any failure
// rolls the whole unit back and is reported as a single *domain.Error. The
// cart is only read, so the caller can fix it and try again.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahinestrog/backoffice/internal/cart"
	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/events"
	"github.com/ahinestrog/backoffice/internal/ledger"
	"github.com/ahinestrog/backoffice/internal/money"
	"github.com/ahinestrog/backoffice/internal/store"
)

// TitleLayout is the header title, the commit time as day/month/year hour:minute.
const TitleLayout = "02/01/2006 15:04"

type State int

const (
	Validating State = iota
	Resolving
	Mutating
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Resolving:
		return "resolving"
	case Mutating:
		return "mutating"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Receipt acknowledges a committed transaction.
type Receipt struct {
	Kind     cart.Kind   `json:"-"`
	HeaderID int64       `json:"id"`
	Title    string      `json:"title"`
	Total    money.Value `json:"total"`
	Paid     money.Value `json:"paid"`
	State    State       `json:"-"`
}

type Committer struct {
	store     store.Store
	publisher events.Publisher
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	txTimeout time.Duration
}

type Option func(*Committer)

func WithPublisher(p events.Publisher) Option { return func(c *Committer) { c.publisher = p } }
func WithLogger(l zerolog.Logger) Option { return func(c *Committer) { c.log = l } }
func WithTracer(t trace.Tracer) Option { return func(c *Committer) { c.tracer = t } }
func WithClock(now func() time.Time) Option { return func(c *Committer) { c.now = now } }

// WithTxTimeout bounds the store transaction; zero means no bound.
func WithTxTimeout(d time.Duration) Option { return func(c *Committer) { c.txTimeout = d } }

func New(st store.Store, opts ...Option) *Committer {
	c := &Committer{
		store:     st,
		publisher: events.Nop{},
		log:       zerolog.Nop(),
		tracer:    otel.Tracer("backoffice/commit"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// run tracks the state of a single commit.
type run struct {
	state State
}

func (r *run) enter(s State) { r.state = s }

// CommitPurchase persists the cart as a Buy and adds every line to stock.
// Line prices are the ones captured in the cart.
func (c *Committer) CommitPurchase(ctx context.Context, ct *cart.Cart) (*Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "commit.purchase")
	defer span.End()

	r := &run{state: Validating}
	if err := c.validate(ctx, ct, cart.Purchase); err != nil {
		return nil, c.abort(span, r, "purchase", err)
	}
	lines := ct.Items()
	span.SetAttributes(attribute.Int("cart.lines", len(lines)))

	at := c.now()
	buy := &domain.Buy{Title: at.Format(TitleLayout), CreatedAt: at}

	err := c.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		buy.TotalValue = 0
		buy.Items = buy.Items[:0]
		for _, line := range lines {
			r.enter(Resolving)
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := resolveProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}
			if line.UnitPrice <= 0 {
				return domain.Validation(domain.FieldPrice, fmt.Sprintf("enter a valid purchase value for %s", p.Name))
			}

			r.enter(Mutating)
			subtotal, total, err := accumulate(buy.TotalValue, line.UnitPrice, line.Quantity, p)
			if err != nil {
				return err
			}
			buy.TotalValue = total
			buy.Items = append(buy.Items, domain.PurchaseItem{
				ProductID:  p.ID,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice,
				TotalPrice: subtotal,
			})
			if err := ledger.Increase(ctx, tx, p, line.Quantity); err != nil {
				return err
			}
		}
		_, err := tx.CreateBuy(ctx, buy)
		return err
	})
	if err != nil {
		return nil, c.abort(span, r, "purchase", err)
	}

	r.enter(Committed)
	span.SetAttributes(attribute.Int64("buy.id", buy.ID), attribute.Int64("buy.total", int64(buy.TotalValue)))
	span.SetStatus(codes.Ok, "purchase committed")
	c.log.Info().Int64("buy", buy.ID).Str("total", money.Format(buy.TotalValue)).Int("lines", len(buy.Items)).Msg("purchase committed")

	c.publish(ctx, events.BuyCommittedKey, events.BuyCommitted{
		BuyID:      buy.ID,
		Title:      buy.Title,
		TotalValue: buy.TotalValue,
		Items:      purchaseLines(buy.Items),
	})
	return &Receipt{Kind: cart.Purchase, HeaderID: buy.ID, Title: buy.Title, Total: buy.TotalValue, State: r.state}, nil
}

// CommitSale persists the cart as a Sell at current product prices, takes
// every line out of stock and records what was collected.
func (c *Committer) CommitSale(ctx context.Context, ct *cart.Cart, payment SalePayment) (*Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "commit.sale")
	defer span.End()

	r := &run{state: Validating}
	if err := c.validate(ctx, ct, cart.Sale); err != nil {
		return nil, c.abort(span, r, "sale", err)
	}
	tracker, err := NewPaymentTracker(payment)
	if err != nil {
		return nil, c.abort(span, r, "sale", err)
	}
	lines := ct.Items()
	span.SetAttributes(attribute.Int("cart.lines", len(lines)), attribute.Bool("sale.deferred", tracker.Deferred()))

	at := c.now()
	sell := &domain.Sell{Title: at.Format(TitleLayout), CustomerID: tracker.Customer(), CreatedAt: at}

	err = c.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sell.SaleValue = 0
		sell.Items = sell.Items[:0]
		sell.Payments = nil

		r.enter(Resolving)
		if sell.CustomerID != nil {
			if _, err := tx.Customer(ctx, *sell.CustomerID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.NotFound(domain.FieldCustomer, "the selected customer no longer exists")
				}
				return err
			}
		}
		for _, line := range lines {
			r.enter(Resolving)
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := resolveProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}

			r.enter(Mutating)
			subtotal, total, err := accumulate(sell.SaleValue, p.Price, line.Quantity, p)
			if err != nil {
				return err
			}
			sell.SaleValue = total
			sell.Items = append(sell.Items, domain.SoldItem{
				ProductID: p.ID,
				Quantity:  line.Quantity,
				UnitPrice: p.Price,
				SoldPrice: subtotal,
			})
			if err := ledger.Decrease(ctx, tx, p, line.Quantity); err != nil {
				return err
			}
		}

		sell.PaidValue = tracker.Collected(sell.SaleValue)
		if sell.PaidValue > sell.SaleValue {
			return domain.Validation(domain.FieldPayingNow, "the amount paid now cannot exceed the sale value")
		}
		if _, err := tx.CreateSell(ctx, sell); err != nil {
			return err
		}
		pay, err := tracker.Record(ctx, tx, sell.ID, sell.PaidValue, at)
		if err != nil {
			return err
		}
		if pay != nil {
			sell.Payments = []domain.Payment{*pay}
		}
		return nil
	})
	if err != nil {
		return nil, c.abort(span, r, "sale", err)
	}

	r.enter(Committed)
	span.SetAttributes(
		attribute.Int64("sell.id", sell.ID),
		attribute.Int64("sell.total", int64(sell.SaleValue)),
		attribute.Int64("sell.paid", int64(sell.PaidValue)),
	)
	span.SetStatus(codes.Ok, "sale committed")
	c.log.Info().Int64("sell", sell.ID).
		Str("total", money.Format(sell.SaleValue)).
		Str("paid", money.Format(sell.PaidValue)).
		Bool("deferred", tracker.Deferred()).
		Msg("sale committed")

	items := make([]events.LineItem, 0, len(sell.Items))
	for _, it := range sell.Items {
		items = append(items, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Total: it.SoldPrice})
	}
	c.publish(ctx, events.SellCommittedKey, events.SellCommitted{
		SellID:     sell.ID,
		CustomerID: sell.CustomerID,
		SaleValue:  sell.SaleValue,
		PaidValue:  sell.PaidValue,
		Items:      items,
	})
	return &Receipt{Kind: cart.Sale, HeaderID: sell.ID, Title: sell.Title, Total: sell.SaleValue, Paid: sell.PaidValue, State: r.state}, nil
}

// validate runs the checks that need no transaction: a non-empty cart of
// the right kind whose lines all point at existing products.
func (c *Committer) validate(ctx context.Context, ct *cart.Cart, kind cart.Kind) error {
	if ct == nil || ct.Empty() {
		return domain.Validation(domain.FieldItems, "add at least one product before saving")
	}
	if ct.Kind() != kind {
		return domain.Validation(domain.FieldTransaction, fmt.Sprintf("this cart holds a %s, not a %s", ct.Kind(), kind))
	}
	for _, line := range ct.Items() {
		if line.Quantity < 1 {
			return domain.Validation(domain.FieldQuantity, "enter a valid quantity")
		}
		if _, err := c.store.Product(ctx, line.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Validation(domain.FieldProduct, "select a valid product")
			}
			return err
		}
	}
	return nil
}

func (c *Committer) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if c.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.txTimeout)
		defer cancel()
	}
	return c.store.WithTx(ctx, fn)
}

func (c *Committer) abort(span trace.Span, r *run, op string, err error) error {
	at := r.state
	r.enter(Aborted)
	de := domain.AsError(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, de.Message)
	span.SetAttributes(attribute.String("commit.aborted_in", at.String()), attribute.String("error.kind", de.Kind.String()))

	ev := c.log.Warn()
	if de.Kind == domain.KindPersistence {
		ev = c.log.Error()
	}
	ev.Err(err).
		Str("op", op).
		Str("state", at.String()).
		Str("kind", de.Kind.String()).
		Str("field", de.Field).
		Msg("commit aborted")
	return de
}

// publish never fails the caller: the transaction is already durable.
func (c *Committer) publish(ctx context.Context, key string, payload any) {
	if err := c.publisher.Publish(ctx, key, payload); err != nil {
		c.log.Error().Err(err).Str("event", key).Msg("publish failed")
	}
}

func resolveProduct(ctx context.Context, tx store.Tx, id int64) (*domain.Product, error) {
	p, err := tx.Product(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound(domain.FieldProduct, fmt.Sprintf("product %d no longer exists", id))
	}
	return p, err
}

// accumulate prices one line and adds it to the running header total.
func accumulate(running, unit money.Value, qty int64, p *domain.Product) (subtotal, total money.Value, err error) {
	if subtotal, err = money.Multiply(unit, qty); err == nil {
		total, err = money.Add(running, subtotal)
	}
	if err != nil {
		return 0, 0, domain.Validation(domain.FieldQuantity, fmt.Sprintf("the value of %d x %s is too large to record", qty, p.Name))
	}
	return subtotal, total, nil
}

func purchaseLines(items []domain.PurchaseItem) []events.LineItem {
	out := make([]events.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Total: it.TotalPrice})
	}
	return out
}
