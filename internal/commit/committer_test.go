package commit_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/backoffice/internal/cart"
	"github.com/ahinestrog/backoffice/internal/commit"
	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/money"
	"github.com/ahinestrog/backoffice/internal/store"
	"github.com/ahinestrog/backoffice/internal/store/bolt"
	"github.com/ahinestrog/backoffice/internal/store/sqlite"
)

var fixedNow = time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) store.Store
}

var backends = []backend{
	{"sqlite", func(t *testing.T) store.Store {
		r, err := sqlite.Open(context.Background(), sqlite.DriverModernc, filepath.Join(t.TempDir(), "commit.db"))
		require.NoError(t, err)
		return r
	}},
	{"bolt", func(t *testing.T) store.Store {
		s, err := bolt.Open(filepath.Join(t.TempDir(), "commit.db"))
		require.NoError(t, err)
		return s
	}},
}

// fixture holds products A (price 1000, cost 150), B (2500, 300) and
// C (99, no cost) plus one customer.
type fixture struct {
	st       store.Store
	a, b, c  int64
	customer int64
}

func newFixture(t *testing.T, be backend, stockA, stockB int64) *fixture {
	t.Helper()
	ctx := context.Background()
	st := be.open(t)
	t.Cleanup(func() { st.Close() })

	f := &fixture{st: st}
	var err error
	f.a, err = st.CreateProduct(ctx, &domain.Product{Name: "A", Price: 1000, BuyPrice: 150}, stockA)
	require.NoError(t, err)
	f.b, err = st.CreateProduct(ctx, &domain.Product{Name: "B", Price: 2500, BuyPrice: 300}, stockB)
	require.NoError(t, err)
	f.c, err = st.CreateProduct(ctx, &domain.Product{Name: "C", Price: 99}, 0)
	require.NoError(t, err)
	f.customer, err = st.CreateCustomer(ctx, &domain.Customer{Name: "Ana"})
	require.NoError(t, err)
	return f
}

func (f *fixture) stock(t *testing.T, id int64) int64 {
	t.Helper()
	qty, err := f.st.Stock(context.Background(), id)
	require.NoError(t, err)
	return qty
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newCommitter(st store.Store, opts ...commit.Option) *commit.Committer {
	base := []commit.Option{commit.WithClock(func() time.Time { return fixedNow }), commit.WithLogger(zerolog.Nop())}
	return commit.New(st, append(base, opts...)...)
}

func requireDomainError(t *testing.T, err error, kind domain.Kind, field string) *domain.Error {
	t.Helper()
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, kind, de.Kind, "unexpected kind: %v", de)
	require.Equal(t, field, de.Field, "unexpected field: %v", de)
	return de
}

func TestCommitPurchase(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("TwoLinesAddToStock", func(t *testing.T) {
				f := newFixture(t, be, 0, 4)
				pub := &recordingPublisher{}
				cm := newCommitter(f.st, commit.WithPublisher(pub))

				ct := cart.New(cart.Purchase, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 2, ""))
				require.NoError(t, ct.AddItem(ctx, f.b, 1, "300"))

				rc, err := cm.CommitPurchase(ctx, ct)
				require.NoError(t, err)
				require.Equal(t, commit.Committed, rc.State)
				require.Equal(t, money.Value(600), rc.Total)
				require.Equal(t, "14/03/2025 09:05", rc.Title)

				require.EqualValues(t, 2, f.stock(t, f.a))
				require.EqualValues(t, 5, f.stock(t, f.b))

				buy, err := f.st.Buy(ctx, rc.HeaderID)
				require.NoError(t, err)
				require.Equal(t, money.Value(600), buy.TotalValue)
				require.Len(t, buy.Items, 2)
				require.Equal(t, money.Value(300), buy.Items[0].TotalPrice)

				require.Equal(t, []string{"buy.committed"}, pub.keys)
				// the cart is left to the caller
				require.Equal(t, 2, ct.Len())
			})

			t.Run("EmptyCart", func(t *testing.T) {
				f := newFixture(t, be, 1, 1)
				_, err := newCommitter(f.st).CommitPurchase(ctx, cart.New(cart.Purchase, f.st))
				requireDomainError(t, err, domain.KindValidation, domain.FieldItems)

				_, total, err := f.st.ListBuys(ctx, "", 10, 0)
				require.NoError(t, err)
				require.Zero(t, total)
			})

			t.Run("WrongKind", func(t *testing.T) {
				f := newFixture(t, be, 1, 1)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))
				_, err := newCommitter(f.st).CommitPurchase(ctx, ct)
				requireDomainError(t, err, domain.KindValidation, domain.FieldTransaction)
			})

			t.Run("ZeroPriceRollsBackEveryLine", func(t *testing.T) {
				f := newFixture(t, be, 1, 1)
				ct := cart.New(cart.Purchase, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 2, ""))
				require.NoError(t, ct.AddItem(ctx, f.c, 1, ""))

				_, err := newCommitter(f.st).CommitPurchase(ctx, ct)
				de := requireDomainError(t, err, domain.KindValidation, domain.FieldPrice)
				require.Contains(t, de.Message, "C")

				require.EqualValues(t, 1, f.stock(t, f.a))
				require.Zero(t, f.stock(t, f.c))
				_, total, err := f.st.ListBuys(ctx, "", 10, 0)
				require.NoError(t, err)
				require.Zero(t, total)
			})

			t.Run("ProductGoneInsideUnitRollsBack", func(t *testing.T) {
				f := newFixture(t, be, 1, 1)
				ct := cart.New(cart.Purchase, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 2, ""))
				require.NoError(t, ct.AddItem(ctx, f.b, 1, ""))

				_, err := newCommitter(vanishingStore{Store: f.st, gone: f.b}).CommitPurchase(ctx, ct)
				requireDomainError(t, err, domain.KindNotFound, domain.FieldProduct)

				require.EqualValues(t, 1, f.stock(t, f.a))
				require.EqualValues(t, 1, f.stock(t, f.b))
				_, total, err := f.st.ListBuys(ctx, "", 10, 0)
				require.NoError(t, err)
				require.Zero(t, total)
			})

			t.Run("StockOverflowRollsBack", func(t *testing.T) {
				f := newFixture(t, be, 5, 1)
				ct := cart.New(cart.Purchase, f.st)
				require.NoError(t, ct.AddItem(ctx, f.b, 1, "001"))
				require.NoError(t, ct.AddItem(ctx, f.a, math.MaxInt64-1, "001"))

				_, err := newCommitter(f.st).CommitPurchase(ctx, ct)
				requireDomainError(t, err, domain.KindValidation, domain.FieldQuantity)

				require.EqualValues(t, 5, f.stock(t, f.a))
				require.EqualValues(t, 1, f.stock(t, f.b))
				_, total, err := f.st.ListBuys(ctx, "", 10, 0)
				require.NoError(t, err)
				require.Zero(t, total)
			})
		})
	}
}

func TestCommitSale(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("DeferredPartialPayment", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				pub := &recordingPublisher{}
				cm := newCommitter(f.st, commit.WithPublisher(pub))

				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 3, ""))

				rc, err := cm.CommitSale(ctx, ct, commit.SalePayment{Deferred: true, CustomerID: f.customer, PayingNow: "500"})
				require.NoError(t, err)
				require.Equal(t, money.Value(3000), rc.Total)
				require.Equal(t, money.Value(500), rc.Paid)

				s, err := f.st.Sell(ctx, rc.HeaderID)
				require.NoError(t, err)
				require.Equal(t, money.Value(3000), s.SaleValue)
				require.Equal(t, money.Value(500), s.PaidValue)
				require.NotNil(t, s.CustomerID)
				require.Equal(t, f.customer, *s.CustomerID)
				require.Len(t, s.Payments, 1)
				require.Equal(t, money.Value(500), s.Payments[0].Value)
				require.Len(t, s.Items, 1)
				require.Equal(t, money.Value(1000), s.Items[0].UnitPrice)

				require.EqualValues(t, 2, f.stock(t, f.a))
				require.Equal(t, []string{"sell.committed"}, pub.keys)
			})

			t.Run("DeferredWithoutPaymentRecordsNone", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				rc, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{Deferred: true, CustomerID: f.customer})
				require.NoError(t, err)
				require.Zero(t, rc.Paid)

				s, err := f.st.Sell(ctx, rc.HeaderID)
				require.NoError(t, err)
				require.Empty(t, s.Payments)
				require.Equal(t, money.Value(1000), s.Outstanding())
			})

			t.Run("ImmediatePaysInFull", func(t *testing.T) {
				f := newFixture(t, be, 5, 5)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))
				require.NoError(t, ct.AddItem(ctx, f.b, 2, ""))

				rc, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{PayingNow: "1"})
				require.NoError(t, err)
				require.Equal(t, money.Value(6000), rc.Total)
				require.Equal(t, money.Value(6000), rc.Paid)

				s, err := f.st.Sell(ctx, rc.HeaderID)
				require.NoError(t, err)
				require.Nil(t, s.CustomerID)
				require.Len(t, s.Payments, 1)
				require.Equal(t, money.Value(6000), s.Payments[0].Value)
				require.EqualValues(t, 4, f.stock(t, f.a))
				require.EqualValues(t, 3, f.stock(t, f.b))
			})

			t.Run("InsufficientStockRollsBack", func(t *testing.T) {
				f := newFixture(t, be, 1, 5)
				pub := &recordingPublisher{}
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.b, 2, ""))
				require.NoError(t, ct.AddItem(ctx, f.a, 2, ""))

				_, err := newCommitter(f.st, commit.WithPublisher(pub)).CommitSale(ctx, ct, commit.SalePayment{})
				de := requireDomainError(t, err, domain.KindInsufficientStock, domain.FieldTransaction)
				require.Contains(t, de.Message, "A")
				require.Contains(t, de.Message, "requested 2")
				require.Contains(t, de.Message, "available 1")

				var ise *domain.InsufficientStockError
				require.ErrorAs(t, err, &ise)
				require.Equal(t, f.a, ise.ProductID)

				require.EqualValues(t, 1, f.stock(t, f.a))
				require.EqualValues(t, 5, f.stock(t, f.b))
				_, err = f.st.Sell(ctx, 1)
				require.ErrorIs(t, err, store.ErrNotFound)
				require.Empty(t, pub.keys)
			})

			t.Run("DeferredNeedsCustomer", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				_, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{Deferred: true, PayingNow: "500"})
				requireDomainError(t, err, domain.KindValidation, domain.FieldCustomer)
				require.EqualValues(t, 5, f.stock(t, f.a))
			})

			t.Run("PayingNowBelowMinimum", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				_, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{Deferred: true, CustomerID: f.customer, PayingNow: "12"})
				requireDomainError(t, err, domain.KindValidation, domain.FieldPayingNow)
			})

			t.Run("PayingNowAboveSaleValue", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				_, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{Deferred: true, CustomerID: f.customer, PayingNow: "5000"})
				requireDomainError(t, err, domain.KindValidation, domain.FieldPayingNow)
				require.EqualValues(t, 5, f.stock(t, f.a))
			})

			t.Run("UnknownCustomer", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				_, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{Deferred: true, CustomerID: 999})
				requireDomainError(t, err, domain.KindNotFound, domain.FieldCustomer)
				require.EqualValues(t, 5, f.stock(t, f.a))
			})

			t.Run("ProductGoneInsideUnitRollsBack", func(t *testing.T) {
				f := newFixture(t, be, 5, 5)
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 2, ""))
				require.NoError(t, ct.AddItem(ctx, f.b, 1, ""))

				_, err := newCommitter(vanishingStore{Store: f.st, gone: f.b}).CommitSale(ctx, ct, commit.SalePayment{})
				requireDomainError(t, err, domain.KindNotFound, domain.FieldProduct)

				require.EqualValues(t, 5, f.stock(t, f.a))
				require.EqualValues(t, 5, f.stock(t, f.b))
				_, err = f.st.Sell(ctx, 1)
				require.ErrorIs(t, err, store.ErrNotFound)
			})

			t.Run("RepricedTotalOverflowAborts", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				// the cart was priced at 0.01; the product now costs 10.00
				ct := cart.New(cart.Sale, cheapCatalog{f.st})
				require.NoError(t, ct.AddItem(ctx, f.a, math.MaxInt64/2, ""))
				require.Equal(t, money.Value(math.MaxInt64/2), ct.Total())

				_, err := newCommitter(f.st).CommitSale(ctx, ct, commit.SalePayment{})
				de := requireDomainError(t, err, domain.KindValidation, domain.FieldQuantity)
				require.Contains(t, de.Message, "A")

				require.EqualValues(t, 5, f.stock(t, f.a))
				_, err = f.st.Sell(ctx, 1)
				require.ErrorIs(t, err, store.ErrNotFound)
			})

			t.Run("PublishFailureKeepsCommit", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				pub := &recordingPublisher{err: errors.New("broker down")}
				ct := cart.New(cart.Sale, f.st)
				require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

				rc, err := newCommitter(f.st, commit.WithPublisher(pub)).CommitSale(ctx, ct, commit.SalePayment{})
				require.NoError(t, err)
				require.NotZero(t, rc.HeaderID)
				require.EqualValues(t, 4, f.stock(t, f.a))
			})

			t.Run("ConcurrentSalesNeverOversell", func(t *testing.T) {
				f := newFixture(t, be, 5, 0)
				cm := newCommitter(f.st)

				var wg sync.WaitGroup
				var mu sync.Mutex
				ok, short := 0, 0
				for i := 0; i < 12; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ct := cart.New(cart.Sale, f.st)
						if err := ct.AddItem(ctx, f.a, 1, ""); err != nil {
							t.Error(err)
							return
						}
						_, err := cm.CommitSale(ctx, ct, commit.SalePayment{})
						mu.Lock()
						defer mu.Unlock()
						var ise *domain.InsufficientStockError
						switch {
						case err == nil:
							ok++
						case errors.As(err, &ise):
							short++
						default:
							t.Errorf("unexpected error: %v", err)
						}
					}()
				}
				wg.Wait()

				require.Equal(t, 5, ok)
				require.Equal(t, 7, short)
				require.Zero(t, f.stock(t, f.a))
			})
		})
	}
}

// vanishingStore hides product gone from reads made inside a transaction, as
// if it was deleted between validation and commit.
type vanishingStore struct {
	store.Store
	gone int64
}

func (s vanishingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, vanishingTx{Tx: tx, gone: s.gone})
	})
}

type vanishingTx struct {
	store.Tx
	gone int64
}

func (t vanishingTx) Product(ctx context.Context, id int64) (*domain.Product, error) {
	if id == t.gone {
		return nil, store.ErrNotFound
	}
	return t.Tx.Product(ctx, id)
}

// cheapCatalog prices every product at 0.01.
type cheapCatalog struct {
	st store.Store
}

func (c cheapCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := c.st.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Price = 1
	return p, nil
}

type stalledStore struct {
	store.Store
}

func (s stalledStore) WithTx(ctx context.Context, _ func(ctx context.Context, tx store.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCommitTimeoutIsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends[0], 5, 0)
	cm := newCommitter(stalledStore{f.st}, commit.WithTxTimeout(20*time.Millisecond))

	ct := cart.New(cart.Sale, f.st)
	require.NoError(t, ct.AddItem(ctx, f.a, 1, ""))

	_, err := cm.CommitSale(ctx, ct, commit.SalePayment{})
	requireDomainError(t, err, domain.KindPersistence, domain.FieldTransaction)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 5, f.stock(t, f.a))
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state commit.State
		want  string
	}{
		{commit.Validating, "validating"},
		{commit.Resolving, "resolving"},
		{commit.Mutating, "mutating"},
		{commit.Committed, "committed"},
		{commit.Aborted, "aborted"},
		{commit.State(42), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.state.String())
	}
}
