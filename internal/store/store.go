// Package store is the persistence boundary of the back-office core.
//
// All writes of a commit go through a Tx obtained from Store.WithTx: the
// function either returns nil and everything it wrote is committed, or it
// returns an error (or panics) and nothing it wrote survives.
package store

import (
	"context"
	"errors"

	"github.com/ahinestrog/backoffice/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	Product(ctx context.Context, id int64) (*domain.Product, error)
	Products(ctx context.Context) ([]domain.Product, error)
	Customer(ctx context.Context, id int64) (*domain.Customer, error)
	// Stock returns the on-hand quantity, ErrNotFound when the product has no stock row.
	Stock(ctx context.Context, productID int64) (int64, error)
}

// Tx is one atomic unit of work.
type Tx interface {
	Reader

	IncreaseStock(ctx context.Context, productID, qty int64) error
	// DecreaseStock subtracts qty only if at least qty is on hand, as a
	// single conditional update. When it is not applied it returns
	// ErrInsufficientStock together with the quantity currently available.
	DecreaseStock(ctx context.Context, productID, qty int64) (available int64, err error)

	// CreateBuy and CreateSell persist the header together with its items
	// and fill in the generated ids.
	CreateBuy(ctx context.Context, b *domain.Buy) (int64, error)
	CreateSell(ctx context.Context, s *domain.Sell) (int64, error)
	CreatePayment(ctx context.Context, p *domain.Payment) (int64, error)
}

type Store interface {
	Reader

	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Buy(ctx context.Context, id int64) (*domain.Buy, error)
	Sell(ctx context.Context, id int64) (*domain.Sell, error)
	// ListBuys returns headers whose title contains search, newest first,
	// and the total number of matches.
	ListBuys(ctx context.Context, search string, limit, offset int) ([]domain.Buy, int64, error)

	CreateProduct(ctx context.Context, p *domain.Product, initialQty int64) (int64, error)
	CreateCustomer(ctx context.Context, c *domain.Customer) (int64, error)
	Seed(ctx context.Context) error

	Close() error
}

// SeedProducts is the demo catalog loaded when seeding is enabled.
var SeedProducts = []struct {
	Product domain.Product
	Qty     int64
}{
	{domain.Product{Name: "Coffee 500g", Price: 1890, BuyPrice: 1150}, 10},
	{domain.Product{Name: "Rice 1kg", Price: 699, BuyPrice: 420}, 25},
	{domain.Product{Name: "Sugar 1kg", Price: 459, BuyPrice: 300}, 0},
	{domain.Product{Name: "Olive oil 500ml", Price: 3290, BuyPrice: 2100}, 5},
	{domain.Product{Name: "Black beans 1kg", Price: 879, BuyPrice: 610}, 1},
}

var SeedCustomers = []domain.Customer{
	{Name: "Maria Souza"},
	{Name: "João Pereira"},
}
