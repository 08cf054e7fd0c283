package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

type sqlTx struct {
	q *sql.Tx
}

func (t *sqlTx) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, t.q, id)
}

func (t *sqlTx) Products(ctx context.Context) ([]domain.Product, error) {
	return listProducts(ctx, t.q)
}

func (t *sqlTx) Customer(ctx context.Context, id int64) (*domain.Customer, error) {
	return getCustomer(ctx, t.q, id)
}

func (t *sqlTx) Stock(ctx context.Context, productID int64) (int64, error) {
	return getStock(ctx, t.q, productID)
}

func (t *sqlTx) IncreaseStock(ctx context.Context, productID, qty int64) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE stocks
SET quantity = quantity + ?,
    updated_unix = strftime('%s','now')
WHERE product_id=?`, qty, productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DecreaseStock is a single decrement-if-available statement, so two
// concurrent sales can never both pass the check.
func (t *sqlTx) DecreaseStock(ctx context.Context, productID, qty int64) (int64, error) {
	res, err := t.q.ExecContext(ctx, `
UPDATE stocks
SET quantity = quantity - ?,
    updated_unix = strftime('%s','now')
WHERE product_id=? AND quantity >= ?`, qty, productID, qty)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return getStock(ctx, t.q, productID)
	}
	avail, err := getStock(ctx, t.q, productID)
	if err != nil {
		return 0, err
	}
	return avail, store.ErrInsufficientStock
}

func (t *sqlTx) CreateBuy(ctx context.Context, b *domain.Buy) (int64, error) {
	res, err := t.q.ExecContext(ctx, `
  INSERT INTO buys(title, total_value, created_unix)
  VALUES(?,?,?)`, b.Title, b.TotalValue, b.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	bid, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := t.q.PrepareContext(ctx, `
  INSERT INTO purchase_items(buy_id, product_id, amount, price_by_item, total_price)
  VALUES(?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range b.Items {
		it := &b.Items[i]
		r, err := stmt.ExecContext(ctx, bid, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice)
		if err != nil {
			return 0, err
		}
		if it.ID, err = r.LastInsertId(); err != nil {
			return 0, err
		}
		it.BuyID = bid
	}
	b.ID = bid
	return bid, nil
}

func (t *sqlTx) CreateSell(ctx context.Context, s *domain.Sell) (int64, error) {
	var customer sql.NullInt64
	if s.CustomerID != nil {
		customer = sql.NullInt64{Int64: *s.CustomerID, Valid: true}
	}
	res, err := t.q.ExecContext(ctx, `
  INSERT INTO sells(title, customer_id, sale_value, paid_value, created_unix)
  VALUES(?,?,?,?,?)`, s.Title, customer, s.SaleValue, s.PaidValue, s.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	sid, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := t.q.PrepareContext(ctx, `
  INSERT INTO sold_items(sell_id, product_id, amount, price_by_item, sold_price)
  VALUES(?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range s.Items {
		it := &s.Items[i]
		r, err := stmt.ExecContext(ctx, sid, it.ProductID, it.Quantity, it.UnitPrice, it.SoldPrice)
		if err != nil {
			return 0, err
		}
		if it.ID, err = r.LastInsertId(); err != nil {
			return 0, err
		}
		it.SellID = sid
	}
	s.ID = sid
	return sid, nil
}

func (t *sqlTx) CreatePayment(ctx context.Context, p *domain.Payment) (int64, error) {
	if p.Value <= 0 {
		return 0, errors.New("payment value must be positive")
	}
	res, err := t.q.ExecContext(ctx, `
  INSERT INTO sales_payments(sell_id, value, created_unix) VALUES(?,?,?)`,
		p.SellID, p.Value, p.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}
