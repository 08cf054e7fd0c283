// Package sqlite implements store.Store on database/sql.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go) and
// "sqlite3" (github.com/mattn/go-sqlite3, needs cgo). The pool is limited to a
// single connection, so transactions never interleave.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

type Repository struct {
	db *sql.DB
}

var _ store.Store = (*Repository)(nil)

func dsn(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		// busy_timeout evita "database is locked" cuando otro proceso escribe
		return "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverMattn:
		return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q", driver)
	}
}

func Open(ctx context.Context, driver, path string) (*Repository, error) {
	source, err := dsn(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS products(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  name         TEXT    NOT NULL,
  value        INTEGER NOT NULL DEFAULT 0,
  buy_value    INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stocks(
  product_id   INTEGER PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
  quantity     INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS customers(
  id       INTEGER PRIMARY KEY AUTOINCREMENT,
  name     TEXT NOT NULL,
  birthday TEXT
);
CREATE TABLE IF NOT EXISTS buys(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  title        TEXT    NOT NULL,
  total_value  INTEGER NOT NULL,
  created_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS purchase_items(
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  buy_id        INTEGER NOT NULL REFERENCES buys(id) ON DELETE CASCADE,
  product_id    INTEGER NOT NULL REFERENCES products(id),
  amount        INTEGER NOT NULL CHECK (amount >= 1),
  price_by_item INTEGER NOT NULL,
  total_price   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sells(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  title        TEXT    NOT NULL,
  customer_id  INTEGER REFERENCES customers(id),
  sale_value   INTEGER NOT NULL,
  paid_value   INTEGER NOT NULL,
  created_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sold_items(
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  sell_id       INTEGER NOT NULL REFERENCES sells(id) ON DELETE CASCADE,
  product_id    INTEGER NOT NULL REFERENCES products(id),
  amount        INTEGER NOT NULL CHECK (amount >= 1),
  price_by_item INTEGER NOT NULL,
  sold_price    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sales_payments(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  sell_id      INTEGER NOT NULL REFERENCES sells(id) ON DELETE CASCADE,
  value        INTEGER NOT NULL CHECK (value > 0),
  created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_items_buy ON purchase_items(buy_id);
CREATE INDEX IF NOT EXISTS idx_sold_items_sell ON sold_items(sell_id);
CREATE INDEX IF NOT EXISTS idx_payments_sell ON sales_payments(sell_id);
CREATE INDEX IF NOT EXISTS idx_buys_title ON buys(title);
`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.db.Close() }

// WithTx runs fn inside one database transaction. Any error returned by fn,
// or a panic, rolls back every write fn made.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqlTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, r.db, id)
}

func (r *Repository) Products(ctx context.Context) ([]domain.Product, error) {
	return listProducts(ctx, r.db)
}

func (r *Repository) Customer(ctx context.Context, id int64) (*domain.Customer, error) {
	return getCustomer(ctx, r.db, id)
}

func (r *Repository) Stock(ctx context.Context, productID int64) (int64, error) {
	return getStock(ctx, r.db, productID)
}

func getProduct(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	var p domain.Product
	var created int64
	err := q.QueryRowContext(ctx, `
		SELECT id, name, value, buy_value, created_unix
		FROM products WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.BuyPrice, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	return &p, nil
}

func listProducts(ctx context.Context, q queryer) ([]domain.Product, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, value, buy_value, created_unix
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.BuyPrice, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func getCustomer(ctx context.Context, q queryer, id int64) (*domain.Customer, error) {
	var c domain.Customer
	var birthday sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id, name, birthday FROM customers WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &birthday)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if birthday.Valid && birthday.String != "" {
		if t, err := time.Parse(time.DateOnly, birthday.String); err == nil {
			c.Birthday = &t
		}
	}
	return &c, nil
}

func getStock(ctx context.Context, q queryer, productID int64) (int64, error) {
	var qty int64
	err := q.QueryRowContext(ctx, `SELECT quantity FROM stocks WHERE product_id=?`, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	return qty, err
}

func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product, initialQty int64) (int64, error) {
	if initialQty < 0 {
		return 0, fmt.Errorf("initial stock must not be negative")
	}
	var id int64
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO products(name, value, buy_value, created_unix) VALUES(?,?,?,?)`,
		p.Name, p.Price, p.BuyPrice, p.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stocks(product_id, quantity, updated_unix) VALUES(?,?,strftime('%s','now'))`,
		id, initialQty); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (r *Repository) CreateCustomer(ctx context.Context, c *domain.Customer) (int64, error) {
	var birthday any
	if c.Birthday != nil {
		birthday = c.Birthday.Format(time.DateOnly)
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO customers(name, birthday) VALUES(?,?)`, c.Name, birthday)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// Seed loads the demo catalog when the products table is empty.
func (r *Repository) Seed(ctx context.Context) error {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM products`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, sp := range store.SeedProducts {
		p := sp.Product
		if _, err := r.CreateProduct(ctx, &p, sp.Qty); err != nil {
			return err
		}
	}
	for _, c := range store.SeedCustomers {
		if _, err := r.CreateCustomer(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Buy(ctx context.Context, id int64) (*domain.Buy, error) {
	var b domain.Buy
	var created int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, total_value, created_unix FROM buys WHERE id=?`, id).
		Scan(&b.ID, &b.Title, &b.TotalValue, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(created, 0).UTC()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buy_id, product_id, amount, price_by_item, total_price
		FROM purchase_items WHERE buy_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.PurchaseItem
		if err := rows.Scan(&it.ID, &it.BuyID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, it)
	}
	return &b, rows.Err()
}

func (r *Repository) Sell(ctx context.Context, id int64) (*domain.Sell, error) {
	var s domain.Sell
	var customer sql.NullInt64
	var created int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, customer_id, sale_value, paid_value, created_unix FROM sells WHERE id=?`, id).
		Scan(&s.ID, &s.Title, &customer, &s.SaleValue, &s.PaidValue, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if customer.Valid {
		s.CustomerID = &customer.Int64
	}
	s.CreatedAt = time.Unix(created, 0).UTC()

	items, err := r.db.QueryContext(ctx, `
		SELECT id, sell_id, product_id, amount, price_by_item, sold_price
		FROM sold_items WHERE sell_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer items.Close()
	for items.Next() {
		var it domain.SoldItem
		if err := items.Scan(&it.ID, &it.SellID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.SoldPrice); err != nil {
			return nil, err
		}
		s.Items = append(s.Items, it)
	}
	if err := items.Err(); err != nil {
		return nil, err
	}
	// single pooled connection: release it before the next query
	items.Close()

	pays, err := r.db.QueryContext(ctx, `
		SELECT id, sell_id, value, created_unix FROM sales_payments WHERE sell_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer pays.Close()
	for pays.Next() {
		var p domain.Payment
		var created int64
		if err := pays.Scan(&p.ID, &p.SellID, &p.Value, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		s.Payments = append(s.Payments, p)
	}
	return &s, pays.Err()
}

func (r *Repository) ListBuys(ctx context.Context, search string, limit, offset int) ([]domain.Buy, int64, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"

	var total int64
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM buys WHERE lower(title) LIKE ?`, like).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, total_value, created_unix
		FROM buys WHERE lower(title) LIKE ?
		ORDER BY id DESC LIMIT ? OFFSET ?`, like, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []domain.Buy{}
	for rows.Next() {
		var b domain.Buy
		var created int64
		if err := rows.Scan(&b.ID, &b.Title, &b.TotalValue, &created); err != nil {
			return nil, 0, err
		}
		b.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, b)
	}
	return out, total, rows.Err()
}
