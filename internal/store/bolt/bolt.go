// Package bolt implements store.Store on an embedded BoltDB file.
//
// Every record kind lives in its own bucket keyed by a big-endian sequence
// id, with the value stored as JSON. Purchase and sale items are embedded in
// their header record. Bolt allows a single writer at a time, so WithTx
// serializes commits the same way the sqlite backend does.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

var (
	bucketProducts     = []byte("products")
	bucketStocks       = []byte("stocks")
	bucketCustomers    = []byte("customers")
	bucketBuys         = []byte("buys")
	bucketPurchaseItem = []byte("purchase_items")
	bucketSells        = []byte("sells")
	bucketSoldItems    = []byte("sold_items")
	bucketPayments     = []byte("sales_payments")
)

var allBuckets = [][]byte{
	bucketProducts, bucketStocks, bucketCustomers,
	bucketBuys, bucketPurchaseItem, bucketSells, bucketSoldItems, bucketPayments,
}

type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file and makes sure every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func getJSON(tx *bolt.Tx, bucket []byte, id int64, v any) error {
	raw := tx.Bucket(bucket).Get(itob(id))
	if raw == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func putJSON(tx *bolt.Tx, bucket []byte, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(itob(id), data)
}

func nextID(tx *bolt.Tx, bucket []byte) (int64, error) {
	seq, err := tx.Bucket(bucket).NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// WithTx runs fn inside a single bolt read-write transaction. Bolt rolls the
// transaction back when fn returns an error or panics. A ctx that is done by
// the time fn returns also rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(ctx, &boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// view runs a read-only transaction through the same accessors used by Tx.
func (s *Store) view(fn func(t *boltTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Store) Product(ctx context.Context, id int64) (p *domain.Product, err error) {
	err = s.view(func(t *boltTx) error {
		p, err = t.Product(ctx, id)
		return err
	})
	return p, err
}

func (s *Store) Products(ctx context.Context) (out []domain.Product, err error) {
	err = s.view(func(t *boltTx) error {
		out, err = t.Products(ctx)
		return err
	})
	return out, err
}

func (s *Store) Customer(ctx context.Context, id int64) (c *domain.Customer, err error) {
	err = s.view(func(t *boltTx) error {
		c, err = t.Customer(ctx, id)
		return err
	})
	return c, err
}

func (s *Store) Stock(ctx context.Context, productID int64) (qty int64, err error) {
	err = s.view(func(t *boltTx) error {
		qty, err = t.Stock(ctx, productID)
		return err
	})
	return qty, err
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product, initialQty int64) (int64, error) {
	if initialQty < 0 {
		return 0, fmt.Errorf("initial stock must not be negative")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, bucketProducts)
		if err != nil {
			return err
		}
		rec := *p
		rec.ID = id
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if err := putJSON(tx, bucketProducts, id, &rec); err != nil {
			return err
		}
		if err := putJSON(tx, bucketStocks, id, &domain.Stock{ProductID: id, Quantity: initialQty}); err != nil {
			return err
		}
		*p = rec
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) (int64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, bucketCustomers)
		if err != nil {
			return err
		}
		c.ID = id
		return putJSON(tx, bucketCustomers, id, c)
	})
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// Seed loads the demo catalog when no product exists yet.
func (s *Store) Seed(ctx context.Context) error {
	var empty bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketProducts).Cursor().First()
		empty = k == nil
		return nil
	}); err != nil {
		return err
	}
	if !empty {
		return nil
	}
	for _, sp := range store.SeedProducts {
		p := sp.Product
		if _, err := s.CreateProduct(ctx, &p, sp.Qty); err != nil {
			return err
		}
	}
	for _, c := range store.SeedCustomers {
		if _, err := s.CreateCustomer(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Buy(ctx context.Context, id int64) (*domain.Buy, error) {
	var b domain.Buy
	if err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketBuys, id, &b)
	}); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) Sell(ctx context.Context, id int64) (*domain.Sell, error) {
	var sl domain.Sell
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := getJSON(tx, bucketSells, id, &sl); err != nil {
			return err
		}
		return tx.Bucket(bucketPayments).ForEach(func(_, v []byte) error {
			var p domain.Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.SellID == id {
				sl.Payments = append(sl.Payments, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

// ListBuys walks the buys bucket from the highest id down, so results come
// out newest first like the sqlite backend.
func (s *Store) ListBuys(ctx context.Context, search string, limit, offset int) ([]domain.Buy, int64, error) {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := []domain.Buy{}
	var total int64

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBuys).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var b domain.Buy
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if !strings.Contains(strings.ToLower(b.Title), needle) {
				continue
			}
			total++
			if total <= int64(offset) || len(out) >= limit {
				continue
			}
			b.Items = nil
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func sortProducts(ps []domain.Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}
