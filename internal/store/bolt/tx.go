package bolt

import (
	"context"
	"encoding/json"
	"errors"

	bolt "github.com/boltdb/bolt"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Product(_ context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	if err := getJSON(t.tx, bucketProducts, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *boltTx) Products(_ context.Context) ([]domain.Product, error) {
	out := []domain.Product{}
	err := t.tx.Bucket(bucketProducts).ForEach(func(_, v []byte) error {
		var p domain.Product
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProducts(out)
	return out, nil
}

func (t *boltTx) Customer(_ context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	if err := getJSON(t.tx, bucketCustomers, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *boltTx) Stock(_ context.Context, productID int64) (int64, error) {
	var st domain.Stock
	if err := getJSON(t.tx, bucketStocks, productID, &st); err != nil {
		return 0, err
	}
	return st.Quantity, nil
}

func (t *boltTx) IncreaseStock(ctx context.Context, productID, qty int64) error {
	cur, err := t.Stock(ctx, productID)
	if err != nil {
		return err
	}
	return putJSON(t.tx, bucketStocks, productID, &domain.Stock{ProductID: productID, Quantity: cur + qty})
}

// DecreaseStock checks and writes under the single bolt writer lock, so the
// check cannot go stale before the write lands.
func (t *boltTx) DecreaseStock(ctx context.Context, productID, qty int64) (int64, error) {
	cur, err := t.Stock(ctx, productID)
	if err != nil {
		return 0, err
	}
	if cur < qty {
		return cur, store.ErrInsufficientStock
	}
	left := cur - qty
	if err := putJSON(t.tx, bucketStocks, productID, &domain.Stock{ProductID: productID, Quantity: left}); err != nil {
		return 0, err
	}
	return left, nil
}

func (t *boltTx) CreateBuy(_ context.Context, b *domain.Buy) (int64, error) {
	bid, err := nextID(t.tx, bucketBuys)
	if err != nil {
		return 0, err
	}
	for i := range b.Items {
		it := &b.Items[i]
		if it.ID, err = nextID(t.tx, bucketPurchaseItem); err != nil {
			return 0, err
		}
		it.BuyID = bid
		// item id -> header id
		if err := t.tx.Bucket(bucketPurchaseItem).Put(itob(it.ID), itob(bid)); err != nil {
			return 0, err
		}
	}
	b.ID = bid
	if err := putJSON(t.tx, bucketBuys, bid, b); err != nil {
		return 0, err
	}
	return bid, nil
}

func (t *boltTx) CreateSell(_ context.Context, s *domain.Sell) (int64, error) {
	sid, err := nextID(t.tx, bucketSells)
	if err != nil {
		return 0, err
	}
	for i := range s.Items {
		it := &s.Items[i]
		if it.ID, err = nextID(t.tx, bucketSoldItems); err != nil {
			return 0, err
		}
		it.SellID = sid
		if err := t.tx.Bucket(bucketSoldItems).Put(itob(it.ID), itob(sid)); err != nil {
			return 0, err
		}
	}
	s.ID = sid
	// payments are kept in their own bucket
	rec := *s
	rec.Payments = nil
	if err := putJSON(t.tx, bucketSells, sid, &rec); err != nil {
		return 0, err
	}
	return sid, nil
}

func (t *boltTx) CreatePayment(_ context.Context, p *domain.Payment) (int64, error) {
	if p.Value <= 0 {
		return 0, errors.New("payment value must be positive")
	}
	if t.tx.Bucket(bucketSells).Get(itob(p.SellID)) == nil {
		return 0, store.ErrNotFound
	}
	id, err := nextID(t.tx, bucketPayments)
	if err != nil {
		return 0, err
	}
	p.ID = id
	if err := putJSON(t.tx, bucketPayments, id, p); err != nil {
		return 0, err
	}
	return id, nil
}
