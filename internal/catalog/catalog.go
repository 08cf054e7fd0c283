// Package catalog keeps recently used products in memory while carts are
// being built. Commits never read through it.
package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

type Cache struct {
	src store.Reader
	lru *expirable.LRU[int64, domain.Product]
}

func New(src store.Reader, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 256
	}
	return &Cache{
		src: src,
		lru: expirable.NewLRU[int64, domain.Product](size, nil, ttl),
	}
}

// Product returns a copy of the cached product, loading it from the store
// on a miss. Lookup failures are not cached.
func (c *Cache) Product(ctx context.Context, id int64) (*domain.Product, error) {
	if p, ok := c.lru.Get(id); ok {
		return &p, nil
	}
	p, err := c.src.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	c.lru.Add(id, *p)
	cp := *p
	return &cp, nil
}

// Products always goes to the store and refreshes the cache with the result.
func (c *Cache) Products(ctx context.Context) ([]domain.Product, error) {
	ps, err := c.src.Products(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		c.lru.Add(p.ID, p)
	}
	return ps, nil
}
