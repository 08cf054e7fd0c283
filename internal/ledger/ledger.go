// Package ledger applies stock movements inside an open store transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

// Increase adds qty to the product's stock. The only quantity check is that
// the new level still fits in an int64.
func Increase(ctx context.Context, tx store.Tx, p *domain.Product, qty int64) error {
	cur, err := tx.Stock(ctx, p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return missingStock(p)
		}
		return fmt.Errorf("read stock of product %d: %w", p.ID, err)
	}
	if cur > math.MaxInt64-qty {
		return domain.Validation(domain.FieldQuantity, fmt.Sprintf("the stock of %s cannot hold that many units", p.Name))
	}
	if err := tx.IncreaseStock(ctx, p.ID, qty); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return missingStock(p)
		}
		return fmt.Errorf("increase stock of product %d: %w", p.ID, err)
	}
	return nil
}

// Decrease removes qty from the product's stock, or fails with an
// *domain.InsufficientStockError when fewer than qty units are on hand.
// The caller must abort the whole transaction on any error.
func Decrease(ctx context.Context, tx store.Tx, p *domain.Product, qty int64) error {
	available, err := tx.DecreaseStock(ctx, p.ID, qty)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrInsufficientStock):
		return &domain.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   qty,
			Available:   available,
		}
	case errors.Is(err, store.ErrNotFound):
		return missingStock(p)
	default:
		return fmt.Errorf("decrease stock of product %d: %w", p.ID, err)
	}
}

func missingStock(p *domain.Product) error {
	return domain.NotFound(domain.FieldProduct, fmt.Sprintf("%s has no stock record", p.Name))
}
