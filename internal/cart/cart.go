// Package cart builds the in-memory list of lines for one purchase or sale.
// A Cart belongs to a single interaction and is not safe for concurrent use.
package cart

import (
	"context"
	"errors"
	"math"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/money"
	"github.com/ahinestrog/backoffice/internal/store"
)

var ErrNoSuchLine = errors.New("cart: no such line")

type Kind int

const (
	Purchase Kind = iota + 1
	Sale
)

func (k Kind) String() string {
	switch k {
	case Purchase:
		return "purchase"
	case Sale:
		return "sale"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "purchase":
		return Purchase, true
	case "sale":
		return Sale, true
	}
	return 0, false
}

// Catalog resolves products while lines are being added.
type Catalog interface {
	Product(ctx context.Context, id int64) (*domain.Product, error)
}

// Item is one line. Subtotal is always UnitPrice x Quantity.
type Item struct {
	ProductID int64       `json:"product_id"`
	Name      string      `json:"name"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Value `json:"unit_price"`
	Subtotal  money.Value `json:"subtotal"`
}

type Cart struct {
	kind    Kind
	catalog Catalog
	items   []Item
	total   money.Value
}

func New(kind Kind, catalog Catalog) *Cart {
	return &Cart{kind: kind, catalog: catalog}
}

func (c *Cart) Kind() Kind { return c.kind }

func (c *Cart) Len() int { return len(c.items) }

func (c *Cart) Empty() bool { return len(c.items) == 0 }

func (c *Cart) Total() money.Value { return c.total }

func (c *Cart) TotalDisplay() string { return money.Format(c.total) }

// Items returns a copy of the current lines.
func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// AddItem adds quantity of a product. An existing line for the product only
// grows in quantity; its unit price stays what it was. overridePrice is the
// operator-entered cost and is only allowed on purchases; empty means the
// product's default price. On failure the cart is unchanged and the returned
// error is domain.ValidationErrors or a lookup error from the catalog.
func (c *Cart) AddItem(ctx context.Context, productID, quantity int64, overridePrice string) error {
	var verrs domain.ValidationErrors
	if productID <= 0 {
		verrs = append(verrs, domain.Validation(domain.FieldProduct, "select a valid product"))
	}
	if quantity < 1 {
		verrs = append(verrs, domain.Validation(domain.FieldQuantity, "enter a valid quantity"))
	}

	var override money.Value
	if overridePrice != "" {
		if c.kind == Sale {
			verrs = append(verrs, domain.Validation(domain.FieldPrice, "sales always use the current product price"))
		} else {
			v, err := money.ParseInputMinimum(overridePrice)
			if err != nil {
				verrs = append(verrs, domain.Validation(domain.FieldPrice, "the minimum value is 0.01"))
			}
			override = v
		}
	}
	if len(verrs) > 0 {
		return verrs
	}

	p, err := c.catalog.Product(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ValidationErrors{domain.Validation(domain.FieldProduct, "select a valid product")}
	}
	if err != nil {
		return err
	}

	if i := c.indexOf(productID); i >= 0 {
		if c.items[i].Quantity > math.MaxInt64-quantity {
			return quantityTooLarge()
		}
		return c.setQuantity(i, c.items[i].Quantity+quantity)
	}

	price := p.Price
	if c.kind == Purchase {
		price = p.BuyPrice
		if override > 0 {
			price = override
		}
	}
	line := Item{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  quantity,
		UnitPrice: price,
	}
	sub, total, err := c.quote(-1, price, quantity)
	if err != nil {
		return err
	}
	line.Subtotal = sub
	c.items = append(c.items, line)
	c.total = total
	return nil
}

func (c *Cart) IncreaseQuantity(i int) error {
	if !c.valid(i) {
		return ErrNoSuchLine
	}
	if c.items[i].Quantity == math.MaxInt64 {
		return quantityTooLarge()
	}
	return c.setQuantity(i, c.items[i].Quantity+1)
}

// DecreaseQuantity removes the line once its quantity would drop below 1.
func (c *Cart) DecreaseQuantity(i int) error {
	if !c.valid(i) {
		return ErrNoSuchLine
	}
	if c.items[i].Quantity <= 1 {
		return c.RemoveItem(i)
	}
	return c.setQuantity(i, c.items[i].Quantity-1)
}

// RemoveItem deletes line i; later lines shift down by one.
func (c *Cart) RemoveItem(i int) error {
	if !c.valid(i) {
		return ErrNoSuchLine
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.recomputeTotal()
	return nil
}

// Clear drops every line, e.g. after the cart was committed.
func (c *Cart) Clear() {
	c.items = nil
	c.recomputeTotal()
}

func (c *Cart) indexOf(productID int64) int {
	for i := range c.items {
		if c.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) valid(i int) bool { return i >= 0 && i < len(c.items) }

// setQuantity changes line i only if its subtotal and the cart total still
// fit in a money.Value.
func (c *Cart) setQuantity(i int, qty int64) error {
	sub, total, err := c.quote(i, c.items[i].UnitPrice, qty)
	if err != nil {
		return err
	}
	c.items[i].Quantity = qty
	c.items[i].Subtotal = sub
	c.total = total
	return nil
}

// quote prices qty units at unit for line i (-1 for a new line) and returns
// that subtotal with the cart total it would produce.
func (c *Cart) quote(i int, unit money.Value, qty int64) (sub, total money.Value, err error) {
	if sub, err = money.Multiply(unit, qty); err != nil {
		return 0, 0, quantityTooLarge()
	}
	total = sub
	for j, it := range c.items {
		if j == i {
			continue
		}
		if total, err = money.Add(total, it.Subtotal); err != nil {
			return 0, 0, quantityTooLarge()
		}
	}
	return sub, total, nil
}

// recomputeTotal only drops or keeps lines that already fit, so it cannot overflow.
func (c *Cart) recomputeTotal() {
	c.total = 0
	for _, it := range c.items {
		c.total += it.Subtotal
	}
}

func quantityTooLarge() error {
	return domain.ValidationErrors{domain.Validation(domain.FieldQuantity, "the quantity is too large for this cart")}
}
