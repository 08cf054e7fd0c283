package domain

import (
	"time"

	"github.com/ahinestrog/backoffice/internal/money"
)

// Product is read-only inside the core. Price is the current sale price,
// BuyPrice the default cost suggested when building a purchase.
type Product struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Price     money.Value `json:"price"`
	BuyPrice  money.Value `json:"buy_price"`
	CreatedAt time.Time   `json:"created_at"`
}

// Stock belongs 1:1 to a product; Quantity never goes below zero.
type Stock struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type Customer struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Birthday *time.Time `json:"birthday,omitempty"`
}

// Buy is the header of a committed purchase.
type Buy struct {
	ID         int64          `json:"id"`
	Title      string         `json:"title"`
	TotalValue money.Value    `json:"total_value"`
	CreatedAt  time.Time      `json:"created_at"`
	Items      []PurchaseItem `json:"items,omitempty"`
}

type PurchaseItem struct {
	ID         int64       `json:"id"`
	BuyID      int64       `json:"buy_id"`
	ProductID  int64       `json:"product_id"`
	Quantity   int64       `json:"quantity"`
	UnitPrice  money.Value `json:"unit_price"`
	TotalPrice money.Value `json:"total_price"`
}

// Sell is the header of a committed sale. SaleValue is always the full
// computed total; PaidValue is what was collected at commit time.
type Sell struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	CustomerID *int64      `json:"customer_id,omitempty"`
	SaleValue  money.Value `json:"sale_value"`
	PaidValue  money.Value `json:"paid_value"`
	CreatedAt  time.Time   `json:"created_at"`
	Items      []SoldItem  `json:"items,omitempty"`
	Payments   []Payment   `json:"payments,omitempty"`
}

// Outstanding is the part of the sale still owed by the customer.
func (s *Sell) Outstanding() money.Value { return s.SaleValue - s.PaidValue }

type SoldItem struct {
	ID        int64       `json:"id"`
	SellID    int64       `json:"sell_id"`
	ProductID int64       `json:"product_id"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Value `json:"unit_price"`
	SoldPrice money.Value `json:"sold_price"`
}

type Payment struct {
	ID        int64       `json:"id"`
	SellID    int64       `json:"sell_id"`
	Value     money.Value `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
}
