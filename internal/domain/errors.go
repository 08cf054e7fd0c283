package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Field names that errors are attached to.
const (
	FieldTransaction = "transaction"
	FieldItems       = "items"
	FieldProduct     = "product_id"
	FieldQuantity    = "quantity"
	FieldPrice       = "price"
	FieldPayingNow   = "paying_now"
	FieldCustomer    = "customer_id"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindInsufficientStock
	KindNotFound
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is the single user-facing error produced by cart editing and commits.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func NotFound(field, msg string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Message: msg}
}

func Persistence(err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Field:   FieldTransaction,
		Message: "the transaction could not be saved, please try again",
		Err:     err,
	}
}

// AsError returns err as *Error, classifying anything unknown as a
// persistence failure on the transaction field.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return &Error{Kind: KindInsufficientStock, Field: FieldTransaction, Message: ise.Error(), Err: ise}
	}
	return Persistence(err)
}

// InsufficientStockError is raised when a sale would push stock below zero.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s does not have enough stock for this sale: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

// ValidationErrors carries every failing field of one cart edit.
type ValidationErrors []*Error

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Field returns the error recorded for field, if any.
func (v ValidationErrors) Field(field string) *Error {
	for _, e := range v {
		if e.Field == field {
			return e
		}
	}
	return nil
}
