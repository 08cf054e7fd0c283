package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ahinestrog/backoffice/internal/cart"
	"github.com/ahinestrog/backoffice/internal/commit"
	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/money"
)

type lineView struct {
	Index            int         `json:"index"`
	ProductID        int64       `json:"product_id"`
	Name             string      `json:"name"`
	Quantity         int64       `json:"quantity"`
	UnitPrice        money.Value `json:"unit_price"`
	UnitPriceDisplay string      `json:"unit_price_display"`
	Subtotal         money.Value `json:"subtotal"`
	SubtotalDisplay  string      `json:"subtotal_display"`
}

type cartView struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	Items        []lineView  `json:"items"`
	Total        money.Value `json:"total"`
	TotalDisplay string      `json:"total_display"`
	OpenedAt     time.Time   `json:"opened_at"`
}

func toCartView(s *session) cartView {
	items := s.cart.Items()
	view := cartView{
		ID:           s.id,
		Kind:         s.cart.Kind().String(),
		Items:        make([]lineView, 0, len(items)),
		Total:        s.cart.Total(),
		TotalDisplay: s.cart.TotalDisplay(),
		OpenedAt:     s.created,
	}
	for i, it := range items {
		view.Items = append(view.Items, lineView{
			Index:            i,
			ProductID:        it.ProductID,
			Name:             it.Name,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			UnitPriceDisplay: money.Format(it.UnitPrice),
			Subtotal:         it.Subtotal,
			SubtotalDisplay:  money.Format(it.Subtotal),
		})
	}
	return view
}

type receiptView struct {
	ID           int64       `json:"id"`
	Kind         string      `json:"kind"`
	Title        string      `json:"title"`
	Total        money.Value `json:"total"`
	TotalDisplay string      `json:"total_display"`
	Paid         money.Value `json:"paid"`
	PaidDisplay  string      `json:"paid_display"`
	State        string      `json:"state"`
}

func toReceiptView(r *commit.Receipt) receiptView {
	return receiptView{
		ID:           r.HeaderID,
		Kind:         r.Kind.String(),
		Title:        r.Title,
		Total:        r.Total,
		TotalDisplay: money.Format(r.Total),
		Paid:         r.Paid,
		PaidDisplay:  money.Format(r.Paid),
		State:        r.State.String(),
	}
}

type fieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	fieldError
	Errors []fieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindInsufficientStock:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func toFieldError(e *domain.Error) fieldError {
	return fieldError{Kind: e.Kind.String(), Field: e.Field, Message: e.Message}
}

// writeError renders err as {kind, field, message}. Cart edits may fail on
// several fields at once; those are listed under errors as well.
func writeError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		body := errorBody{fieldError: toFieldError(verrs[0])}
		for _, e := range verrs {
			body.Errors = append(body.Errors, toFieldError(e))
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	if errors.Is(err, cart.ErrNoSuchLine) {
		err = domain.NotFound(domain.FieldItems, "that line is no longer in the cart")
	}
	de := domain.AsError(err)
	writeJSON(w, statusFor(de.Kind), errorBody{fieldError: toFieldError(de)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{fieldError: fieldError{
		Kind:    domain.KindValidation.String(),
		Field:   domain.FieldTransaction,
		Message: msg,
	}})
}
