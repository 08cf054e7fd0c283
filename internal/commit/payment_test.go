package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/money"
)

func TestPaymentTracker(t *testing.T) {
	tests := []struct {
		name      string
		payment   SalePayment
		wantField string
		collected money.Value
		customer  bool
	}{
		{name: "immediate", payment: SalePayment{}, collected: 3000},
		{name: "immediate ignores paying now", payment: SalePayment{PayingNow: "x"}, collected: 3000},
		{name: "immediate with customer", payment: SalePayment{CustomerID: 4}, collected: 3000, customer: true},
		{name: "deferred partial", payment: SalePayment{Deferred: true, CustomerID: 1, PayingNow: "$ 5,00"}, collected: 500, customer: true},
		{name: "deferred nothing now", payment: SalePayment{Deferred: true, CustomerID: 1, PayingNow: "  "}, collected: 0, customer: true},
		{name: "deferred needs customer", payment: SalePayment{Deferred: true, PayingNow: "500"}, wantField: domain.FieldCustomer},
		{name: "deferred below minimum", payment: SalePayment{Deferred: true, CustomerID: 1, PayingNow: "99"}, wantField: domain.FieldPayingNow},
		{name: "deferred zero", payment: SalePayment{Deferred: true, CustomerID: 1, PayingNow: "0,00"}, wantField: domain.FieldPayingNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewPaymentTracker(tt.payment)
			if tt.wantField != "" {
				var de *domain.Error
				require.ErrorAs(t, err, &de)
				require.Equal(t, domain.KindValidation, de.Kind)
				require.Equal(t, tt.wantField, de.Field)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.collected, tr.Collected(3000))
			require.Equal(t, tt.customer, tr.Customer() != nil)
		})
	}
}
