package ledger

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

func item(seller uuid.UUID, qty int, price string) order.OrderItem {
	return order.OrderItem{SellerID: seller, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestAllocate(t *testing.T) {
	a, b, c := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	tests := []struct {
		name  string
		items []order.OrderItem
		paid  string
		want  map[uuid.UUID]string
	}{
		{
			name:  "single seller takes everything",
			items: []order.OrderItem{item(a, 2, "29.99")},
			paid:  "64.98",
			want:  map[uuid.UUID]string{a: "64.98"},
		},
		{
			name:  "shipping split by subtotal share",
			items: []order.OrderItem{item(a, 1, "30.00"), item(b, 1, "10.00")},
			paid:  "44.00",
			want:  map[uuid.UUID]string{a: "33.00", b: "11.00"},
		},
		{
			name:  "rounding lands on the last seller",
			items: []order.OrderItem{item(a, 1, "10.00"), item(b, 1, "10.00"), item(c, 1, "10.00")},
			paid:  "31.00",
			want:  map[uuid.UUID]string{a: "10.33", b: "10.33", c: "10.34"},
		},
		{
			name:  "same seller across items",
			items: []order.OrderItem{item(a, 1, "5.00"), item(b, 2, "5.00"), item(a, 1, "5.00")},
			paid:  "20.00",
			want:  map[uuid.UUID]string{a: "10.00", b: "10.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paid := decimal.RequireFromString(tt.paid)
			shares := allocate(&order.Order{Items: tt.items}, paid)
			require.Len(t, shares, len(tt.want))

			sum := decimal.Zero
			for _, s := range shares {
				assert.Equal(t, tt.want[s.sellerID], s.amount.StringFixed(2), "seller %s", s.sellerID)
				sum = sum.Add(s.amount)
			}
			assert.True(t, sum.Equal(paid), "shares must sum to %s, got %s", paid, sum)
		})
	}
}

func TestAllocate_NoItems(t *testing.T) {
	assert.Empty(t, allocate(&order.Order{}, decimal.NewFromInt(10)))
}
