package checkout

import (
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

// ShippingFunc, TaxFunc and DiscountFunc are the replaceable pricing
// policies. Each receives the item subtotal.
type (
	ShippingFunc func(subtotal decimal.Decimal, to order.Address) decimal.Decimal
	TaxFunc      func(subtotal, shipping decimal.Decimal, to order.Address) decimal.Decimal
	DiscountFunc func(subtotal decimal.Decimal, o order.Order) decimal.Decimal
)

type Pricing struct {
	Shipping ShippingFunc
	Tax      TaxFunc
	Discount DiscountFunc
}

type Quote struct {
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// FlatShipping charges fee unless the subtotal reaches freeOver. A zero
// freeOver disables free shipping.
func FlatShipping(fee, freeOver decimal.Decimal) ShippingFunc {
	return func(subtotal decimal.Decimal, _ order.Address) decimal.Decimal {
		if freeOver.IsPositive() && subtotal.GreaterThanOrEqual(freeOver) {
			return decimal.Zero
		}
		return fee
	}
}

// RateTax applies rate to the subtotal, rounded to cents.
func RateTax(rate decimal.Decimal) TaxFunc {
	return func(subtotal, _ decimal.Decimal, _ order.Address) decimal.Decimal {
		return subtotal.Mul(rate).Round(2)
	}
}

func NoDiscount() DiscountFunc {
	return func(decimal.Decimal, order.Order) decimal.Decimal {
		return decimal.Zero
	}
}

// Quote prices the items of o. The discount never exceeds the subtotal.
func (p Pricing) Quote(o order.Order) Quote {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	q := Quote{Subtotal: subtotal, ShippingFee: decimal.Zero, Tax: decimal.Zero, Discount: decimal.Zero}
	if p.Shipping != nil {
		q.ShippingFee = p.Shipping(subtotal, o.ShippingAddress)
	}
	if p.Tax != nil {
		q.Tax = p.Tax(subtotal, q.ShippingFee, o.ShippingAddress)
	}
	if p.Discount != nil {
		q.Discount = decimal.Min(p.Discount(subtotal, o), subtotal)
	}
	q.Total = q.Subtotal.Add(q.ShippingFee).Add(q.Tax).Sub(q.Discount)
	return q
}
