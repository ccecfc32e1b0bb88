package ledger

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type share struct {
	sellerID uuid.UUID
	amount   decimal.Decimal
}

// allocate splits paid across the order's sellers. Each seller gets its item
// subtotal plus a pro-rata part of whatever the order adds on top (shipping,
// tax, discount). The last seller absorbs rounding so the shares always sum
// to paid.
func allocate(o *order.Order, paid decimal.Decimal) []share {
	sellers := o.SellerIDs()
	if len(sellers) == 0 {
		return nil
	}

	subtotals := make(map[uuid.UUID]decimal.Decimal, len(sellers))
	itemsTotal := decimal.Zero
	for _, item := range o.Items {
		line := item.LineTotal()
		subtotals[item.SellerID] = subtotals[item.SellerID].Add(line)
		itemsTotal = itemsTotal.Add(line)
	}
	extra := paid.Sub(itemsTotal)

	shares := make([]share, 0, len(sellers))
	allocated := decimal.Zero
	for i, sellerID := range sellers {
		var amount decimal.Decimal
		if i == len(sellers)-1 {
			amount = paid.Sub(allocated)
		} else {
			amount = subtotals[sellerID]
			if !itemsTotal.IsZero() {
				amount = amount.Add(extra.Mul(subtotals[sellerID]).Div(itemsTotal)).Round(2)
			}
		}
		allocated = allocated.Add(amount)
		shares = append(shares, share{sellerID: sellerID, amount: amount})
	}
	return shares
}
