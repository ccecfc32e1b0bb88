package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

var (
	ErrCartEmpty   = errors.New("cart is empty")
	ErrCartExpired = errors.New("cart expired")
)

type Input struct {
	BuyerID         uuid.UUID
	ShippingAddress order.Address
	BillingAddress  order.Address
	CustomerNote    string
	IdempotencyKey  *string
}

type Result struct {
	Order *order.Order
	// Replayed is set when the order was created by an earlier request with
	// the same idempotency key.
	Replayed bool
}

type Orchestrator struct {
	tx       db.TxRunner
	carts    cart.Repository
	orders   order.Repository
	keys     idempotency.Store
	stock    inventory.Ledger
	pricing  Pricing
	currency string
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewOrchestrator(
	tx db.TxRunner,
	carts cart.Repository,
	orders order.Repository,
	keys idempotency.Store,
	stock inventory.Ledger,
	pricing Pricing,
	currency string,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		tx:       tx,
		carts:    carts,
		orders:   orders,
		keys:     keys,
		stock:    stock,
		pricing:  pricing,
		currency: currency,
		metrics:  m,
		now:      time.Now,
	}
}

// Checkout turns the buyer's cart into an order awaiting payment. The cart
// row stays locked from the first read until the order exists and the cart
// is gone, so two concurrent checkouts of one cart cannot both succeed.
// Stock is only checked here; it is deducted when the payment settles.
func (c *Orchestrator) Checkout(ctx context.Context, in Input) (*Result, error) {
	if in.IdempotencyKey != nil {
		res, err := c.replay(ctx, in.BuyerID, *in.IdempotencyKey)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, idempotency.ErrRecordNotFound) {
			return nil, err
		}
	}

	var created *order.Order
	err := c.tx.InTx(ctx, func(tx db.DBTX) error {
		carts := c.carts.WithTx(tx)

		ct, err := carts.GetByBuyerForUpdate(ctx, in.BuyerID)
		if err != nil {
			if errors.Is(err, cart.ErrCartNotFound) {
				return ErrCartEmpty
			}
			return fmt.Errorf("checkout: failed to lock cart: %w", err)
		}
		if ct.Expired(c.now()) {
			return ErrCartExpired
		}
		if ct.IsEmpty() {
			return ErrCartEmpty
		}

		lines := make([]inventory.Line, 0, len(ct.Items))
		for _, item := range ct.Items {
			lines = append(lines, inventory.Line{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
		}
		levels, err := c.stock.Check(ctx, lines)
		if err != nil {
			return err
		}

		o, err := c.buildOrder(in, ct, levels)
		if err != nil {
			return err
		}
		if err := c.orders.WithTx(tx).Create(ctx, o); err != nil {
			return err
		}
		if in.IdempotencyKey != nil {
			if err := c.keys.WithTx(tx).Save(ctx, &idempotency.Record{
				Kind:     idempotency.KindCheckout,
				Key:      *in.IdempotencyKey,
				BuyerID:  in.BuyerID,
				EntityID: o.ID,
			}); err != nil {
				return err
			}
		}
		if err := carts.Delete(ctx, ct.ID); err != nil {
			return fmt.Errorf("checkout: failed to clear cart: %w", err)
		}

		created = o
		return nil
	})
	if err != nil {
		return c.recover(ctx, in, err)
	}

	c.metrics.OrderCreated()
	log.Info().
		Stringer("order_id", created.ID).
		Str("order_number", created.OrderNumber).
		Stringer("buyer_id", in.BuyerID).
		Str("total", created.Total.StringFixed(2)).
		Msg("checkout: order created")

	return &Result{Order: created}, nil
}

// recover turns a lost race with a concurrent retry into a replay of the
// winner's order.
func (c *Orchestrator) recover(ctx context.Context, in Input, err error) (*Result, error) {
	if in.IdempotencyKey == nil {
		return nil, err
	}

	raced := errors.Is(err, idempotency.ErrKeyExists) || errors.Is(err, order.ErrIdempotencyKeyConflict)
	if !raced && !errors.Is(err, ErrCartEmpty) {
		return nil, err
	}

	res, rerr := c.replay(ctx, in.BuyerID, *in.IdempotencyKey)
	if rerr == nil {
		log.Info().Str("idempotency_key", *in.IdempotencyKey).Msg("checkout: concurrent retry resolved to existing order")
		return res, nil
	}
	if errors.Is(rerr, idempotency.ErrRecordNotFound) {
		return nil, err
	}
	return nil, rerr
}

func (c *Orchestrator) replay(ctx context.Context, buyerID uuid.UUID, key string) (*Result, error) {
	rec, err := c.keys.Lookup(ctx, idempotency.KindCheckout, key)
	if err != nil {
		return nil, err
	}
	id, err := rec.Replay(buyerID)
	if err != nil {
		log.Warn().Str("idempotency_key", key).Stringer("buyer_id", buyerID).Msg("checkout: idempotency key reused by another buyer")
		return nil, err
	}
	o, err := c.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to load replayed order: %w", err)
	}
	log.Info().Stringer("order_id", o.ID).Str("idempotency_key", key).Msg("checkout: replayed existing order")
	return &Result{Order: o, Replayed: true}, nil
}

// buildOrder prices the order from the cart's price snapshots. levels is in
// cart item order.
func (c *Orchestrator) buildOrder(in Input, ct *cart.Cart, levels []inventory.StockLevel) (*order.Order, error) {
	number, err := order.NewOrderNumber(c.now())
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		OrderNumber:     number,
		BuyerID:         in.BuyerID,
		Status:          order.StatusPendingPayment,
		Currency:        c.currency,
		IdempotencyKey:  in.IdempotencyKey,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		CustomerNote:    in.CustomerNote,
		Items:           make([]order.OrderItem, 0, len(ct.Items)),
	}

	for i, item := range ct.Items {
		level := levels[i]
		if !level.UnitPrice.Equal(item.ProductPrice) {
			log.Warn().
				Stringer("product_id", item.ProductID).
				Str("cart_price", item.ProductPrice.StringFixed(2)).
				Str("live_price", level.UnitPrice.StringFixed(2)).
				Msg("checkout: live price differs from cart snapshot, keeping snapshot")
		}
		o.Items = append(o.Items, order.OrderItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			SellerID:    level.SellerID,
			ProductName: level.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.ProductPrice,
		})
	}

	q := c.pricing.Quote(*o)
	o.Subtotal = q.Subtotal
	o.ShippingFee = q.ShippingFee
	o.Tax = q.Tax
	o.Discount = q.Discount
	o.Total = q.Total

	return o, nil
}
