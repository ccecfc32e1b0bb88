package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrUnknownStatus          = errors.New("unknown order status")
	ErrInvalidStateTransition = errors.New("invalid order status transition")
	ErrIdempotencyKeyConflict = errors.New("order idempotency key already used")
)

type Repository interface {
	WithTx(tx db.DBTX) Repository
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	// TransitionStatus moves the order to newStatus only if its stored status
	// is one of from. It returns ErrInvalidStateTransition when the order
	// exists but is in another state.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []OrderStatus, newStatus OrderStatus) error
	// MarkProcessing moves an order that is awaiting payment to processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db db.DBTX
}

func NewRepository(q db.DBTX) Repository {
	return &postgresRepository{db: q}
}

func (r *postgresRepository) WithTx(tx db.DBTX) Repository {
	return &postgresRepository{db: tx}
}

const orderColumns = `id, order_number, buyer_id, status, subtotal, shipping_fee, tax, discount, total, currency,
	idempotency_key, shipping_address, billing_address, customer_note, created_at, updated_at`

// Create inserts the order and its items. Run it through WithTx so both land
// in the caller's transaction.
func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("repository: failed to encode shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("repository: failed to encode billing address: %w", err)
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.db.Exec(ctx, queryOrder,
		o.ID,
		o.OrderNumber,
		o.BuyerID,
		string(o.Status),
		o.Subtotal,
		o.ShippingFee,
		o.Tax,
		o.Discount,
		o.Total,
		o.Currency,
		o.IdempotencyKey,
		shipping,
		billing,
		o.CustomerNote,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == "orders_idempotency_key_key" {
			return ErrIdempotencyKeyConflict
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, variant_id, seller_id, product_name, quantity, unit_price, fulfillment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now
		if item.FulfillmentStatus == "" {
			item.FulfillmentStatus = "pending"
		}

		_, err = r.db.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VariantID,
			item.SellerID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.FulfillmentStatus,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o        Order
		shipping []byte
		billing  []byte
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.BuyerID,
		&o.Status,
		&o.Subtotal,
		&o.ShippingFee,
		&o.Tax,
		&o.Discount,
		&o.Total,
		&o.Currency,
		&o.IdempotencyKey,
		&shipping,
		&billing,
		&o.CustomerNote,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	return &o, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	if o.Items == nil {
		o.Items = []OrderItem{}
	}

	return o, nil
}

func (r *postgresRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for buyer %s: %w", buyerID, err)
	}
	defer rows.Close()

	var (
		orders []Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for buyer %s: %w", buyerID, err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for buyer %s: %w", buyerID, err)
	}

	if len(orders) == 0 {
		return []Order{}, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []OrderItem{}
		}
	}

	return orders, nil
}

func (r *postgresRepository) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, variant_id, seller_id, product_name, quantity, unit_price, fulfillment_status, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.SellerID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.FulfillmentStatus,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []OrderStatus, newStatus OrderStatus) error {
	fromValues := make([]string, 0, len(from)+1)
	for _, status := range from {
		fromValues = append(fromValues, string(status))
		if status == StatusPendingPayment {
			fromValues = append(fromValues, string(statusLegacyPending))
		}
	}
	return r.transition(ctx, id, fromValues, newStatus)
}

func (r *postgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, payableStatuses, StatusProcessing)
}

func (r *postgresRepository) transition(ctx context.Context, id uuid.UUID, from []string, newStatus OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`
	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", id, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrInvalidStateTransition
	}

	return nil
}
