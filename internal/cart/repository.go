package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

type Repository interface {
	WithTx(tx db.DBTX) Repository
	GetByBuyer(ctx context.Context, buyerID uuid.UUID) (*Cart, error)
	// GetByBuyerForUpdate locks the cart row until the surrounding
	// transaction ends.
	GetByBuyerForUpdate(ctx context.Context, buyerID uuid.UUID) (*Cart, error)
	Create(ctx context.Context, buyerID uuid.UUID, expiresAt time.Time) (*Cart, error)
	Reset(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error
	AddItem(ctx context.Context, item *Item) error
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error
	Delete(ctx context.Context, cartID uuid.UUID) error
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

func (r *postgresRepository) GetByBuyer(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	return r.getByBuyer(ctx, buyerID, false)
}

func (r *postgresRepository) GetByBuyerForUpdate(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	return r.getByBuyer(ctx, buyerID, true)
}

func (r *postgresRepository) getByBuyer(ctx context.Context, buyerID uuid.UUID, lock bool) (*Cart, error) {
	query := `
		SELECT id, buyer_id, expires_at, created_at, updated_at
		FROM carts
		WHERE buyer_id = $1
	`
	if lock {
		query += " FOR UPDATE"
	}

	var c Cart
	err := r.db.QueryRow(ctx, query, buyerID).Scan(&c.ID, &c.BuyerID, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart for buyer %s: %w", buyerID, err)
	}

	itemsQuery := `
		SELECT id, cart_id, product_id, variant_id, quantity, product_price, created_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, itemsQuery, c.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	c.Items = make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&item.ProductPrice,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for cart %s: %w", c.ID, err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items for cart %s: %w", c.ID, err)
	}

	return &c, nil
}

func (r *postgresRepository) Create(ctx context.Context, buyerID uuid.UUID, expiresAt time.Time) (*Cart, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate cart id: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO carts (id, buyer_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (buyer_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, buyer_id, expires_at, created_at, updated_at
	`
	var c Cart
	err = r.db.QueryRow(ctx, query, id, buyerID, expiresAt, now).Scan(&c.ID, &c.BuyerID, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to create cart for buyer %s: %w", buyerID, err)
	}
	c.Items = make([]Item, 0)

	return &c, nil
}

func (r *postgresRepository) Reset(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart items for cart %s: %w", cartID, err)
	}

	cmdTag, err := r.db.Exec(ctx, `UPDATE carts SET expires_at = $1, updated_at = $2 WHERE id = $3`, expiresAt, time.Now().UTC(), cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to refresh cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}

	return nil
}

// AddItem inserts the line or, when the cart already holds the same product
// variant, adds to its quantity and keeps the original price snapshot.
func (r *postgresRepository) AddItem(ctx context.Context, item *Item) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate cart item id: %w", err)
	}

	query := `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, product_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT cart_items_line_key DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, quantity, product_price, created_at
	`
	err = r.db.QueryRow(ctx, query,
		id,
		item.CartID,
		item.ProductID,
		item.VariantID,
		item.Quantity,
		item.ProductPrice,
		time.Now().UTC(),
	).Scan(&item.ID, &item.Quantity, &item.ProductPrice, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to add item to cart %s: %w", item.CartID, err)
	}

	if _, err := r.db.Exec(ctx, `UPDATE carts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), item.CartID); err != nil {
		return fmt.Errorf("repository: failed to touch cart %s: %w", item.CartID, err)
	}

	return nil
}

func (r *postgresRepository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to remove item %s from cart %s: %w", itemID, cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}
