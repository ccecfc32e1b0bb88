package inventory

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
	GetStock(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*StockLevel, error)
	Upsert(ctx context.Context, level *StockLevel) error
	Deduct(ctx context.Context, line Line) error
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

func (r *postgresRepository) GetStock(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*StockLevel, error) {
	query := `
		SELECT id, product_id, variant_id, seller_id, product_name, unit_price, quantity, updated_at
		FROM inventory
		WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
	`

	var level StockLevel
	err := r.db.QueryRow(ctx, query, productID, variantID).Scan(
		&level.ID,
		&level.ProductID,
		&level.VariantID,
		&level.SellerID,
		&level.ProductName,
		&level.UnitPrice,
		&level.Quantity,
		&level.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select stock for product %s: %w", productID, err)
	}

	return &level, nil
}

func (r *postgresRepository) Upsert(ctx context.Context, level *StockLevel) error {
	if level.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate inventory id: %w", err)
		}
		level.ID = id
	}
	level.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO inventory (id, product_id, variant_id, seller_id, product_name, unit_price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT inventory_product_variant_key DO UPDATE
		SET seller_id = EXCLUDED.seller_id,
			product_name = EXCLUDED.product_name,
			unit_price = EXCLUDED.unit_price,
			quantity = EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		level.ID,
		level.ProductID,
		level.VariantID,
		level.SellerID,
		level.ProductName,
		level.UnitPrice,
		level.Quantity,
		level.UpdatedAt,
	).Scan(&level.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert stock for product %s: %w", level.ProductID, err)
	}

	return nil
}

// Deduct decrements stock only when enough is available, so the quantity
// never drops below zero.
func (r *postgresRepository) Deduct(ctx context.Context, line Line) error {
	query := `
		UPDATE inventory
		SET quantity = quantity - $1, updated_at = $2
		WHERE product_id = $3 AND variant_id IS NOT DISTINCT FROM $4 AND quantity >= $1
	`
	cmdTag, err := r.db.Exec(ctx, query, line.Quantity, time.Now().UTC(), line.ProductID, line.VariantID)
	if err != nil {
		return fmt.Errorf("repository: failed to deduct stock for product %s: %w", line.ProductID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		level, err := r.GetStock(ctx, line.ProductID, line.VariantID)
		if err != nil {
			return err
		}
		return &InsufficientStockError{
			ProductID:   line.ProductID,
			ProductName: level.ProductName,
			Available:   level.Quantity,
			Requested:   line.Quantity,
		}
	}

	return nil
}
