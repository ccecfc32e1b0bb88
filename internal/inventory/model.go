package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound   = errors.New("product not found in inventory")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockLevel is one catalog row: the sellable quantity and current price of
// a product variant.
type StockLevel struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	VariantID   uuid.NullUUID   `json:"variant_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Line is a requested quantity of a product variant.
type Line struct {
	ProductID uuid.UUID
	VariantID uuid.NullUUID
	Quantity  int
}

type lineKey struct {
	productID uuid.UUID
	variantID uuid.NullUUID
}

func (l Line) key() lineKey {
	return lineKey{productID: l.ProductID, variantID: l.VariantID}
}

type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s. Available: %d, Requested: %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
