package cart

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTTL is how long a cart lives after it is created or refreshed.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrOutOfStock       = errors.New("requested quantity is not available")
)

type Cart struct {
	ID        uuid.UUID `json:"id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	Items     []Item    `json:"items"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item holds a product line. ProductPrice is captured when the product is
// first added and is never updated afterwards.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	CartID       uuid.UUID       `json:"cart_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	VariantID    uuid.NullUUID   `json:"variant_id"`
	Quantity     int             `json:"quantity"`
	ProductPrice decimal.Decimal `json:"product_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.ProductPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}
