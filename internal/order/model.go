package order

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusReturned       OrderStatus = "returned"
	StatusFailed         OrderStatus = "failed"

	// statusLegacyPending is still found in old rows. It reads as
	// StatusPendingPayment and is never written.
	statusLegacyPending OrderStatus = "pending"
)

func (os OrderStatus) String() string {
	return string(os)
}

func (os OrderStatus) IsTerminal() bool {
	switch os {
	case StatusDelivered, StatusCancelled, StatusReturned, StatusFailed:
		return true
	}
	return false
}

// ParseStatus maps a wire value to a status, accepting the legacy "pending".
func ParseStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case statusLegacyPending:
		return StatusPendingPayment, nil
	case StatusPendingPayment, StatusProcessing, StatusShipped, StatusDelivered,
		StatusCancelled, StatusReturned, StatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Scan normalizes stored values so the legacy status never leaves the
// storage layer.
func (os *OrderStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("order: cannot scan %T into OrderStatus", src)
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*os = status
	return nil
}

// payableStatuses are the stored values an order may hold while awaiting
// payment.
var payableStatuses = []string{string(StatusPendingPayment), string(statusLegacyPending)}

type Address struct {
	FullName   string `json:"full_name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type OrderItem struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           uuid.UUID       `json:"order_id"`
	ProductID         uuid.UUID       `json:"product_id"`
	VariantID         uuid.NullUUID   `json:"variant_id"`
	SellerID          uuid.UUID       `json:"seller_id"`
	ProductName       string          `json:"product_name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"order_number"`
	BuyerID         uuid.UUID       `json:"buyer_id"`
	Status          OrderStatus     `json:"status"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	Tax             decimal.Decimal `json:"tax"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	CustomerNote    string          `json:"customer_note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *Order) IsPayable() bool {
	return o.Status == StatusPendingPayment
}

// SellerIDs returns the distinct sellers in item order.
func (o *Order) SellerIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, item := range o.Items {
		if !seen[item.SellerID] {
			seen[item.SellerID] = true
			ids = append(ids, item.SellerID)
		}
	}
	return ids
}

// NewOrderNumber returns a human-readable number such as ORD-20260119-9F3A1C.
func NewOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("order: failed to generate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf))), nil
}
