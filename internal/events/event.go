package events

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePaymentCompleted Type = "payment.completed"
	TypeOrderPaid        Type = "order.paid"
	TypePaymentFailed    Type = "payment.failed"
)

// Event is the envelope sent to buyer and seller notification channels.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	SellerID   *uuid.UUID      `json:"seller_id,omitempty"`
	OrderID    uuid.UUID       `json:"order_id"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason,omitempty"`
}

// New fills in the envelope id and timestamp.
func New(t Type, e Event) Event {
	e.Type = t
	e.ID = uuid.Must(uuid.NewV4())
	e.OccurredAt = time.Now().UTC()
	return e
}
