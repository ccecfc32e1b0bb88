package ledger

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

var ErrAlreadyRecorded = errors.New("ledger already holds transactions for this payment")

type Type string

const (
	TypeCredit Type = "credit"
	TypeDebit  Type = "debit"
)

const StatusSuccess = "success"

// Transaction is an append-only record of money owed to one seller for one
// completed payment.
type Transaction struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PaymentID uuid.UUID       `db:"payment_id" json:"payment_id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	BuyerID   uuid.UUID       `db:"buyer_id" json:"buyer_id"`
	SellerID  uuid.UUID       `db:"seller_id" json:"seller_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Type      Type            `db:"type" json:"type"`
	Reference string          `db:"reference" json:"reference"`
	Status    string          `db:"status" json:"status"`
	Metadata  types.JSONText  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Entry describes the settled payment being recorded.
type Entry struct {
	PaymentID uuid.UUID
	OrderID   uuid.UUID
	BuyerID   uuid.UUID
	Reference string
	Currency  string
	// Amount is what the buyer paid, shipping and tax included.
	Amount decimal.Decimal
	// Metadata is the provider payload that confirmed the payment.
	Metadata []byte
}
