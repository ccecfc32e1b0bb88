package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrOrderNotPayable        = errors.New("order is not payable")
	ErrPaymentNotPending      = errors.New("payment is not pending")
	ErrInvalidMethod          = errors.New("invalid payment method")
	ErrUnsupportedMethod      = errors.New("payment method cannot be processed")
	ErrMissingDetails         = errors.New("payment details are incomplete")
	ErrInvalidAmount          = errors.New("payment amount must equal the order total")
	ErrAmountMismatch         = errors.New("provider amount does not match payment amount")
	ErrCurrencyMismatch       = errors.New("payment currency does not match order currency")
	ErrNoReference            = errors.New("payment has no provider reference yet")
	ErrInvalidStateTransition = errors.New("invalid payment status transition")
	ErrOrderAlreadyPaid       = errors.New("order already has a completed payment")
	ErrIdempotencyKeyConflict = errors.New("payment idempotency key already used")
	// ErrSettlementRejected means the provider captured funds that could not
	// be applied, so the payment was failed and needs a refund.
	ErrSettlementRejected = errors.New("captured payment could not be settled")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Method is a closed set of payment instruments.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodMobileMoney  Method = "mobile_money"
	MethodWallet       Method = "wallet"
)

func (m Method) String() string {
	return string(m)
}

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCard, MethodBankTransfer, MethodMobileMoney, MethodWallet:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// InitiatesOnCreate reports whether the provider is contacted when the
// payment is created rather than when it is processed.
func (m Method) InitiatesOnCreate() bool {
	return m == MethodCard
}

type Payment struct {
	ID               uuid.UUID       `json:"id"`
	OrderID          uuid.UUID       `json:"order_id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           Method          `json:"method"`
	Status           Status          `json:"status"`
	Reference        string          `json:"reference,omitempty"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	IdempotencyKey   *string         `json:"idempotency_key,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewReference derives the provider reference from the payment id.
func NewReference(id uuid.UUID) string {
	return "PAY_" + strings.ReplaceAll(id.String(), "-", "")
}

// Details carries the method-specific input for processing a payment.
type Details struct {
	Email             string
	AuthorizationCode string
	BankCode          string
	AccountNumber     string
}
