package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrGateway = errors.New("payment gateway error")

// Error reports a failed exchange with the provider: a transport failure,
// a timeout, a rejected request or a response that could not be decoded.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrGateway
}

// Status is the provider outcome normalized to three values.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

func (s Status) Definitive() bool {
	return s == StatusSuccess || s == StatusFailed
}

func normalizeStatus(raw string) Status {
	switch strings.ToLower(raw) {
	case "success", "successful":
		return StatusSuccess
	case "failed", "abandoned", "reversed", "declined":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Result is what every provider call returns. Callers never look at the
// provider payload shape; RawPayload is kept only for storage.
type Result struct {
	Status           Status          `json:"status"`
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccessCode       string          `json:"access_code,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	Message          string          `json:"message,omitempty"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
}

type InitiateRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]any
}

type AuthorizationChargeRequest struct {
	Reference         string
	AuthorizationCode string
	Email             string
	Amount            decimal.Decimal
	Currency          string
}

type BankChargeRequest struct {
	Reference     string
	Email         string
	Amount        decimal.Decimal
	Currency      string
	BankCode      string
	AccountNumber string
}

// ToMinorUnits converts 100.00 into 10000.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}
