package idempotency

import (
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Header is the request header clients may use instead of the body field.
const Header = "Idempotency-Key"

const maxKeyLength = 255

type Kind string

const (
	KindCheckout      Kind = "checkout"
	KindPaymentCreate Kind = "payment-create"
)

var (
	ErrRecordNotFound = errors.New("idempotency record not found")
	ErrKeyExists      = errors.New("idempotency key already recorded")
	// ErrKeyReused means the key was recorded for a different request, so
	// the caller is not retrying but colliding.
	ErrKeyReused  = errors.New("idempotency key already used for a different request")
	ErrKeyTooLong = errors.New("idempotency key is too long")
)

type Record struct {
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Replay returns the entity a retried request should receive.
func (r *Record) Replay(buyerID uuid.UUID) (uuid.UUID, error) {
	if r.BuyerID != buyerID {
		return uuid.Nil, ErrKeyReused
	}
	return r.EntityID, nil
}

// NormalizeKey trims the key and returns nil when none was supplied.
func NormalizeKey(raw string) (*string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxKeyLength {
		return nil, ErrKeyTooLong
	}
	return &key, nil
}
