package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

// Recorder writes ledger rows. It only runs inside the settlement
// transaction, so it takes the transaction explicitly.
type Recorder interface {
	Append(ctx context.Context, tx db.DBTX, o *order.Order, e Entry) ([]Transaction, error)
}

type recorder struct{}

func NewRecorder() Recorder {
	return recorder{}
}

func (recorder) Append(ctx context.Context, tx db.DBTX, o *order.Order, e Entry) ([]Transaction, error) {
	shares := allocate(o, e.Amount)
	if len(shares) == 0 {
		return nil, fmt.Errorf("ledger: order %s has no sellers to credit", o.ID)
	}

	query := `
		INSERT INTO transactions (id, payment_id, order_id, buyer_id, seller_id, amount, currency, type, reference, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	now := time.Now().UTC()

	txns := make([]Transaction, 0, len(shares))
	for _, s := range shares {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to generate transaction ID: %w", err)
		}
		t := Transaction{
			ID:        id,
			PaymentID: e.PaymentID,
			OrderID:   e.OrderID,
			BuyerID:   e.BuyerID,
			SellerID:  s.sellerID,
			Amount:    s.amount,
			Currency:  e.Currency,
			Type:      TypeCredit,
			Reference: e.Reference,
			Status:    StatusSuccess,
			Metadata:  metadata,
			CreatedAt: now,
		}
		_, err = tx.Exec(ctx, query,
			t.ID, t.PaymentID, t.OrderID, t.BuyerID, t.SellerID, t.Amount, t.Currency,
			string(t.Type), t.Reference, t.Status, metadata, t.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) && db.ConstraintName(err) == "transactions_payment_seller_key" {
				return nil, ErrAlreadyRecorded
			}
			return nil, fmt.Errorf("ledger: failed to insert transaction for seller %s: %w", s.sellerID, err)
		}
		txns = append(txns, t)
	}

	return txns, nil
}
