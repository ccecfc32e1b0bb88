package ledger

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Reader serves the read side of the ledger through database/sql so rows map
// straight onto Transaction by their db tags.
type Reader struct {
	db *sqlx.DB
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{db: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")}
}

const transactionColumns = `id, payment_id, order_id, buyer_id, seller_id, amount, currency, type, reference, status, metadata, created_at`

func (r *Reader) ListByReference(ctx context.Context, reference string) ([]Transaction, error) {
	txns := []Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 ORDER BY created_at, seller_id`
	if err := r.db.SelectContext(ctx, &txns, query, reference); err != nil {
		return nil, fmt.Errorf("ledger: failed to list transactions for reference %s: %w", reference, err)
	}
	return txns, nil
}

func (r *Reader) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Transaction, error) {
	txns := []Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1 ORDER BY created_at, seller_id`
	if err := r.db.SelectContext(ctx, &txns, query, orderID); err != nil {
		return nil, fmt.Errorf("ledger: failed to list transactions for order %s: %w", orderID, err)
	}
	return txns, nil
}

// Close releases the database/sql handle. The underlying pool stays open.
func (r *Reader) Close() error {
	return r.db.Close()
}
