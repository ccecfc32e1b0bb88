package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

type Repository interface {
	WithTx(tx db.DBTX) Repository
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// GetByReferenceForUpdate locks the payment row until the surrounding
	// transaction ends. It must run through WithTx.
	GetByReferenceForUpdate(ctx context.Context, reference string) (*Payment, error)
	// SetReference stores the provider reference of a pending payment.
	SetReference(ctx context.Context, id uuid.UUID, reference, authorizationURL string, providerResponse json.RawMessage) error
	// Complete moves a pending payment to completed. A payment in any other
	// state yields ErrInvalidStateTransition.
	Complete(ctx context.Context, id uuid.UUID, providerResponse json.RawMessage, paidAt time.Time) error
	// Fail moves a pending payment to failed.
	Fail(ctx context.Context, id uuid.UUID, reason string, providerResponse json.RawMessage) error
	HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db db.DBTX
}

func NewRepository(q db.DBTX) Repository {
	return &postgresRepository{db: q}
}

func (r *postgresRepository) WithTx(tx db.DBTX) Repository {
	return &postgresRepository{db: tx}
}

const paymentColumns = `id, order_id, buyer_id, amount, currency, method, status, reference, authorization_url,
	provider_response, idempotency_key, failure_reason, metadata, paid_at, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate payment ID: %w", err)
		}
		p.ID = id
	}

	var metadata []byte
	if len(p.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(p.Metadata); err != nil {
			return fmt.Errorf("repository: failed to encode payment metadata: %w", err)
		}
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.BuyerID,
		p.Amount,
		p.Currency,
		string(p.Method),
		string(p.Status),
		nullableString(p.Reference),
		p.AuthorizationURL,
		nullableJSON(p.ProviderResponse),
		p.IdempotencyKey,
		p.FailureReason,
		metadata,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == "payments_idempotency_key_key" {
			return ErrIdempotencyKeyConflict
		}
		return fmt.Errorf("repository: failed to insert payment: %w", err)
	}

	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p         Payment
		method    string
		status    string
		reference *string
		response  []byte
		metadata  []byte
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.BuyerID,
		&p.Amount,
		&p.Currency,
		&method,
		&status,
		&reference,
		&p.AuthorizationURL,
		&response,
		&p.IdempotencyKey,
		&p.FailureReason,
		&metadata,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Method = Method(method)
	p.Status = Status(status)
	if reference != nil {
		p.Reference = *reference
	}
	if len(response) > 0 {
		p.ProviderResponse = json.RawMessage(response)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}

	return &p, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment by id %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1 FOR UPDATE`

	p, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock payment by reference %s: %w", reference, err)
	}
	return p, nil
}

func (r *postgresRepository) SetReference(ctx context.Context, id uuid.UUID, reference, authorizationURL string, providerResponse json.RawMessage) error {
	query := `
		UPDATE payments
		SET reference = $1,
			authorization_url = CASE WHEN $2::text = '' THEN authorization_url ELSE $2::text END,
			provider_response = COALESCE($3, provider_response),
			updated_at = $4
		WHERE id = $5 AND status = $6
	`
	cmdTag, err := r.db.Exec(ctx, query, reference, authorizationURL, nullableJSON(providerResponse), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("repository: failed to set reference on payment %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *postgresRepository) Complete(ctx context.Context, id uuid.UUID, providerResponse json.RawMessage, paidAt time.Time) error {
	query := `
		UPDATE payments
		SET status = $1, paid_at = $2, provider_response = COALESCE($3, provider_response), failure_reason = '', updated_at = $4
		WHERE id = $5 AND status = $6
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(StatusCompleted), paidAt.UTC(), nullableJSON(providerResponse), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == "payments_one_completed_per_order" {
			return ErrOrderAlreadyPaid
		}
		return fmt.Errorf("repository: failed to complete payment %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *postgresRepository) Fail(ctx context.Context, id uuid.UUID, reason string, providerResponse json.RawMessage) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, provider_response = COALESCE($3, provider_response), updated_at = $4
		WHERE id = $5 AND status = $6
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(StatusFailed), reason, nullableJSON(providerResponse), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("repository: failed to fail payment %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *postgresRepository) HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = $2)`
	if err := r.db.QueryRow(ctx, query, orderID, string(StatusCompleted)).Scan(&exists); err != nil {
		return false, fmt.Errorf("repository: failed to check completed payments for order %s: %w", orderID, err)
	}
	return exists, nil
}

func (r *postgresRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check payment %s: %w", id, err)
	}
	if !exists {
		return ErrPaymentNotFound
	}
	return ErrInvalidStateTransition
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *postgresRepository) ReleaseIdempotencyKey(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE payments SET idempotency_key = NULL, updated_at = $1 WHERE id = $2`
	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("repository: failed to release idempotency key of payment %s: %w", id, err)
	}
	return nil
}
