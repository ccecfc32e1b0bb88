package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

// Store persists key to entity mappings. Uniqueness of (kind, key) is
// enforced by the table's primary key, so a concurrent duplicate Save fails
// with ErrKeyExists instead of silently creating a second entity.
type Store interface {
	WithTx(tx db.DBTX) Store
	Lookup(ctx context.Context, kind Kind, key string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	// Release drops the key only while it still points at entityID.
	Release(ctx context.Context, kind Kind, key string, entityID uuid.UUID) error
}

type postgresStore struct {
	db db.DBTX
}

func NewStore(q db.DBTX) Store {
	return &postgresStore{db: q}
}

func (s *postgresStore) WithTx(tx db.DBTX) Store {
	return &postgresStore{db: tx}
}

func (s *postgresStore) Lookup(ctx context.Context, kind Kind, key string) (*Record, error) {
	query := `
		SELECT kind, key, buyer_id, entity_id, created_at
		FROM idempotency_records
		WHERE kind = $1 AND key = $2
	`
	var (
		rec     Record
		rawKind string
	)
	err := s.db.QueryRow(ctx, query, string(kind), key).Scan(&rawKind, &rec.Key, &rec.BuyerID, &rec.EntityID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("idempotency: failed to look up key: %w", err)
	}
	rec.Kind = Kind(rawKind)

	return &rec, nil
}

func (s *postgresStore) Save(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO idempotency_records (kind, key, buyer_id, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query, string(rec.Kind), rec.Key, rec.BuyerID, rec.EntityID, rec.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("idempotency: failed to save key: %w", err)
	}

	return nil
}

func (s *postgresStore) Release(ctx context.Context, kind Kind, key string, entityID uuid.UUID) error {
	query := `DELETE FROM idempotency_records WHERE kind = $1 AND key = $2 AND entity_id = $3`
	if _, err := s.db.Exec(ctx, query, string(kind), key, entityID); err != nil {
		return fmt.Errorf("idempotency: failed to release key: %w", err)
	}
	return nil
}
