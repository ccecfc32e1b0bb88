package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"golang.org/x/sync/singleflight"
)

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

// Settler applies a definitive provider outcome. Settle is safe to call any
// number of times for the same reference.
type Settler interface {
	Settle(ctx context.Context, res gateway.Result) error
	Fail(ctx context.Context, res gateway.Result) error
}

type CreateInput struct {
	BuyerID        uuid.UUID
	OrderID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	Email          string
	Metadata       map[string]any
	IdempotencyKey *string
}

type VerifyResult struct {
	Verified   bool            `json:"verified"`
	Amount     decimal.Decimal `json:"amount"`
	Payment    *Payment        `json:"payment"`
	RawPayload json.RawMessage `json:"raw_provider_payload,omitempty"`
}

type Service interface {
	// Create returns the payment and whether it was replayed from an earlier
	// request carrying the same idempotency key.
	Create(ctx context.Context, in CreateInput) (*Payment, bool, error)
	Process(ctx context.Context, buyerID, id uuid.UUID, details Details) (*Payment, error)
	Verify(ctx context.Context, buyerID, id uuid.UUID) (*VerifyResult, error)
	Get(ctx context.Context, buyerID, id uuid.UUID) (*Payment, error)
}

type ServiceConfig struct {
	CallbackURL string
}

type service struct {
	tx       db.TxRunner
	repo     Repository
	keys     idempotency.Store
	orders   OrderReader
	provider gateway.Provider
	chargers Chargers
	settler  Settler
	cache    Cache
	cfg      ServiceConfig
	flight   singleflight.Group
}

func NewService(
	tx db.TxRunner,
	repo Repository,
	keys idempotency.Store,
	orders OrderReader,
	provider gateway.Provider,
	chargers Chargers,
	settler Settler,
	cache Cache,
	cfg ServiceConfig,
) Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &service{
		tx:       tx,
		repo:     repo,
		keys:     keys,
		orders:   orders,
		provider: provider,
		chargers: chargers,
		settler:  settler,
		cache:    cache,
		cfg:      cfg,
	}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*Payment, bool, error) {
	if in.IdempotencyKey != nil {
		p, err := s.replay(ctx, in.BuyerID, *in.IdempotencyKey)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, idempotency.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	o, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, false, order.ErrOrderNotFound
		}
		return nil, false, fmt.Errorf("service: failed to get order for payment: %w", err)
	}
	if o.BuyerID != in.BuyerID {
		log.Warn().Stringer("order_id", o.ID).Stringer("buyer_id", in.BuyerID).Msg("service: payment requested for another buyer's order")
		return nil, false, order.ErrOrderNotFound
	}
	if !o.IsPayable() {
		return nil, false, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, o.Status)
	}
	paid, err := s.repo.HasCompleted(ctx, o.ID)
	if err != nil {
		return nil, false, fmt.Errorf("service: failed to check order payments: %w", err)
	}
	if paid {
		return nil, false, fmt.Errorf("%w: %w", ErrOrderNotPayable, ErrOrderAlreadyPaid)
	}

	amount := in.Amount
	if amount.IsZero() {
		amount = o.Total
	}
	if !amount.Equal(o.Total) {
		return nil, false, fmt.Errorf("%w: expected %s, got %s", ErrInvalidAmount, o.Total.StringFixed(2), amount.StringFixed(2))
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = o.Currency
	}
	if currency != o.Currency {
		return nil, false, fmt.Errorf("%w: expected %s, got %s", ErrCurrencyMismatch, o.Currency, currency)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, fmt.Errorf("service: failed to generate payment ID: %w", err)
	}
	metadata := in.Metadata
	if in.Email != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["email"] = in.Email
	}
	p := &Payment{
		ID:             id,
		OrderID:        o.ID,
		BuyerID:        in.BuyerID,
		Amount:         amount,
		Currency:       currency,
		Method:         in.Method,
		Status:         StatusPending,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       metadata,
	}

	err = s.tx.InTx(ctx, func(tx db.DBTX) error {
		if err := s.repo.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}
		if in.IdempotencyKey == nil {
			return nil
		}
		return s.keys.WithTx(tx).Save(ctx, &idempotency.Record{
			Kind:     idempotency.KindPaymentCreate,
			Key:      *in.IdempotencyKey,
			BuyerID:  in.BuyerID,
			EntityID: p.ID,
		})
	})
	if err != nil {
		if in.IdempotencyKey != nil && (errors.Is(err, idempotency.ErrKeyExists) || errors.Is(err, ErrIdempotencyKeyConflict)) {
			log.Info().Str("idempotency_key", *in.IdempotencyKey).Msg("service: concurrent payment create lost the race, replaying")
			replayed, rerr := s.replay(ctx, in.BuyerID, *in.IdempotencyKey)
			if rerr != nil {
				return nil, false, rerr
			}
			return replayed, true, nil
		}
		return nil, false, fmt.Errorf("service: failed to create payment: %w", err)
	}

	log.Info().Stringer("payment_id", p.ID).Stringer("order_id", o.ID).Stringer("method", p.Method).Msg("service: payment created")

	if !p.Method.InitiatesOnCreate() {
		return p, false, nil
	}

	if err := s.initiate(ctx, p, in.Email); err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// initiate opens the provider session for a card payment. A hard provider
// error fails the payment so it is never left pending without a reference.
func (s *service) initiate(ctx context.Context, p *Payment, email string) error {
	reference := NewReference(p.ID)
	res, err := s.provider.Initiate(ctx, gateway.InitiateRequest{
		Reference:   reference,
		Email:       email,
		Amount:      p.Amount,
		Currency:    p.Currency,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]any{"order_id": p.OrderID.String(), "payment_id": p.ID.String()},
	})
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", p.ID).Msg("service: provider initiate failed")
		s.abandon(ctx, p, err.Error())
		return err
	}

	if err := s.repo.SetReference(ctx, p.ID, res.Reference, res.AuthorizationURL, res.RawPayload); err != nil {
		return fmt.Errorf("service: failed to store provider reference: %w", err)
	}
	p.Reference = res.Reference
	p.AuthorizationURL = res.AuthorizationURL
	p.ProviderResponse = res.RawPayload
	return nil
}

// abandon fails a payment whose provider session never opened and releases
// its idempotency key, so a retry with the same key makes a fresh attempt
// instead of replaying the failure.
func (s *service) abandon(ctx context.Context, p *Payment, reason string) {
	ctx = context.WithoutCancel(ctx)
	err := s.tx.InTx(ctx, func(tx db.DBTX) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Fail(ctx, p.ID, reason, nil); err != nil {
			return err
		}
		if p.IdempotencyKey == nil {
			return nil
		}
		if err := repo.ReleaseIdempotencyKey(ctx, p.ID); err != nil {
			return err
		}
		return s.keys.WithTx(tx).Release(ctx, idempotency.KindPaymentCreate, *p.IdempotencyKey, p.ID)
	})
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", p.ID).Msg("service: failed to mark payment failed after initiate error")
	}
}

func (s *service) replay(ctx context.Context, buyerID uuid.UUID, key string) (*Payment, error) {
	rec, err := s.keys.Lookup(ctx, idempotency.KindPaymentCreate, key)
	if err != nil {
		return nil, err
	}
	id, err := rec.Replay(buyerID)
	if err != nil {
		log.Warn().Str("idempotency_key", key).Stringer("buyer_id", buyerID).Msg("service: payment idempotency key reused by another buyer")
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load replayed payment: %w", err)
	}
	log.Info().Stringer("payment_id", p.ID).Str("idempotency_key", key).Msg("service: payment create replayed")
	return p, nil
}

func (s *service) Process(ctx context.Context, buyerID, id uuid.UUID, details Details) (*Payment, error) {
	p, err := s.owned(ctx, buyerID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentNotPending, p.Status)
	}

	charger, err := s.chargers.For(p.Method)
	if err != nil {
		return nil, err
	}
	if details.Email == "" {
		if email, ok := p.Metadata["email"].(string); ok {
			details.Email = email
		}
	}

	reference := p.Reference
	if reference == "" {
		reference = NewReference(p.ID)
		if err := s.repo.SetReference(ctx, p.ID, reference, "", nil); err != nil {
			return nil, fmt.Errorf("service: failed to reserve provider reference: %w", err)
		}
	}
	defer s.invalidate(ctx, p.ID)

	res, err := charger.Charge(ctx, p, reference, details)
	if err != nil {
		if errors.Is(err, ErrMissingDetails) {
			return nil, err
		}
		log.Error().Err(err).Stringer("payment_id", p.ID).Str("reference", reference).Msg("service: provider charge failed")
		if ferr := s.repo.Fail(ctx, p.ID, err.Error(), nil); ferr != nil && !errors.Is(ferr, ErrInvalidStateTransition) {
			log.Error().Err(ferr).Stringer("payment_id", p.ID).Msg("service: failed to mark payment failed after charge error")
		}
		return nil, err
	}
	if res.Reference == "" {
		res.Reference = reference
	}

	if err := s.apply(ctx, p, res); err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, p.ID)
}

// apply routes a charge outcome. Pending outcomes only record the provider
// payload; the definitive result arrives through verify or the webhook.
func (s *service) apply(ctx context.Context, p *Payment, res *gateway.Result) error {
	switch res.Status {
	case gateway.StatusSuccess:
		if err := s.settler.Settle(ctx, *res); err != nil {
			if errors.Is(err, ErrAmountMismatch) || errors.Is(err, ErrSettlementRejected) {
				log.Warn().Err(err).Stringer("payment_id", p.ID).Msg("service: captured charge was not settled")
				return nil
			}
			return fmt.Errorf("service: failed to settle payment: %w", err)
		}
	case gateway.StatusFailed:
		if err := s.settler.Fail(ctx, *res); err != nil {
			return fmt.Errorf("service: failed to record failed payment: %w", err)
		}
	default:
		if err := s.repo.SetReference(ctx, p.ID, res.Reference, res.AuthorizationURL, res.RawPayload); err != nil {
			return fmt.Errorf("service: failed to store pending charge: %w", err)
		}
		log.Info().Stringer("payment_id", p.ID).Str("reference", res.Reference).Msg("service: charge awaiting provider confirmation")
	}
	return nil
}

func (s *service) Verify(ctx context.Context, buyerID, id uuid.UUID) (*VerifyResult, error) {
	if _, err := s.owned(ctx, buyerID, id); err != nil {
		return nil, err
	}

	// The flight outlives the caller that started it.
	v, err, shared := s.flight.Do("verify:"+id.String(), func() (any, error) {
		return s.verify(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Stringer("payment_id", id).Msg("service: verify result shared with concurrent caller")
	}
	return v.(*VerifyResult), nil
}

func (s *service) verify(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Status == StatusCompleted:
		return &VerifyResult{Verified: true, Amount: p.Amount, Payment: p, RawPayload: p.ProviderResponse}, nil
	case p.Status.IsTerminal():
		return &VerifyResult{Verified: false, Amount: p.Amount, Payment: p, RawPayload: p.ProviderResponse}, nil
	case p.Reference == "":
		return nil, ErrNoReference
	}

	res, err := s.provider.Verify(ctx, p.Reference)
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", p.ID).Str("reference", p.Reference).Msg("service: provider verify failed")
		return nil, err
	}

	switch res.Status {
	case gateway.StatusSuccess:
		err := s.settler.Settle(ctx, *res)
		if err != nil && !errors.Is(err, ErrAmountMismatch) && !errors.Is(err, ErrSettlementRejected) {
			return nil, fmt.Errorf("service: failed to settle verified payment: %w", err)
		}
		s.invalidate(ctx, p.ID)
	case gateway.StatusFailed:
		if err := s.settler.Fail(ctx, *res); err != nil {
			return nil, fmt.Errorf("service: failed to record failed payment: %w", err)
		}
		s.invalidate(ctx, p.ID)
	}

	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Verified:   current.Status == StatusCompleted,
		Amount:     res.Amount,
		Payment:    current,
		RawPayload: res.RawPayload,
	}, nil
}

// Get serves reads through the cache. Concurrent misses for one payment share
// a single database read.
func (s *service) Get(ctx context.Context, buyerID, id uuid.UUID) (*Payment, error) {
	p, err := s.cache.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Stringer("payment_id", id).Msg("service: payment cache read failed")
		}
		v, ferr, _ := s.flight.Do("get:"+id.String(), func() (any, error) {
			ctx := context.WithoutCancel(ctx)
			loaded, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if err := s.cache.Set(ctx, loaded); err != nil {
				log.Warn().Err(err).Stringer("payment_id", id).Msg("service: payment cache write failed")
			}
			return loaded, nil
		})
		if ferr != nil {
			if errors.Is(ferr, ErrPaymentNotFound) {
				return nil, ErrPaymentNotFound
			}
			return nil, fmt.Errorf("service: failed to get payment: %w", ferr)
		}
		p = v.(*Payment)
	}

	if p.BuyerID != buyerID {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) owned(ctx context.Context, buyerID, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("service: failed to get payment: %w", err)
	}
	if p.BuyerID != buyerID {
		log.Warn().Stringer("payment_id", id).Stringer("buyer_id", buyerID).Msg("service: payment belongs to another buyer")
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Stringer("payment_id", id).Msg("service: payment cache invalidation failed")
	}
}
