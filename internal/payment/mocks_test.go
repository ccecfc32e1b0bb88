package payment_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(tx db.DBTX) error) error {
	return fn(nil)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithTx(tx db.DBTX) payment.Repository { return m }

func (m *MockRepository) Create(ctx context.Context, p *payment.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*payment.Payment, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockRepository) SetReference(ctx context.Context, id uuid.UUID, reference, authorizationURL string, providerResponse json.RawMessage) error {
	return m.Called(ctx, id, reference, authorizationURL, providerResponse).Error(0)
}

func (m *MockRepository) Complete(ctx context.Context, id uuid.UUID, providerResponse json.RawMessage, paidAt time.Time) error {
	return m.Called(ctx, id, providerResponse, paidAt).Error(0)
}

func (m *MockRepository) Fail(ctx context.Context, id uuid.UUID, reason string, providerResponse json.RawMessage) error {
	return m.Called(ctx, id, reason, providerResponse).Error(0)
}

func (m *MockRepository) HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ReleaseIdempotencyKey(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockKeys struct {
	mock.Mock
}

func (m *MockKeys) WithTx(tx db.DBTX) idempotency.Store { return m }

func (m *MockKeys) Lookup(ctx context.Context, kind idempotency.Kind, key string) (*idempotency.Record, error) {
	args := m.Called(ctx, kind, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Record), args.Error(1)
}

func (m *MockKeys) Save(ctx context.Context, rec *idempotency.Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockKeys) Release(ctx context.Context, kind idempotency.Kind, key string, entityID uuid.UUID) error {
	return m.Called(ctx, kind, key, entityID).Error(0)
}

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) result(args mock.Arguments) (*gateway.Result, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Result), args.Error(1)
}

func (m *MockProvider) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error) {
	return m.result(m.Called(ctx, req))
}

func (m *MockProvider) ChargeAuthorization(ctx context.Context, req gateway.AuthorizationChargeRequest) (*gateway.Result, error) {
	return m.result(m.Called(ctx, req))
}

func (m *MockProvider) ChargeBank(ctx context.Context, req gateway.BankChargeRequest) (*gateway.Result, error) {
	return m.result(m.Called(ctx, req))
}

func (m *MockProvider) Verify(ctx context.Context, reference string) (*gateway.Result, error) {
	return m.result(m.Called(ctx, reference))
}

type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) Settle(ctx context.Context, res gateway.Result) error {
	return m.Called(ctx, res).Error(0)
}

func (m *MockSettler) Fail(ctx context.Context, res gateway.Result) error {
	return m.Called(ctx, res).Error(0)
}
