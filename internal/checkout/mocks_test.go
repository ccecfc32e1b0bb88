package checkout_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(tx db.DBTX) error) error {
	return fn(nil)
}

type MockCarts struct {
	mock.Mock
}

func (m *MockCarts) WithTx(tx db.DBTX) cart.Repository { return m }

func (m *MockCarts) GetByBuyer(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCarts) GetByBuyerForUpdate(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCarts) Create(ctx context.Context, buyerID uuid.UUID, expiresAt time.Time) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCarts) Reset(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	return m.Called(ctx, cartID, expiresAt).Error(0)
}

func (m *MockCarts) AddItem(ctx context.Context, item *cart.Item) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockCarts) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	return m.Called(ctx, cartID, itemID).Error(0)
}

func (m *MockCarts) Delete(ctx context.Context, cartID uuid.UUID) error {
	return m.Called(ctx, cartID).Error(0)
}

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) WithTx(tx db.DBTX) order.Repository { return m }

func (m *MockOrders) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockOrders) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrders) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, buyerID)
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from []order.OrderStatus, newStatus order.OrderStatus) error {
	return m.Called(ctx, id, from, newStatus).Error(0)
}

func (m *MockOrders) MarkProcessing(ctx context.Context, id uuid.UUID) error {
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

type MockStock struct {
	mock.Mock
}

func (m *MockStock) Lookup(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*inventory.StockLevel, error) {
	args := m.Called(ctx, productID, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.StockLevel), args.Error(1)
}

func (m *MockStock) Check(ctx context.Context, lines []inventory.Line) ([]inventory.StockLevel, error) {
	args := m.Called(ctx, lines)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.StockLevel), args.Error(1)
}

func (m *MockStock) Deduct(ctx context.Context, tx db.DBTX, lines []inventory.Line) error {
	return m.Called(ctx, tx, lines).Error(0)
}
