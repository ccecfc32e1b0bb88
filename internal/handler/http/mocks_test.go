package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/ledger"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

type MockCheckouter struct {
	mock.Mock
}

func (m *MockCheckouter) Checkout(ctx context.Context, in checkout.Input) (*checkout.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) GetCart(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) AddItem(ctx context.Context, buyerID uuid.UUID, input cart.AddItemInput) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrder(ctx context.Context, buyerID, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, buyerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, buyerID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus order.OrderStatus) (*order.Order, error) {
	args := m.Called(ctx, id, newStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Create(ctx context.Context, in payment.CreateInput) (*payment.Payment, bool, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*payment.Payment), args.Bool(1), args.Error(2)
}

func (m *MockPaymentService) Process(ctx context.Context, buyerID, id uuid.UUID, details payment.Details) (*payment.Payment, error) {
	args := m.Called(ctx, buyerID, id, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentService) Verify(ctx context.Context, buyerID, id uuid.UUID) (*payment.VerifyResult, error) {
	args := m.Called(ctx, buyerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.VerifyResult), args.Error(1)
}

func (m *MockPaymentService) Get(ctx context.Context, buyerID, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, buyerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

type MockReceiver struct {
	mock.Mock
}

func (m *MockReceiver) Receive(ctx context.Context, body []byte, signature string) error {
	return m.Called(ctx, body, signature).Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ledger.Transaction, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Transaction), args.Error(1)
}
