package settlement_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/ledger"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/settlement"
)

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(tx db.DBTX) error) error {
	return fn(nil)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) WithTx(tx db.DBTX) payment.Repository { return m }

func (m *MockPayments) Create(ctx context.Context, p *payment.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPayments) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPayments) GetByReferenceForUpdate(ctx context.Context, reference string) (*payment.Payment, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPayments) SetReference(ctx context.Context, id uuid.UUID, reference, authorizationURL string, providerResponse json.RawMessage) error {
	return m.Called(ctx, id, reference, authorizationURL, providerResponse).Error(0)
}

func (m *MockPayments) Complete(ctx context.Context, id uuid.UUID, providerResponse json.RawMessage, paidAt time.Time) error {
	return m.Called(ctx, id, providerResponse, paidAt).Error(0)
}

func (m *MockPayments) Fail(ctx context.Context, id uuid.UUID, reason string, providerResponse json.RawMessage) error {
	return m.Called(ctx, id, reason, providerResponse).Error(0)
}

func (m *MockPayments) HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPayments) ReleaseIdempotencyKey(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
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
	return m.Called(ctx, lines).Error(0)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Append(ctx context.Context, tx db.DBTX, o *order.Order, e ledger.Entry) ([]ledger.Transaction, error) {
	args := m.Called(ctx, o, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Transaction), args.Error(1)
}

type capturePublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, evs...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []events.Type {
	out := make([]events.Type, 0, len(p.published))
	for _, e := range p.published {
		out = append(out, e.Type)
	}
	return out
}

type MockInbox struct {
	mock.Mock
}

func (m *MockInbox) Store(ctx context.Context, ev *settlement.InboxEvent) error {
	args := m.Called(ctx, ev)
	if ev.ID == uuid.Nil {
		ev.ID = uuid.Must(uuid.NewV4())
	}
	return args.Error(0)
}

func (m *MockInbox) Finish(ctx context.Context, id uuid.UUID, processed bool, errMsg string) error {
	return m.Called(ctx, id, processed, errMsg).Error(0)
}

func (m *MockInbox) ListUnprocessed(ctx context.Context, limit int) ([]settlement.InboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]settlement.InboxEvent), args.Error(1)
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
