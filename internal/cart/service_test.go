package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithTx(tx db.DBTX) cart.Repository { return m }

func (m *MockRepository) GetByBuyer(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockRepository) GetByBuyerForUpdate(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, buyerID uuid.UUID, expiresAt time.Time) (*cart.Cart, error) {
	args := m.Called(ctx, buyerID, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockRepository) Reset(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	return m.Called(ctx, cartID, expiresAt).Error(0)
}

func (m *MockRepository) AddItem(ctx context.Context, item *cart.Item) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockRepository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	return m.Called(ctx, cartID, itemID).Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	return m.Called(ctx, cartID).Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Lookup(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*inventory.StockLevel, error) {
	args := m.Called(ctx, productID, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.StockLevel), args.Error(1)
}

func TestService_AddItem_CreatesCartWithPriceSnapshot(t *testing.T) {
	repo := new(MockRepository)
	catalog := new(MockCatalog)
	svc := cart.NewService(repo, catalog)

	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	created := &cart.Cart{ID: uuid.Must(uuid.NewV4()), BuyerID: buyerID, Items: []cart.Item{}}
	price := decimal.RequireFromString("29.99")

	catalog.On("Lookup", mock.Anything, productID, uuid.NullUUID{}).
		Return(&inventory.StockLevel{ProductID: productID, UnitPrice: price, Quantity: 5}, nil).Once()
	repo.On("GetByBuyer", mock.Anything, buyerID).Return(nil, cart.ErrCartNotFound).Once()
	repo.On("Create", mock.Anything, buyerID, mock.AnythingOfType("time.Time")).Return(created, nil).Once()
	repo.On("AddItem", mock.Anything, mock.MatchedBy(func(item *cart.Item) bool {
		return item.CartID == created.ID && item.Quantity == 2 && item.ProductPrice.Equal(price)
	})).Return(nil).Once()

	withItem := &cart.Cart{
		ID:        created.ID,
		BuyerID:   buyerID,
		ExpiresAt: time.Now().Add(time.Hour),
		Items:     []cart.Item{{ProductID: productID, Quantity: 2, ProductPrice: price}},
	}
	repo.On("GetByBuyer", mock.Anything, buyerID).Return(withItem, nil).Once()

	got, err := svc.AddItem(context.Background(), buyerID, cart.AddItemInput{ProductID: productID, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "59.98", got.Subtotal().StringFixed(2))
	repo.AssertExpectations(t)
	catalog.AssertExpectations(t)
}

func TestService_AddItem_Validation(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	t.Run("non-positive quantity", func(t *testing.T) {
		svc := cart.NewService(new(MockRepository), new(MockCatalog))
		_, err := svc.AddItem(context.Background(), buyerID, cart.AddItemInput{ProductID: productID, Quantity: 0})
		require.ErrorIs(t, err, cart.ErrInvalidQuantity)
	})

	t.Run("unknown product", func(t *testing.T) {
		catalog := new(MockCatalog)
		catalog.On("Lookup", mock.Anything, productID, uuid.NullUUID{}).Return(nil, inventory.ErrProductNotFound).Once()
		svc := cart.NewService(new(MockRepository), catalog)

		_, err := svc.AddItem(context.Background(), buyerID, cart.AddItemInput{ProductID: productID, Quantity: 1})
		require.ErrorIs(t, err, inventory.ErrProductNotFound)
	})

	t.Run("more than available", func(t *testing.T) {
		catalog := new(MockCatalog)
		catalog.On("Lookup", mock.Anything, productID, uuid.NullUUID{}).
			Return(&inventory.StockLevel{ProductID: productID, UnitPrice: decimal.NewFromInt(1), Quantity: 1}, nil).Once()
		svc := cart.NewService(new(MockRepository), catalog)

		_, err := svc.AddItem(context.Background(), buyerID, cart.AddItemInput{ProductID: productID, Quantity: 4})
		require.ErrorIs(t, err, cart.ErrOutOfStock)
	})
}

func TestService_GetCart(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())

	t.Run("missing cart is empty", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByBuyer", mock.Anything, buyerID).Return(nil, cart.ErrCartNotFound).Once()

		got, err := cart.NewService(repo, new(MockCatalog)).GetCart(context.Background(), buyerID)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})

	t.Run("expired cart is empty", func(t *testing.T) {
		repo := new(MockRepository)
		expired := &cart.Cart{
			ID:        uuid.Must(uuid.NewV4()),
			BuyerID:   buyerID,
			ExpiresAt: time.Now().Add(-time.Minute),
			Items:     []cart.Item{{Quantity: 1, ProductPrice: decimal.NewFromInt(3)}},
		}
		repo.On("GetByBuyer", mock.Anything, buyerID).Return(expired, nil).Once()

		got, err := cart.NewService(repo, new(MockCatalog)).GetCart(context.Background(), buyerID)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})
}

func TestService_RemoveItem_NotFound(t *testing.T) {
	repo := new(MockRepository)
	buyerID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	c := &cart.Cart{ID: uuid.Must(uuid.NewV4()), BuyerID: buyerID}

	repo.On("GetByBuyer", mock.Anything, buyerID).Return(c, nil).Once()
	repo.On("RemoveItem", mock.Anything, c.ID, itemID).Return(cart.ErrCartItemNotFound).Once()

	_, err := cart.NewService(repo, new(MockCatalog)).RemoveItem(context.Background(), buyerID, itemID)
	require.ErrorIs(t, err, cart.ErrCartItemNotFound)
	repo.AssertExpectations(t)
}
