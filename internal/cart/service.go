package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
)

// Catalog resolves the current price and availability of a product variant.
type Catalog interface {
	Lookup(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*inventory.StockLevel, error)
}

type AddItemInput struct {
	ProductID uuid.UUID
	VariantID uuid.NullUUID
	Quantity  int
}

type Service interface {
	GetCart(ctx context.Context, buyerID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Cart, error)
	RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*Cart, error)
}

type service struct {
	repo    Repository
	catalog Catalog
	ttl     time.Duration
	now     func() time.Time
}

func NewService(repo Repository, catalog Catalog) Service {
	return &service{
		repo:    repo,
		catalog: catalog,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// GetCart returns the buyer's cart. A missing or expired cart is returned
// as an empty one.
func (s *service) GetCart(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return &Cart{BuyerID: buyerID, Items: []Item{}}, nil
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	if c.Expired(s.now()) {
		c.Items = []Item{}
	}

	return c, nil
}

func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Cart, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	level, err := s.catalog.Lookup(ctx, input.ProductID, input.VariantID)
	if err != nil {
		return nil, err
	}
	if level.Quantity < input.Quantity {
		log.Warn().
			Stringer("buyer_id", buyerID).
			Stringer("product_id", input.ProductID).
			Int("available", level.Quantity).
			Int("requested", input.Quantity).
			Msg("service: cart add exceeds available stock")
		return nil, fmt.Errorf("%w: only %d available", ErrOutOfStock, level.Quantity)
	}

	c, err := s.activeCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	item := &Item{
		CartID:       c.ID,
		ProductID:    input.ProductID,
		VariantID:    input.VariantID,
		Quantity:     input.Quantity,
		ProductPrice: level.UnitPrice,
	}
	if err := s.repo.AddItem(ctx, item); err != nil {
		return nil, fmt.Errorf("service: failed to add cart item: %w", err)
	}

	log.Info().
		Stringer("buyer_id", buyerID).
		Stringer("product_id", input.ProductID).
		Int("quantity", item.Quantity).
		Msg("service: cart item added")

	return s.GetCart(ctx, buyerID)
}

func (s *service) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	if err := s.repo.RemoveItem(ctx, c.ID, itemID); err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("service: failed to remove cart item: %w", err)
	}

	return s.GetCart(ctx, buyerID)
}

// activeCart returns the buyer's cart, creating it if needed and starting it
// over when it has expired.
func (s *service) activeCart(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	expiresAt := s.now().Add(s.ttl).UTC()

	c, err := s.repo.GetByBuyer(ctx, buyerID)
	if errors.Is(err, ErrCartNotFound) {
		c, err = s.repo.Create(ctx, buyerID, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("service: failed to create cart: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	if c.Expired(s.now()) {
		if err := s.repo.Reset(ctx, c.ID, expiresAt); err != nil {
			return nil, fmt.Errorf("service: failed to reset expired cart: %w", err)
		}
		log.Info().Stringer("cart_id", c.ID).Msg("service: expired cart started over")
		c.Items = []Item{}
		c.ExpiresAt = expiresAt
	}

	return c, nil
}
