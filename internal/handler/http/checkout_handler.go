package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type Checkouter interface {
	Checkout(ctx context.Context, in checkout.Input) (*checkout.Result, error)
}

type AddressRequest struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,min=2"`
	Phone      string `json:"phone"`
}

func (a AddressRequest) toAddress() order.Address {
	return order.Address{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type CheckoutRequest struct {
	ShippingAddress AddressRequest  `json:"shipping_address"`
	BillingAddress  *AddressRequest `json:"billing_address,omitempty" validate:"omitempty"`
	Notes           string          `json:"notes" validate:"max=1000"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

type AddCartItemRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid"`
	VariantID *string `json:"variant_id,omitempty" validate:"omitempty,uuid"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
}

type CheckoutHandler struct {
	checkout Checkouter
	carts    cart.Service
	validate *validator.Validate
}

func NewCheckoutHandler(checkout Checkouter, carts cart.Service) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		carts:    carts,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
	router.Get("/cart", h.handleGetCart)
	router.Post("/cart/items", h.handleAddCartItem)
	router.Delete("/cart/items/{id}", h.handleRemoveCartItem)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	key, err := idempotencyKey(r, req.IdempotencyKey)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	shipping := req.ShippingAddress.toAddress()
	billing := shipping
	if req.BillingAddress != nil {
		billing = req.BillingAddress.toAddress()
	}

	res, err := h.checkout.Checkout(r.Context(), checkout.Input{
		BuyerID:         buyerFrom(r.Context()),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CustomerNote:    req.Notes,
		IdempotencyKey:  key,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to check out")
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	respondWithJSON(w, code, res.Order)
}

func (h *CheckoutHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCart(r.Context(), buyerFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CheckoutHandler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	input := cart.AddItemInput{
		ProductID: uuid.FromStringOrNil(req.ProductID),
		Quantity:  req.Quantity,
	}
	if req.VariantID != nil {
		input.VariantID = uuid.NullUUID{UUID: uuid.FromStringOrNil(*req.VariantID), Valid: true}
	}

	c, err := h.carts.AddItem(r.Context(), buyerFrom(r.Context()), input)
	if err != nil {
		respondWithServiceError(w, err, "Failed to add cart item")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CheckoutHandler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseIDParam(w, chi.URLParam(r, "id"), "item_id")
	if !ok {
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), buyerFrom(r.Context()), itemID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}

	log.Info().Stringer("item_id", itemID).Msg("Cart item removed")
	respondWithJSON(w, http.StatusOK, c)
}
