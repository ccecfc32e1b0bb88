package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string) error
}

type CreatePaymentRequest struct {
	OrderID        string           `json:"order_id" validate:"required,uuid"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       string           `json:"currency" validate:"omitempty,len=3"`
	Method         string           `json:"method" validate:"required"`
	Email          string           `json:"email" validate:"omitempty,email"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type ProcessPaymentRequest struct {
	Email             string `json:"email" validate:"omitempty,email"`
	AuthorizationCode string `json:"authorization_code"`
	BankCode          string `json:"bank_code"`
	AccountNumber     string `json:"account_number" validate:"omitempty,numeric"`
}

type PaymentHandler struct {
	service  payment.Service
	webhooks WebhookReceiver
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service, webhooks WebhookReceiver) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		webhooks: webhooks,
		validate: validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments", h.handleCreatePayment)
	router.Get("/payments/{id}", h.handleGetPayment)
	router.Post("/payments/{id}/process", h.handleProcessPayment)
	router.Get("/payments/{id}/verify", h.handleVerifyPayment)
}

// RegisterWebhookRoutes mounts the provider callback. It is authenticated by
// signature, not by buyer.
func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := idempotencyKey(r, req.IdempotencyKey)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := payment.CreateInput{
		BuyerID:        buyerFrom(r.Context()),
		OrderID:        uuid.FromStringOrNil(req.OrderID),
		Currency:       req.Currency,
		Method:         method,
		Email:          req.Email,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}

	p, replayed, err := h.service.Create(r.Context(), in)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create payment")
		return
	}

	code := http.StatusCreated
	if replayed {
		code = http.StatusOK
	}
	respondWithJSON(w, code, p)
}

func (h *PaymentHandler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := parseIDParam(w, chi.URLParam(r, "id"), "payment_id")
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), buyerFrom(r.Context()), paymentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payment")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := parseIDParam(w, chi.URLParam(r, "id"), "payment_id")
	if !ok {
		return
	}

	var req ProcessPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	p, err := h.service.Process(r.Context(), buyerFrom(r.Context()), paymentID, payment.Details{
		Email:             req.Email,
		AuthorizationCode: req.AuthorizationCode,
		BankCode:          req.BankCode,
		AccountNumber:     req.AccountNumber,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to process payment")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := parseIDParam(w, chi.URLParam(r, "id"), "payment_id")
	if !ok {
		return
	}

	res, err := h.service.Verify(r.Context(), buyerFrom(r.Context()), paymentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to verify payment")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// handleWebhook answers 200 once the event is stored, whatever the outcome
// of dispatch, so the provider does not keep redelivering it.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = h.webhooks.Receive(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, gateway.ErrSignatureInvalid):
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, gateway.ErrMalformedEvent):
		respondWithError(w, http.StatusBadRequest, "Malformed event")
	default:
		log.Error().Err(err).Msg("Failed to accept webhook event")
		respondWithError(w, http.StatusInternalServerError, "Failed to accept event")
	}
}
