package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/ledger"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type LedgerReader interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ledger.Transaction, error)
}

type OrderHandler struct {
	service  order.Service
	ledger   LedgerReader
	validate *validator.Validate
}

func NewOrderHandler(service order.Service, ledger LedgerReader) *OrderHandler {
	return &OrderHandler{
		service:  service,
		ledger:   ledger,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Get("/orders/{id}/transactions", h.handleListTransactions)
}

// RegisterFulfillmentRoutes mounts the status endpoint used by shipping and
// returns services. It carries no buyer scope.
func (h *OrderHandler) RegisterFulfillmentRoutes(router chi.Router) {
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), buyerFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order_id")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), buyerFrom(r.Context()), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

// handleListTransactions returns the per-seller ledger rows written when the
// order was paid.
func (h *OrderHandler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order_id")
	if !ok {
		return
	}

	if _, err := h.service.GetOrder(r.Context(), buyerFrom(r.Context()), orderID); err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	txs, err := h.ledger.ListByOrder(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, chi.URLParam(r, "id"), "order_id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), orderID, status)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}
