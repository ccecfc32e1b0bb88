package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

// BuyerHeader carries the authenticated buyer id set by the gateway in front
// of this service.
const BuyerHeader = "X-Buyer-ID"

const maxBodyBytes = 1 << 20

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "gt":
			details[field] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "len":
			details[field] = fmt.Sprintf("must be exactly %s characters", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("must be one of [%s]", fe.Param())
		case "uuid", "uuid4":
			details[field] = "must be a valid UUID"
		case "email":
			details[field] = "must be a valid email address"
		default:
			details[field] = fmt.Sprintf("failed on the '%s' tag", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the handler may
// continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}

	return true
}

func parseIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

// idempotencyKey prefers the request header over the body field.
func idempotencyKey(r *http.Request, fromBody string) (*string, error) {
	if header := r.Header.Get(idempotency.Header); strings.TrimSpace(header) != "" {
		return idempotency.NormalizeKey(header)
	}
	return idempotency.NormalizeKey(fromBody)
}

type buyerKey struct{}

// RequireBuyer rejects requests without a valid buyer id and stores it on
// the request context.
func RequireBuyer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(BuyerHeader)
		buyerID, err := uuid.FromString(raw)
		if err != nil || buyerID == uuid.Nil {
			respondWithError(w, http.StatusUnauthorized, "Missing or invalid "+BuyerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), buyerKey{}, buyerID)))
	})
}

func buyerFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(buyerKey{}).(uuid.UUID)
	return id
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, cart.ErrCartItemNotFound),
		errors.Is(err, inventory.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, cart.ErrOutOfStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrCartEmpty),
		errors.Is(err, checkout.ErrCartExpired),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, payment.ErrInvalidMethod),
		errors.Is(err, payment.ErrUnsupportedMethod),
		errors.Is(err, payment.ErrMissingDetails),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrCurrencyMismatch),
		errors.Is(err, idempotency.ErrKeyTooLong):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidStateTransition),
		errors.Is(err, payment.ErrInvalidStateTransition),
		errors.Is(err, payment.ErrOrderNotPayable),
		errors.Is(err, payment.ErrPaymentNotPending),
		errors.Is(err, payment.ErrOrderAlreadyPaid),
		errors.Is(err, payment.ErrNoReference),
		errors.Is(err, payment.ErrIdempotencyKeyConflict),
		errors.Is(err, order.ErrIdempotencyKeyConflict),
		errors.Is(err, idempotency.ErrKeyReused),
		errors.Is(err, idempotency.ErrKeyExists):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError maps err and hides internal detail from clients.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)

	switch {
	case code >= http.StatusInternalServerError && code != http.StatusBadGateway:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, code, fallback)
	case code == http.StatusBadGateway:
		log.Error().Err(err).Msg("Payment provider call failed")
		respondWithError(w, code, "Payment provider unavailable")
	case errors.Is(err, order.ErrInvalidStateTransition), errors.Is(err, payment.ErrInvalidStateTransition):
		log.Error().Err(err).Msg("Rejected state transition")
		respondWithError(w, code, err.Error())
	default:
		log.Warn().Err(err).Msg(fallback)
		respondWithError(w, code, err.Error())
	}
}
