package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

const (
	resultProcessed = "processed"
	resultRejected  = "rejected"
	resultDeferred  = "deferred"
	resultIgnored   = "ignored"
)

// Receiver authenticates provider callbacks, keeps them in the inbox and
// hands them to the settler.
type Receiver struct {
	secret  string
	inbox   Inbox
	settler payment.Settler
	metrics *metrics.Metrics
}

func NewReceiver(secret string, inbox Inbox, settler payment.Settler, m *metrics.Metrics) *Receiver {
	return &Receiver{
		secret:  secret,
		inbox:   inbox,
		settler: settler,
		metrics: m,
	}
}

// Receive returns gateway.ErrSignatureInvalid or gateway.ErrMalformedEvent
// for callbacks that must not be processed, and an error only when the event
// could not be stored. Dispatch failures are kept on the inbox row.
func (w *Receiver) Receive(ctx context.Context, body []byte, signature string) error {
	if err := gateway.VerifySignature(w.secret, body, signature); err != nil {
		w.metrics.WebhookEvent("unknown", resultRejected)
		log.Warn().Int("body_bytes", len(body)).Msg("webhook: signature verification failed")
		return err
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		w.metrics.WebhookEvent("unknown", resultRejected)
		log.Warn().Err(err).Msg("webhook: malformed event")
		return err
	}

	rec := &InboxEvent{Event: ev.Type, Reference: ev.Result.Reference, Payload: body}
	if err := w.inbox.Store(ctx, rec); err != nil {
		log.Error().Err(err).Str("event", ev.Type).Str("reference", ev.Result.Reference).Msg("webhook: failed to store event")
		return err
	}

	w.process(ctx, rec.ID, ev)
	return nil
}

func (w *Receiver) process(ctx context.Context, id uuid.UUID, ev *gateway.Event) {
	err := w.dispatch(ctx, ev)

	processed, result, errMsg := true, resultProcessed, ""
	switch {
	case errors.Is(err, errUnhandledEvent):
		result = resultIgnored
	case err == nil:
	case permanent(err):
		result, errMsg = resultRejected, err.Error()
		log.Warn().Err(err).Str("event", ev.Type).Str("reference", ev.Result.Reference).Msg("webhook: event rejected")
	default:
		processed, result, errMsg = false, resultDeferred, err.Error()
		log.Error().Err(err).Str("event", ev.Type).Str("reference", ev.Result.Reference).Msg("webhook: dispatch failed, will retry")
	}

	w.metrics.WebhookEvent(ev.Type, result)
	if ferr := w.inbox.Finish(ctx, id, processed, errMsg); ferr != nil {
		log.Error().Err(ferr).Stringer("event_id", id).Msg("webhook: failed to record dispatch result")
	}
}

var errUnhandledEvent = errors.New("unhandled webhook event")

func (w *Receiver) dispatch(ctx context.Context, ev *gateway.Event) error {
	switch ev.Type {
	case gateway.EventChargeSuccess:
		return w.settler.Settle(ctx, ev.Result)
	case gateway.EventChargeFailed:
		return w.settler.Fail(ctx, ev.Result)
	case gateway.EventTransferSuccess:
		log.Info().Str("reference", ev.Result.Reference).Msg("webhook: transfer succeeded")
		return nil
	default:
		log.Debug().Str("event", ev.Type).Msg("webhook: event not handled")
		return errUnhandledEvent
	}
}

// permanent reports errors that a later retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, payment.ErrPaymentNotFound) ||
		errors.Is(err, payment.ErrAmountMismatch) ||
		errors.Is(err, payment.ErrSettlementRejected) ||
		errors.Is(err, payment.ErrOrderAlreadyPaid) ||
		errors.Is(err, payment.ErrOrderNotPayable) ||
		errors.Is(err, inventory.ErrInsufficientStock) ||
		errors.Is(err, order.ErrInvalidStateTransition)
}

// Redeliver dispatches stored events whose earlier dispatch failed.
func (w *Receiver) Redeliver(ctx context.Context, limit int) (int, error) {
	pending, err := w.inbox.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, err
	}

	for _, rec := range pending {
		ev, err := gateway.ParseEvent(rec.Payload)
		if err != nil {
			if ferr := w.inbox.Finish(ctx, rec.ID, true, err.Error()); ferr != nil {
				return 0, fmt.Errorf("webhook: failed to discard unreadable event %s: %w", rec.ID, ferr)
			}
			continue
		}
		w.process(ctx, rec.ID, ev)
	}
	return len(pending), nil
}

// Run redelivers failed events on every tick until ctx is done.
func (w *Receiver) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := w.Redeliver(ctx, batch)
			if err != nil {
				log.Error().Err(err).Msg("webhook: redelivery failed")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("webhook: redelivered stored events")
			}
		case <-ctx.Done():
			return
		}
	}
}
