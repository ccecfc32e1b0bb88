package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/ledger"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
)

const defaultPublishTimeout = 5 * time.Second

// Reconciler is the only writer of settlement side effects. Both the verify
// call and the provider webhook end up here, and the payment row lock taken
// at the start of each transaction serializes them.
type Reconciler struct {
	tx             db.TxRunner
	payments       payment.Repository
	orders         order.Repository
	stock          inventory.Ledger
	recorder       ledger.Recorder
	publisher      events.Publisher
	cache          payment.Cache
	metrics        *metrics.Metrics
	publishTimeout time.Duration
	now            func() time.Time
}

func NewReconciler(
	tx db.TxRunner,
	payments payment.Repository,
	orders order.Repository,
	stock inventory.Ledger,
	recorder ledger.Recorder,
	publisher events.Publisher,
	cache payment.Cache,
	m *metrics.Metrics,
) *Reconciler {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	if cache == nil {
		cache = payment.NopCache{}
	}
	return &Reconciler{
		tx:             tx,
		payments:       payments,
		orders:         orders,
		stock:          stock,
		recorder:       recorder,
		publisher:      publisher,
		cache:          cache,
		metrics:        m,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
}

type settled struct {
	payment *payment.Payment
	order   *order.Order
	txns    []ledger.Transaction
}

// Settle applies a successful provider result. A payment that is already
// completed makes this a no-op, so duplicate webhooks and a verify racing a
// webhook are harmless.
func (r *Reconciler) Settle(ctx context.Context, res gateway.Result) error {
	var (
		outcome  string
		locked   *payment.Payment
		done     *settled
		mismatch error
	)

	err := r.tx.InTx(ctx, func(tx db.DBTX) error {
		payments := r.payments.WithTx(tx)

		p, err := payments.GetByReferenceForUpdate(ctx, res.Reference)
		if err != nil {
			return err
		}
		locked = p

		switch p.Status {
		case payment.StatusPending:
		case payment.StatusCompleted:
			outcome = metrics.OutcomeDuplicate
			return nil
		default:
			outcome = metrics.OutcomeIgnored
			log.Warn().Stringer("payment_id", p.ID).Stringer("status", p.Status).Str("reference", res.Reference).
				Msg("settlement: success reported for a payment that is no longer pending")
			return nil
		}

		if mismatch = checkAmount(p, res); mismatch != nil {
			outcome = metrics.OutcomeAmountMismatch
			return payments.Fail(ctx, p.ID, mismatch.Error(), res.RawPayload)
		}

		orders := r.orders.WithTx(tx)
		o, err := orders.GetByID(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("settlement: failed to load order %s: %w", p.OrderID, err)
		}
		if !o.IsPayable() {
			return fmt.Errorf("%w: order %s is %s", payment.ErrOrderNotPayable, o.ID, o.Status)
		}

		if err := payments.Complete(ctx, p.ID, res.RawPayload, r.now()); err != nil {
			return fmt.Errorf("settlement: failed to complete payment %s: %w", p.ID, err)
		}
		if err := orders.MarkProcessing(ctx, o.ID); err != nil {
			return fmt.Errorf("settlement: failed to advance order %s: %w", o.ID, err)
		}
		if err := r.stock.Deduct(ctx, tx, orderLines(o)); err != nil {
			return err
		}
		txns, err := r.recorder.Append(ctx, tx, o, ledger.Entry{
			PaymentID: p.ID,
			OrderID:   o.ID,
			BuyerID:   p.BuyerID,
			Reference: res.Reference,
			Currency:  p.Currency,
			Amount:    p.Amount,
			Metadata:  res.RawPayload,
		})
		if err != nil {
			return fmt.Errorf("settlement: failed to record ledger transactions: %w", err)
		}

		outcome = metrics.OutcomeSettled
		done = &settled{payment: p, order: o, txns: txns}
		return nil
	})

	if err != nil {
		if outcome, ok := rejection(err); ok && locked != nil {
			return r.reject(ctx, locked, res, err, outcome)
		}
		log.Error().Err(err).Str("reference", res.Reference).Msg("settlement: transaction rolled back")
		return err
	}

	r.metrics.Settlement(outcome)

	switch {
	case done != nil:
		r.invalidate(ctx, done.payment)
		log.Info().
			Stringer("payment_id", done.payment.ID).
			Stringer("order_id", done.order.ID).
			Str("reference", res.Reference).
			Int("ledger_rows", len(done.txns)).
			Msg("settlement: payment settled")
		r.emit(ctx, settledEvents(done)...)
	case mismatch != nil:
		r.invalidate(ctx, locked)
		log.Warn().Err(mismatch).Stringer("payment_id", locked.ID).Str("reference", res.Reference).Msg("settlement: payment failed on amount mismatch")
		r.emit(ctx, failedEvent(locked, mismatch.Error()))
		return mismatch
	case outcome == metrics.OutcomeDuplicate:
		log.Info().Stringer("payment_id", locked.ID).Str("reference", res.Reference).Msg("settlement: payment already settled, nothing to do")
	}

	return nil
}

// rejection reports whether a rolled back settlement can never succeed for
// this payment, and the outcome to record for it.
func rejection(err error) (string, bool) {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock, true
	case errors.Is(err, payment.ErrOrderAlreadyPaid):
		return metrics.OutcomeAlreadyPaid, true
	case errors.Is(err, payment.ErrOrderNotPayable), errors.Is(err, order.ErrInvalidStateTransition):
		return metrics.OutcomeOrderNotPayable, true
	}
	return "", false
}

// reject runs after the settlement transaction rolled back for a reason a
// retry cannot fix. The payment fails and the order is left as it is.
func (r *Reconciler) reject(ctx context.Context, p *payment.Payment, res gateway.Result, cause error, outcome string) error {
	reason := cause.Error()
	if err := r.payments.Fail(ctx, p.ID, reason, res.RawPayload); err != nil && !errors.Is(err, payment.ErrInvalidStateTransition) {
		log.Error().Err(err).Stringer("payment_id", p.ID).Msg("settlement: failed to mark rejected payment failed")
		return fmt.Errorf("settlement: failed to fail payment %s after %v: %w", p.ID, cause, err)
	}

	r.metrics.Settlement(outcome)
	r.invalidate(ctx, p)
	log.Error().Err(cause).Stringer("payment_id", p.ID).Str("reference", res.Reference).Str("outcome", outcome).
		Msg("settlement: provider captured funds that cannot be settled, payment failed and needs a refund")
	r.emit(ctx, failedEvent(p, reason))
	return fmt.Errorf("%w: %w", payment.ErrSettlementRejected, cause)
}

// Fail records a provider-reported failure. The order is left awaiting
// payment so the buyer can retry with a new payment.
func (r *Reconciler) Fail(ctx context.Context, res gateway.Result) error {
	var (
		failed *payment.Payment
		reason = res.Message
	)
	if reason == "" {
		reason = "provider reported failure"
	}

	err := r.tx.InTx(ctx, func(tx db.DBTX) error {
		payments := r.payments.WithTx(tx)

		p, err := payments.GetByReferenceForUpdate(ctx, res.Reference)
		if err != nil {
			return err
		}
		if p.Status != payment.StatusPending {
			log.Warn().Stringer("payment_id", p.ID).Stringer("status", p.Status).Str("reference", res.Reference).
				Msg("settlement: failure reported for a payment that is no longer pending")
			return nil
		}
		if err := payments.Fail(ctx, p.ID, reason, res.RawPayload); err != nil {
			return err
		}
		failed = p
		return nil
	})
	if err != nil {
		return err
	}

	if failed == nil {
		r.metrics.Settlement(metrics.OutcomeIgnored)
		return nil
	}

	r.metrics.Settlement(metrics.OutcomeFailed)
	r.invalidate(ctx, failed)
	log.Info().Stringer("payment_id", failed.ID).Str("reference", res.Reference).Str("reason", reason).Msg("settlement: payment failed")
	r.emit(ctx, failedEvent(failed, reason))
	return nil
}

func checkAmount(p *payment.Payment, res gateway.Result) error {
	if !res.Amount.Equal(p.Amount) {
		return fmt.Errorf("%w: provider reported %s, expected %s", payment.ErrAmountMismatch, res.Amount.StringFixed(2), p.Amount.StringFixed(2))
	}
	if res.Currency != "" && res.Currency != p.Currency {
		return fmt.Errorf("%w: provider reported currency %s, expected %s", payment.ErrAmountMismatch, res.Currency, p.Currency)
	}
	return nil
}

func orderLines(o *order.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

func (r *Reconciler) invalidate(ctx context.Context, p *payment.Payment) {
	if err := r.cache.Delete(ctx, p.ID); err != nil {
		log.Warn().Err(err).Stringer("payment_id", p.ID).Msg("settlement: payment cache invalidation failed")
	}
}

// emit publishes after commit. Delivery problems are logged and never undo
// the settlement.
func (r *Reconciler) emit(ctx context.Context, evs ...events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, evs...); err != nil {
		log.Error().Err(err).Int("count", len(evs)).Msg("settlement: failed to publish events")
	}
}

func settledEvents(s *settled) []events.Event {
	evs := make([]events.Event, 0, len(s.txns)+1)
	evs = append(evs, events.New(events.TypePaymentCompleted, events.Event{
		BuyerID:   s.payment.BuyerID,
		OrderID:   s.order.ID,
		PaymentID: s.payment.ID,
		Reference: s.payment.Reference,
		Amount:    s.payment.Amount,
		Currency:  s.payment.Currency,
	}))
	for _, txn := range s.txns {
		sellerID := txn.SellerID
		evs = append(evs, events.New(events.TypeOrderPaid, events.Event{
			BuyerID:   s.payment.BuyerID,
			SellerID:  &sellerID,
			OrderID:   s.order.ID,
			PaymentID: s.payment.ID,
			Reference: txn.Reference,
			Amount:    txn.Amount,
			Currency:  txn.Currency,
		}))
	}
	return evs
}

func failedEvent(p *payment.Payment, reason string) events.Event {
	return events.New(events.TypePaymentFailed, events.Event{
		BuyerID:   p.BuyerID,
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reason:    reason,
	})
}
