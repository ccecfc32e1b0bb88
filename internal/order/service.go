package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPendingPayment: {
		StatusProcessing: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:  true,
		StatusReturned: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusReturned:  true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusReturned:  {},
	StatusFailed:    {},
}

func CanTransition(from, to OrderStatus) bool {
	return allowedTransitions[from][to]
}

type Service interface {
	GetOrder(ctx context.Context, buyerID, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	// UpdateStatus applies an external lifecycle trigger such as cancel,
	// ship, deliver or return. Payment confirmation is not one of them.
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus OrderStatus) (*Order, error)
}

type service struct {
	orderRepo Repository
}

func NewService(orderRepo Repository) Service {
	return &service{
		orderRepo: orderRepo,
	}
}

func (s *service) GetOrder(ctx context.Context, buyerID, id uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if o.BuyerID != buyerID {
		log.Warn().Stringer("order_id", id).Stringer("buyer_id", buyerID).Msg("service: order belongs to another buyer")
		return nil, ErrOrderNotFound
	}

	return o, nil
}

func (s *service) ListOrders(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.ListByBuyer(ctx, buyerID)
	if err != nil {
		log.Error().Err(err).Stringer("buyer_id", buyerID).Msg("service: failed to fetch buyer orders in repository")
		return nil, fmt.Errorf("service: failed to fetch buyer orders: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus OrderStatus) (*Order, error) {
	if newStatus == StatusProcessing {
		log.Error().Stringer("order_id", id).Msg("service: processing can only be reached through payment settlement")
		return nil, fmt.Errorf("%w: %s is set by payment settlement only", ErrInvalidStateTransition, StatusProcessing)
	}

	current, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	if current.Status == newStatus {
		log.Info().Stringer("order_id", id).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return current, nil
	}

	if !CanTransition(current.Status, newStatus) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStateTransition, current.Status, newStatus)
	}

	if err := s.orderRepo.TransitionStatus(ctx, id, []OrderStatus{current.Status}, newStatus); err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidStateTransition) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order changed concurrently during status update")
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	current.Status = newStatus
	return current, nil
}
