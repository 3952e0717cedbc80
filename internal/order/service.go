package order

import (
	"context"
	"errors"
	"time"

	"storefront-be/internal/apperror"
	"storefront-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type StatusUpdate struct {
	Status         Status
	Notes          string
	TrackingNumber string
}

type PaymentUpdate struct {
	Status        PaymentStatus
	TransactionID string
}

// Service covers reads and status changes of persisted orders. Creation
// goes through the Coordinator.
type Service interface {
	GetOrder(ctx context.Context, userID string, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) (*Page, error)
	UpdateOrderStatus(ctx context.Context, actor Actor, id uuid.UUID, in StatusUpdate) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, actor Actor, id uuid.UUID, in PaymentUpdate) (*Order, error)
	CountPendingSync(ctx context.Context, userID string) (int, error)
	RecentOrders(ctx context.Context, userID string, since time.Time, limit int) ([]*Order, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func notFound() error {
	return apperror.New(apperror.CodeNotFound, "order not found")
}

func (s *service) GetOrder(ctx context.Context, userID string, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "get order")
	}
	// Other users' orders are reported as missing.
	if o == nil || o.UserID != userID {
		return nil, notFound()
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid order status %q", f.Status)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperror.New(apperror.CodeValidation, "fromDate must not be after toDate")
	}
	f.Normalize()

	orders, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "list orders")
	}

	return &Page{
		Orders:     orders,
		Pagination: newPagination(f.Page, f.Limit, total),
	}, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, actor Actor, id uuid.UUID, in StatusUpdate) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "UpdateOrderStatus"),
		zap.String("order_id", id.String()),
		zap.String("status", string(in.Status)),
	)

	if !in.Status.Valid() {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid order status %q", in.Status)
	}

	// 1️⃣ Load and authorize
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "get order")
	}
	if o == nil {
		return nil, notFound()
	}
	if o.UserID != actor.UserID && !actor.IsAdmin {
		return nil, apperror.New(apperror.CodeForbidden, "not allowed to update this order")
	}

	// 2️⃣ Enforce the lifecycle
	if !o.OrderStatus.CanTransition(in.Status) {
		return nil, apperror.Newf(apperror.CodeStateConflict, "cannot move order from %s to %s", o.OrderStatus, in.Status).
			WithDetails(map[string]string{"from": string(o.OrderStatus), "to": string(in.Status)})
	}

	// 3️⃣ Persist against the status we validated
	from := o.OrderStatus
	o.AppendNotes(in.Notes)
	updatedAt, err := s.repo.UpdateStatus(ctx, id, from, in.Status, o.Notes, in.TrackingNumber)
	if errors.Is(err, ErrConcurrentUpdate) {
		return nil, apperror.New(apperror.CodeStateConflict, "order status changed, reload and retry")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "update order status")
	}

	o.OrderStatus = in.Status
	if in.TrackingNumber != "" {
		o.TrackingNumber = in.TrackingNumber
	}
	o.UpdatedAt = updatedAt

	log.Info("order status updated", zap.String("from", string(from)))
	return o, nil
}

func (s *service) UpdatePaymentStatus(ctx context.Context, actor Actor, id uuid.UUID, in PaymentUpdate) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "UpdatePaymentStatus"),
		zap.String("order_id", id.String()),
		zap.String("payment_status", string(in.Status)),
	)

	if !in.Status.Valid() {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid payment status %q", in.Status)
	}

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "get order")
	}
	if o == nil || o.UserID != actor.UserID {
		return nil, notFound()
	}

	if !o.PaymentStatus.CanTransition(in.Status) {
		return nil, apperror.Newf(apperror.CodeStateConflict, "cannot move payment from %s to %s", o.PaymentStatus, in.Status).
			WithDetails(map[string]string{"from": string(o.PaymentStatus), "to": string(in.Status)})
	}

	from := o.PaymentStatus
	updatedAt, err := s.repo.UpdatePayment(ctx, id, from, in.Status, in.TransactionID)
	if errors.Is(err, ErrConcurrentUpdate) {
		return nil, apperror.New(apperror.CodeStateConflict, "payment status changed, reload and retry")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "update payment status")
	}

	o.PaymentStatus = in.Status
	if in.TransactionID != "" {
		o.TransactionID = in.TransactionID
	}
	o.UpdatedAt = updatedAt

	log.Info("payment status updated", zap.String("from", string(from)))
	return o, nil
}

func (s *service) CountPendingSync(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountPendingSync(ctx, userID)
	if err != nil {
		return 0, apperror.Wrap(apperror.CodeInternal, err, "count pending orders")
	}
	return n, nil
}

func (s *service) RecentOrders(ctx context.Context, userID string, since time.Time, limit int) ([]*Order, error) {
	orders, err := s.repo.Recent(ctx, userID, since, limit)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, err, "recent orders")
	}
	return orders, nil
}
