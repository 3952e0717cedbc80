package transport

import (
	"context"
	"time"

	"storefront-be/internal/cart"
	"storefront-be/internal/offlinesync"
	"storefront-be/internal/order"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) GetCart(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) ValidateCart(ctx context.Context, owner cart.Owner) (*cart.Cart, []cart.ItemIssue, error) {
	args := m.Called(ctx, owner)
	var issues []cart.ItemIssue
	if v := args.Get(1); v != nil {
		issues = v.([]cart.ItemIssue)
	}
	if args.Get(0) == nil {
		return nil, issues, args.Error(2)
	}
	return args.Get(0).(*cart.Cart), issues, args.Error(2)
}

func (m *MockCartService) mutation(ctx context.Context, method string, in cart.MutationInput) (*cart.Cart, error) {
	args := m.MethodCalled(method, ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) AddItem(ctx context.Context, in cart.MutationInput) (*cart.Cart, error) {
	return m.mutation(ctx, "AddItem", in)
}

func (m *MockCartService) UpdateItem(ctx context.Context, in cart.MutationInput) (*cart.Cart, error) {
	return m.mutation(ctx, "UpdateItem", in)
}

func (m *MockCartService) RemoveItem(ctx context.Context, in cart.MutationInput) (*cart.Cart, error) {
	return m.mutation(ctx, "RemoveItem", in)
}

func (m *MockCartService) Clear(ctx context.Context, in cart.MutationInput) (*cart.Cart, error) {
	return m.mutation(ctx, "Clear", in)
}

func (m *MockCartService) ClearCart(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockCartService) Mutate(ctx context.Context, owner cart.Owner, fn func(*cart.Cart) error) (*cart.Cart, error) {
	args := m.Called(ctx, owner, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrder(ctx context.Context, userID string, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, f order.ListFilter) (*order.Page, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Page), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, actor order.Actor, id uuid.UUID, in order.StatusUpdate) (*order.Order, error) {
	args := m.Called(ctx, actor, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) UpdatePaymentStatus(ctx context.Context, actor order.Actor, id uuid.UUID, in order.PaymentUpdate) (*order.Order, error) {
	args := m.Called(ctx, actor, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) CountPendingSync(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockOrderService) RecentOrders(ctx context.Context, userID string, since time.Time, limit int) ([]*order.Order, error) {
	args := m.Called(ctx, userID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) CreateOrder(ctx context.Context, in order.CreateOrderInput) (*order.Order, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) SyncCart(ctx context.Context, owner cart.Owner, actions []cart.PendingAction) (*cart.Cart, []offlinesync.CartSyncError, error) {
	args := m.Called(ctx, owner, actions)
	var errs []offlinesync.CartSyncError
	if v := args.Get(1); v != nil {
		errs = v.([]offlinesync.CartSyncError)
	}
	if args.Get(0) == nil {
		return nil, errs, args.Error(2)
	}
	return args.Get(0).(*cart.Cart), errs, args.Error(2)
}

func (m *MockReconciler) SyncOrders(ctx context.Context, userID string, drafts []offlinesync.OrderDraft) *offlinesync.OrderSyncResult {
	return m.Called(ctx, userID, drafts).Get(0).(*offlinesync.OrderSyncResult)
}

func (m *MockReconciler) Status(ctx context.Context, userID string) (*offlinesync.Status, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*offlinesync.Status), args.Error(1)
}

func (m *MockReconciler) Snapshot(ctx context.Context, userID string, opts offlinesync.SnapshotOptions) (*offlinesync.Snapshot, error) {
	args := m.Called(ctx, userID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*offlinesync.Snapshot), args.Error(1)
}

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error { return p.err }
