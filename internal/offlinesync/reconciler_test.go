package offlinesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-be/internal/apperror"
	"storefront-be/internal/cart"
	"storefront-be/internal/metrics"
	"storefront-be/internal/order"
	"storefront-be/internal/product"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var fixedNow = time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)

// memCartRepo stores copies of carts and enforces the version check.
type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: map[string]*cart.Cart{}}
}

func cloneCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	cp.PendingActions = slices.Clone(c.PendingActions)
	cp.AppliedActions = slices.Clone(c.AppliedActions)
	return &cp
}

func (m *memCartRepo) GetCart(_ context.Context, userID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return cloneCart(c), nil
}

func (m *memCartRepo) SaveCart(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.carts[c.UserID]; ok && stored.Version != c.Version {
		return cart.ErrVersionConflict
	}
	c.Version++
	m.carts[c.UserID] = cloneCart(c)
	return nil
}

func (m *memCartRepo) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		c.Items = []cart.CartItem{}
		c.PendingActions = []cart.PendingAction{}
		c.SyncStatus = cart.SyncStatusSynced
		c.Version++
	}
	return nil
}

// fakeCatalog serves products from a map.
type fakeCatalog map[string]*product.Product

func (f fakeCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	return f[id], nil
}

func (f fakeCatalog) GetByIDs(_ context.Context, ids []string) (map[string]*product.Product, error) {
	out := map[string]*product.Product{}
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f fakeCatalog) ListActive(_ context.Context, _ *time.Time, limit int) ([]*product.Product, error) {
	out := []*product.Product{}
	for _, p := range f {
		if p.IsActive && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
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

type MockOrderReader struct {
	mock.Mock
}

func (m *MockOrderReader) CountPendingSync(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockOrderReader) RecentOrders(ctx context.Context, userID string, since time.Time, limit int) ([]*order.Order, error) {
	args := m.Called(ctx, userID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"A": {ID: "A", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 10, IsActive: true},
		"B": {ID: "B", Name: "Cap", Price: decimal.NewFromInt(15), Stock: 10, IsActive: false},
		"C": {ID: "C", Name: "Tee", Price: decimal.NewFromInt(20), Stock: 1, IsActive: true},
	}
}

type harness struct {
	repo        *memCartRepo
	carts       cart.Service
	coordinator *MockCoordinator
	orders      *MockOrderReader
	reconciler  Reconciler
	registry    *prometheus.Registry
}

func newHarness(catalog fakeCatalog) *harness {
	h := &harness{
		repo:        newMemCartRepo(),
		coordinator: new(MockCoordinator),
		orders:      new(MockOrderReader),
		registry:    prometheus.NewRegistry(),
	}
	clock := func() time.Time { return fixedNow }
	h.carts = cart.NewService(h.repo, catalog, cart.WithClock(clock))
	h.reconciler = NewReconciler(h.carts, h.repo, catalog, h.coordinator, h.orders,
		WithClock(clock),
		WithMetrics(metrics.NewStoreMetrics(h.registry)),
	)
	return h
}

type fakeLocker struct {
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	delete(l.held, key)
	return nil
}

func (l *fakeLocker) LockKey(parts ...string) string {
	return "lock:" + strings.Join(parts, ":")
}

func at(sec int) time.Time {
	return fixedNow.Add(-time.Hour).Add(time.Duration(sec) * time.Second)
}

func TestReconciler_SyncCart(t *testing.T) {
	ctx := context.Background()
	owner := cart.Owner{ID: "guest_1", IsGuest: true}

	t.Run("Validates against current state", func(t *testing.T) {
		h := newHarness(testCatalog())
		actions := []cart.PendingAction{
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 2, Timestamp: at(1)},
			{Action: cart.ActionAdd, ProductID: "B", Quantity: 1, Timestamp: at(2)},
			{Action: cart.ActionAdd, ProductID: "C", Quantity: 3, Timestamp: at(3)},
			{Action: cart.ActionAdd, ProductID: "Z", Quantity: 1, Timestamp: at(4)},
			{Action: cart.ActionRemove, ProductID: "Q", Timestamp: at(5)},
		}

		c, errs, err := h.reconciler.SyncCart(ctx, owner, actions)
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, "A", c.Items[0].ProductID)
		assert.Equal(t, 2, c.Items[0].Quantity)
		assert.Equal(t, at(1), c.Items[0].AddedAt)
		assert.Equal(t, []CartSyncError{
			{Action: cart.ActionAdd, ProductID: "B", Reason: ReasonUnavailable},
			{Action: cart.ActionAdd, ProductID: "C", Reason: ReasonUnavailable},
			{Action: cart.ActionAdd, ProductID: "Z", Reason: ReasonUnavailable},
		}, errs)
		assert.Equal(t, cart.SyncStatusFailed, c.SyncStatus)
		assert.Empty(t, c.PendingActions)

		series, err := testutil.GatherAndCount(h.registry, "offline_sync_items_total")
		require.NoError(t, err)
		assert.Equal(t, 2, series)
	})

	t.Run("Replaying the same adds is idempotent", func(t *testing.T) {
		h := newHarness(testCatalog())
		actions := []cart.PendingAction{
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 2, Timestamp: at(1)},
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 1, Timestamp: at(2)},
		}

		_, _, err := h.reconciler.SyncCart(ctx, owner, actions)
		require.NoError(t, err)
		c, errs, err := h.reconciler.SyncCart(ctx, owner, actions)
		require.NoError(t, err)

		assert.Empty(t, errs)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 3, c.Items[0].Quantity)
		assert.Equal(t, cart.SyncStatusSynced, c.SyncStatus)
	})

	t.Run("Queued offline add is not applied twice", func(t *testing.T) {
		h := newHarness(testCatalog())

		queued, err := h.carts.AddItem(ctx, cart.MutationInput{Owner: owner, ProductID: "A", Quantity: 2, Offline: true})
		require.NoError(t, err)
		require.Len(t, queued.PendingActions, 1)

		c, errs, err := h.reconciler.SyncCart(ctx, owner, queued.PendingActions)
		require.NoError(t, err)

		assert.Empty(t, errs)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 2, c.Items[0].Quantity)
		assert.Empty(t, c.PendingActions)
		assert.Equal(t, cart.SyncStatusSynced, c.SyncStatus)
	})

	t.Run("Update and remove", func(t *testing.T) {
		h := newHarness(testCatalog())
		actions := []cart.PendingAction{
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 1, Timestamp: at(1)},
			{Action: cart.ActionAdd, ProductID: "C", Quantity: 1, Timestamp: at(2)},
			{Action: cart.ActionUpdate, ProductID: "A", Quantity: 5, Timestamp: at(3)},
			{Action: cart.ActionUpdate, ProductID: "C", Quantity: 0, Timestamp: at(4)},
			{Action: cart.ActionUpdate, ProductID: "Z", Quantity: 2, Timestamp: at(5)},
			{Action: cart.ActionUpdate, ProductID: "A", Quantity: -1, Timestamp: at(6)},
		}

		c, errs, err := h.reconciler.SyncCart(ctx, owner, actions)
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, 5, c.Items[0].Quantity)
		assert.Equal(t, []CartSyncError{
			{Action: cart.ActionUpdate, ProductID: "Z", Reason: ReasonUnavailable},
			{Action: cart.ActionUpdate, ProductID: "A", Reason: ReasonInvalidQuantity},
		}, errs)
	})

	t.Run("Update of a line not in the cart", func(t *testing.T) {
		h := newHarness(testCatalog())
		_, errs, err := h.reconciler.SyncCart(ctx, owner, []cart.PendingAction{
			{Action: cart.ActionUpdate, ProductID: "A", Quantity: 2, Timestamp: at(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, []CartSyncError{{Action: cart.ActionUpdate, ProductID: "A", Reason: ReasonItemNotInCart}}, errs)
	})

	t.Run("Merged quantity above the limit", func(t *testing.T) {
		catalog := testCatalog()
		catalog["A"].Stock = 500
		h := newHarness(catalog)
		_, errs, err := h.reconciler.SyncCart(ctx, owner, []cart.PendingAction{
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 60, Timestamp: at(1)},
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 60, Timestamp: at(2)},
		})
		require.NoError(t, err)
		assert.Equal(t, []CartSyncError{{Action: cart.ActionAdd, ProductID: "A", Reason: ReasonQuantityLimit}}, errs)
	})

	t.Run("Clear and unknown action", func(t *testing.T) {
		h := newHarness(testCatalog())
		c, errs, err := h.reconciler.SyncCart(ctx, owner, []cart.PendingAction{
			{Action: cart.ActionAdd, ProductID: "A", Quantity: 1, Timestamp: at(1)},
			{Action: cart.ActionClear, Timestamp: at(2)},
			{Action: "teleport", ProductID: "A", Timestamp: at(3)},
		})
		require.NoError(t, err)
		assert.Empty(t, c.Items)
		assert.Equal(t, []CartSyncError{{Action: "teleport", ProductID: "A", Reason: ReasonUnknownAction}}, errs)
	})

	t.Run("Only attempted actions leave the queue", func(t *testing.T) {
		h := newHarness(testCatalog())
		first := cart.PendingAction{Action: cart.ActionAdd, ProductID: "A", Quantity: 1, Timestamp: at(1)}
		second := cart.PendingAction{Action: cart.ActionRemove, ProductID: "A", Timestamp: at(2)}

		stored := cart.NewCart(owner, fixedNow)
		stored.Enqueue(first)
		stored.Enqueue(second)
		require.NoError(t, h.repo.SaveCart(ctx, stored))

		c, errs, err := h.reconciler.SyncCart(ctx, owner, []cart.PendingAction{first})
		require.NoError(t, err)
		assert.Empty(t, errs)
		assert.Equal(t, []cart.PendingAction{second}, c.PendingActions)
		assert.Equal(t, cart.SyncStatusPending, c.SyncStatus)

		persisted, err := h.repo.GetCart(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, c.PendingActions, persisted.PendingActions)
	})
}

func sameItems(a, b []cart.CartItem) bool {
	return slices.EqualFunc(a, b, func(x, y cart.CartItem) bool {
		return x.ProductID == y.ProductID && x.Quantity == y.Quantity &&
			x.Price.Equal(y.Price) && x.AddedAt.Equal(y.AddedAt)
	})
}

func TestReconciler_SyncCartDeterministic(t *testing.T) {
	products := []string{"A", "C", "X"}
	kinds := []cart.ActionType{cart.ActionAdd, cart.ActionUpdate, cart.ActionRemove, cart.ActionClear}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 25).Draw(t, "n")
		actions := make([]cart.PendingAction, n)
		for i := range actions {
			a := cart.PendingAction{
				Action:    rapid.SampledFrom(kinds).Draw(t, "action"),
				Timestamp: at(i),
			}
			if a.Action != cart.ActionClear {
				a.ProductID = rapid.SampledFrom(products).Draw(t, "product")
			}
			if a.Action == cart.ActionAdd || a.Action == cart.ActionUpdate {
				a.Quantity = rapid.IntRange(0, 12).Draw(t, "qty")
			}
			actions[i] = a
		}

		owner := cart.Owner{ID: "u1"}
		c1, errs1, err := newHarness(testCatalog()).reconciler.SyncCart(context.Background(), owner, actions)
		if err != nil {
			t.Fatalf("first replay: %v", err)
		}
		c2, errs2, err := newHarness(testCatalog()).reconciler.SyncCart(context.Background(), owner, actions)
		if err != nil {
			t.Fatalf("second replay: %v", err)
		}

		if !sameItems(c1.Items, c2.Items) {
			t.Fatalf("items differ: %v vs %v", c1.Items, c2.Items)
		}
		if !slices.Equal(errs1, errs2) {
			t.Fatalf("errors differ: %v vs %v", errs1, errs2)
		}
		for _, it := range c1.Items {
			if it.Quantity < 1 || it.Quantity > cart.MaxItemQuantity {
				t.Fatalf("quantity out of range: %+v", it)
			}
		}
		if len(c1.PendingActions) != 0 {
			t.Fatalf("queue not drained: %v", c1.PendingActions)
		}
		if (len(errs1) > 0) != (c1.SyncStatus == cart.SyncStatusFailed) {
			t.Fatalf("status %s with %d errors", c1.SyncStatus, len(errs1))
		}
	})
}

func TestReconciler_SyncOrders(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 6, 18, 0, 0, 0, time.UTC)

	draft := func(id string) OrderDraft {
		return OrderDraft{
			OfflineOrderID:  id,
			Items:           []order.LineInput{{ProductID: "A", Quantity: 1}},
			ShippingAddress: order.ShippingAddress{FullName: "Ada", Address: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701"},
			PaymentMethod:   order.PaymentCashOnDelivery,
			CreatedAt:       created,
		}
	}

	isOffline := func(id string) any {
		return mock.MatchedBy(func(in order.CreateOrderInput) bool {
			return in.OfflineOrderID == id && in.Source == order.SourceOffline && in.UserID == "u1" && in.CreatedAt.Equal(created)
		})
	}

	t.Run("Double replay returns the same order", func(t *testing.T) {
		h := newHarness(testCatalog())
		existing := &order.Order{ID: uuid.New(), OfflineOrderID: "x", UserID: "u1"}
		h.coordinator.On("CreateOrder", ctx, isOffline("x")).Return(existing, nil).Twice()

		first := h.reconciler.SyncOrders(ctx, "u1", []OrderDraft{draft("x")})
		second := h.reconciler.SyncOrders(ctx, "u1", []OrderDraft{draft("x")})

		require.Len(t, first.SyncedOrders, 1)
		require.Len(t, second.SyncedOrders, 1)
		assert.Equal(t, first.SyncedOrders[0].ID, second.SyncedOrders[0].ID)
		assert.Empty(t, second.SyncErrors)
		h.coordinator.AssertExpectations(t)
	})

	t.Run("Failures are reported per draft", func(t *testing.T) {
		h := newHarness(testCatalog())
		ok := &order.Order{ID: uuid.New(), OfflineOrderID: "ok"}
		h.coordinator.On("CreateOrder", ctx, isOffline("short")).
			Return(nil, apperror.New(apperror.CodeInsufficientStock, "insufficient stock for product A"))
		h.coordinator.On("CreateOrder", ctx, isOffline("ok")).Return(ok, nil)
		h.coordinator.On("CreateOrder", ctx, isOffline("db")).Return(nil, errors.New("connection reset"))

		res := h.reconciler.SyncOrders(ctx, "u1", []OrderDraft{draft("short"), draft(""), draft("ok"), draft("db")})

		assert.Equal(t, []*order.Order{ok}, res.SyncedOrders)
		assert.Equal(t, []OrderSyncError{
			{OfflineOrderID: "short", Code: apperror.CodeInsufficientStock, Error: "insufficient stock for product A"},
			{OfflineOrderID: "", Code: apperror.CodeValidation, Error: "offlineOrderId is required"},
			{OfflineOrderID: "db", Code: apperror.CodeInternal, Error: "connection reset"},
		}, res.SyncErrors)
	})

	t.Run("Draft already being synced", func(t *testing.T) {
		h := newHarness(testCatalog())
		locker := newFakeLocker()
		locker.held["lock:offline-order:u1:busy"] = true
		r := NewReconciler(nil, h.repo, testCatalog(), h.coordinator, h.orders, WithLocker(locker))
		ok := &order.Order{ID: uuid.New(), OfflineOrderID: "free"}
		h.coordinator.On("CreateOrder", ctx, isOffline("free")).Return(ok, nil).Once()

		res := r.SyncOrders(ctx, "u1", []OrderDraft{draft("busy"), draft("free")})

		assert.Equal(t, []*order.Order{ok}, res.SyncedOrders)
		require.Len(t, res.SyncErrors, 1)
		assert.Equal(t, apperror.CodeStateConflict, res.SyncErrors[0].Code)
		assert.NotContains(t, locker.held, "lock:offline-order:u1:free", "lock is released after the attempt")
		h.coordinator.AssertExpectations(t)
	})

	t.Run("Lock outage does not block replay", func(t *testing.T) {
		h := newHarness(testCatalog())
		locker := newFakeLocker()
		locker.err = errors.New("dial tcp: connection refused")
		r := NewReconciler(nil, h.repo, testCatalog(), h.coordinator, h.orders, WithLocker(locker))
		ok := &order.Order{ID: uuid.New(), OfflineOrderID: "x"}
		h.coordinator.On("CreateOrder", ctx, isOffline("x")).Return(ok, nil).Once()

		res := r.SyncOrders(ctx, "u1", []OrderDraft{draft("x")})

		assert.Len(t, res.SyncedOrders, 1)
		assert.Empty(t, res.SyncErrors)
	})

	t.Run("Empty batch", func(t *testing.T) {
		h := newHarness(testCatalog())
		res := h.reconciler.SyncOrders(ctx, "u1", nil)
		assert.Empty(t, res.SyncedOrders)
		assert.Empty(t, res.SyncErrors)
		h.coordinator.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestReconciler_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("No stored cart", func(t *testing.T) {
		h := newHarness(testCatalog())
		h.orders.On("CountPendingSync", ctx, "u1").Return(0, nil)

		st, err := h.reconciler.Status(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, &Status{CartSyncStatus: cart.SyncStatusSynced, LastSync: fixedNow}, st)
		assert.Empty(t, h.repo.carts)
	})

	t.Run("Pending cart", func(t *testing.T) {
		h := newHarness(testCatalog())
		c := cart.NewCart(cart.Owner{ID: "u1"}, fixedNow)
		c.Enqueue(cart.PendingAction{Action: cart.ActionClear, Timestamp: fixedNow})
		require.NoError(t, h.repo.SaveCart(ctx, c))
		h.orders.On("CountPendingSync", ctx, "u1").Return(2, nil)

		st, err := h.reconciler.Status(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, cart.SyncStatusPending, st.CartSyncStatus)
		assert.Equal(t, 2, st.PendingOrders)
	})

	t.Run("Order count error", func(t *testing.T) {
		h := newHarness(testCatalog())
		h.orders.On("CountPendingSync", ctx, "u1").Return(0, fmt.Errorf("db down"))

		_, err := h.reconciler.Status(ctx, "u1")
		assert.EqualError(t, err, "db down")
	})
}

func TestReconciler_Snapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testCatalog())
	recent := []*order.Order{{ID: uuid.New()}}
	h.orders.On("RecentOrders", ctx, "u1", fixedNow.Add(-30*24*time.Hour), 10).Return(recent, nil)

	t.Run("Without products", func(t *testing.T) {
		snap, err := h.reconciler.Snapshot(ctx, "u1", SnapshotOptions{})
		require.NoError(t, err)
		assert.Equal(t, fixedNow, snap.Timestamp)
		assert.Nil(t, snap.Cart)
		assert.Equal(t, recent, snap.Orders)
		assert.Nil(t, snap.Products)
	})

	t.Run("With products", func(t *testing.T) {
		snap, err := h.reconciler.Snapshot(ctx, "u1", SnapshotOptions{IncludeProducts: true})
		require.NoError(t, err)
		assert.Len(t, snap.Products, 2)
	})
}
