package offlinesync

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront-be/internal/apperror"
	"storefront-be/internal/cart"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/order"
	"storefront-be/internal/product"

	"go.uber.org/zap"
)

const (
	draftLockTTL        = 30 * time.Second
	snapshotOrderWindow = 30 * 24 * time.Hour
	snapshotOrderLimit  = 10
	snapshotProductCap  = 500
)

// Outcomes recorded per replayed item.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

type CartMutator interface {
	Mutate(ctx context.Context, owner cart.Owner, fn func(*cart.Cart) error) (*cart.Cart, error)
}

// CartReader loads a stored cart without creating it.
type CartReader interface {
	GetCart(ctx context.Context, userID string) (*cart.Cart, error)
}

type OrderReader interface {
	CountPendingSync(ctx context.Context, userID string) (int, error)
	RecentOrders(ctx context.Context, userID string, since time.Time, limit int) ([]*order.Order, error)
}

// Locker is a best-effort lock shared between instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	LockKey(parts ...string) string
}

// Reconciler replays work a client queued while offline.
type Reconciler interface {
	// SyncCart applies the queued actions in order against current server
	// state. Actions that fail validation are reported and skipped.
	SyncCart(ctx context.Context, owner cart.Owner, actions []cart.PendingAction) (*cart.Cart, []CartSyncError, error)
	// SyncOrders creates each draft at most once per offline order id. One
	// draft's failure never affects the others.
	SyncOrders(ctx context.Context, userID string, drafts []OrderDraft) *OrderSyncResult
	Status(ctx context.Context, userID string) (*Status, error)
	Snapshot(ctx context.Context, userID string, opts SnapshotOptions) (*Snapshot, error)
}

type Option func(*reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *reconciler) { r.now = now }
}

func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(r *reconciler) { r.metrics = m }
}

// WithLocker makes concurrent replays of the same draft fail fast instead
// of both reserving stock.
func WithLocker(l Locker) Option {
	return func(r *reconciler) { r.locker = l }
}

type reconciler struct {
	carts       CartMutator
	cartReader  CartReader
	products    product.Repository
	coordinator order.Coordinator
	orders      OrderReader

	now     func() time.Time
	metrics *metrics.StoreMetrics
	locker  Locker
}

func NewReconciler(
	carts CartMutator,
	cartReader CartReader,
	products product.Repository,
	coordinator order.Coordinator,
	orders OrderReader,
	opts ...Option,
) Reconciler {
	r := &reconciler{
		carts:       carts,
		cartReader:  cartReader,
		products:    products,
		coordinator: coordinator,
		orders:      orders,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *reconciler) SyncCart(ctx context.Context, owner cart.Owner, actions []cart.PendingAction) (*cart.Cart, []CartSyncError, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "reconciler"),
		zap.String("method", "SyncCart"),
		zap.String("cart_user_id", owner.ID),
		zap.Int("actions", len(actions)),
	)

	// 1️⃣ Catalog state at replay time
	catalog, err := r.products.GetByIDs(ctx, actionProductIDs(actions))
	if err != nil {
		log.Error("failed to load products for replay", zap.Error(err))
		return nil, nil, err
	}

	// 2️⃣ Replay under the cart lock. fn may rerun after a version
	// conflict, so all results are rebuilt on every run.
	var (
		syncErrs []CartSyncError
		outcomes []string
	)
	c, err := r.carts.Mutate(ctx, owner, func(c *cart.Cart) error {
		syncErrs = []CartSyncError{}
		outcomes = outcomes[:0]

		for _, a := range actions {
			outcome, reason := applyAction(c, a, catalog)
			outcomes = append(outcomes, outcome)
			if reason != "" {
				syncErrs = append(syncErrs, CartSyncError{Action: a.Action, ProductID: a.ProductID, Reason: reason})
			}
		}

		// 3️⃣ Drop exactly what was attempted and settle the status
		c.DropPending(actions)
		switch {
		case len(c.PendingActions) > 0:
			c.SyncStatus = cart.SyncStatusPending
		case len(syncErrs) > 0:
			c.SyncStatus = cart.SyncStatusFailed
		default:
			c.SyncStatus = cart.SyncStatusSynced
		}
		return nil
	})
	if err != nil {
		log.Error("cart replay failed", zap.Error(err))
		return nil, nil, err
	}

	for _, o := range outcomes {
		r.metrics.ObserveSyncItem("cart_action", o)
	}

	log.Info("cart replayed",
		zap.Int("errors", len(syncErrs)),
		zap.String("sync_status", string(c.SyncStatus)),
	)
	return c, syncErrs, nil
}

// applyAction replays one action and returns its outcome plus a reason when
// it was rejected.
func applyAction(c *cart.Cart, a cart.PendingAction, catalog map[string]*product.Product) (string, string) {
	switch a.Action {
	case cart.ActionAdd:
		if a.ProductID == "" {
			return outcomeFailed, ReasonMissingProduct
		}
		key := a.Key()
		if c.HasApplied(key) {
			return outcomeDuplicate, ""
		}
		if a.Quantity < 1 || a.Quantity > cart.MaxItemQuantity {
			return outcomeFailed, ReasonInvalidQuantity
		}
		p := catalog[a.ProductID]
		if p == nil || !p.Available(a.Quantity) {
			return outcomeFailed, ReasonUnavailable
		}
		if err := c.AddItem(a.ProductID, a.Quantity, p.EffectivePrice(), a.Timestamp); err != nil {
			return outcomeFailed, cartReason(err)
		}
		c.MarkApplied(key)

	case cart.ActionUpdate:
		if a.ProductID == "" {
			return outcomeFailed, ReasonMissingProduct
		}
		if a.Quantity < 0 || a.Quantity > cart.MaxItemQuantity {
			return outcomeFailed, ReasonInvalidQuantity
		}
		if a.Quantity == 0 {
			c.RemoveItem(a.ProductID)
			return outcomeApplied, ""
		}
		p := catalog[a.ProductID]
		if p == nil || !p.Available(a.Quantity) {
			return outcomeFailed, ReasonUnavailable
		}
		if err := c.UpdateItem(a.ProductID, a.Quantity, p.EffectivePrice()); err != nil {
			return outcomeFailed, cartReason(err)
		}

	case cart.ActionRemove:
		if a.ProductID == "" {
			return outcomeFailed, ReasonMissingProduct
		}
		c.RemoveItem(a.ProductID)

	case cart.ActionClear:
		c.Clear()

	default:
		return outcomeFailed, ReasonUnknownAction
	}
	return outcomeApplied, ""
}

func cartReason(err error) string {
	switch {
	case errors.Is(err, cart.ErrQuantityLimit):
		return ReasonQuantityLimit
	case errors.Is(err, cart.ErrCartItemNotFound):
		return ReasonItemNotInCart
	case errors.Is(err, cart.ErrInvalidQuantity):
		return ReasonInvalidQuantity
	}
	return err.Error()
}

func actionProductIDs(actions []cart.PendingAction) []string {
	seen := make(map[string]struct{}, len(actions))
	ids := []string{}
	for _, a := range actions {
		if a.ProductID == "" {
			continue
		}
		if _, ok := seen[a.ProductID]; ok {
			continue
		}
		seen[a.ProductID] = struct{}{}
		ids = append(ids, a.ProductID)
	}
	return ids
}

func (r *reconciler) SyncOrders(ctx context.Context, userID string, drafts []OrderDraft) *OrderSyncResult {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "reconciler"),
		zap.String("method", "SyncOrders"),
		zap.Int("drafts", len(drafts)),
	)

	res := &OrderSyncResult{
		SyncedOrders: []*order.Order{},
		SyncErrors:   []OrderSyncError{},
	}

	for _, d := range drafts {
		if strings.TrimSpace(d.OfflineOrderID) == "" {
			res.SyncErrors = append(res.SyncErrors, OrderSyncError{
				Code:  apperror.CodeValidation,
				Error: "offlineOrderId is required",
			})
			r.metrics.ObserveSyncItem("order", outcomeFailed)
			continue
		}

		o, err := r.createDraft(ctx, userID, d)
		if err != nil {
			code := apperror.CodeOf(err)
			if apperror.IsFatal(err) {
				log.Error("offline order left stock unreconciled",
					zap.String("offline_order_id", d.OfflineOrderID),
					zap.Error(err),
				)
			} else {
				log.Warn("offline order rejected",
					zap.String("offline_order_id", d.OfflineOrderID),
					zap.String("code", string(code)),
				)
			}
			res.SyncErrors = append(res.SyncErrors, OrderSyncError{
				OfflineOrderID: d.OfflineOrderID,
				Code:           code,
				Error:          errorMessage(err),
			})
			r.metrics.ObserveSyncItem("order", outcomeFailed)
			continue
		}

		res.SyncedOrders = append(res.SyncedOrders, o)
		r.metrics.ObserveSyncItem("order", outcomeApplied)
	}

	log.Info("offline orders replayed",
		zap.Int("synced", len(res.SyncedOrders)),
		zap.Int("errors", len(res.SyncErrors)),
	)
	return res
}

func (r *reconciler) createDraft(ctx context.Context, userID string, d OrderDraft) (*order.Order, error) {
	if r.locker != nil {
		key := r.locker.LockKey("offline-order", userID, d.OfflineOrderID)
		ok, err := r.locker.TryLock(ctx, key, draftLockTTL)
		switch {
		case err != nil:
			// the unique offline order id still guards against duplicates
			logger.FromCtx(ctx).Warn("draft lock unavailable", zap.String("key", key), zap.Error(err))
		case !ok:
			return nil, apperror.New(apperror.CodeStateConflict, "offline order is already being synced")
		default:
			defer func() {
				if err := r.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					logger.FromCtx(ctx).Warn("failed to release draft lock", zap.String("key", key), zap.Error(err))
				}
			}()
		}
	}

	return r.coordinator.CreateOrder(ctx, order.CreateOrderInput{
		UserID:          userID,
		Items:           d.Items,
		ShippingAddress: d.ShippingAddress,
		PaymentMethod:   d.PaymentMethod,
		Discount:        d.Discount,
		Notes:           d.Notes,
		OfflineOrderID:  d.OfflineOrderID,
		Source:          order.SourceOffline,
		CreatedAt:       d.CreatedAt,
	})
}

func errorMessage(err error) string {
	if typed := apperror.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func (r *reconciler) Status(ctx context.Context, userID string) (*Status, error) {
	st := &Status{CartSyncStatus: cart.SyncStatusSynced, LastSync: r.now()}

	c, err := r.cartReader.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		st.CartSyncStatus = c.SyncStatus
	}

	if st.PendingOrders, err = r.orders.CountPendingSync(ctx, userID); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *reconciler) Snapshot(ctx context.Context, userID string, opts SnapshotOptions) (*Snapshot, error) {
	now := r.now()
	snap := &Snapshot{Timestamp: now}

	c, err := r.cartReader.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.Cart = c

	if snap.Orders, err = r.orders.RecentOrders(ctx, userID, now.Add(-snapshotOrderWindow), snapshotOrderLimit); err != nil {
		return nil, err
	}

	if opts.IncludeProducts {
		if snap.Products, err = r.products.ListActive(ctx, opts.Since, snapshotProductCap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
