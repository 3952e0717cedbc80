package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"storefront-be/internal/apperror"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/ordernumber"
	"storefront-be/internal/product"
	"storefront-be/internal/stock"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type LineInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type CreateOrderInput struct {
	UserID          string          `validate:"required"`
	Items           []LineInput     `validate:"required,min=1,dive"`
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod   `validate:"required"`
	Discount        decimal.Decimal
	Notes           string
	// OfflineOrderID is the client-generated idempotency key of a replayed
	// offline draft.
	OfflineOrderID string
	Source         Source
	// CreatedAt is honoured for offline drafts only.
	CreatedAt time.Time
}

// CartClearer empties a user's cart after checkout.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

// Coordinator creates orders as a saga: reserve every line, persist, and
// release everything reserved if a later step fails.
type Coordinator interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
}

type CoordinatorConfig struct {
	OrderNumberAttempts int
	ReleaseAttempts     uint64
	ReleaseTimeout      time.Duration
	ReleaseBackoff      time.Duration
}

type CoordinatorOption func(*coordinator)

func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *coordinator) { c.now = now }
}

// WithDeliveryDays overrides the random 3..7 day delivery estimate.
func WithDeliveryDays(days func() int) CoordinatorOption {
	return func(c *coordinator) { c.deliveryDays = days }
}

func WithMetrics(m *metrics.StoreMetrics) CoordinatorOption {
	return func(c *coordinator) { c.metrics = m }
}

type coordinator struct {
	repo     Repository
	products product.Repository
	ledger   stock.Ledger
	numbers  ordernumber.Generator
	carts    CartClearer
	metrics  *metrics.StoreMetrics
	validate *validator.Validate

	cfg          CoordinatorConfig
	now          func() time.Time
	deliveryDays func() int
}

func NewCoordinator(
	repo Repository,
	products product.Repository,
	ledger stock.Ledger,
	numbers ordernumber.Generator,
	carts CartClearer,
	cfg CoordinatorConfig,
	opts ...CoordinatorOption,
) Coordinator {
	if cfg.OrderNumberAttempts < 1 {
		cfg.OrderNumberAttempts = 5
	}
	if cfg.ReleaseAttempts < 1 {
		cfg.ReleaseAttempts = 5
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 10 * time.Second
	}
	if cfg.ReleaseBackoff <= 0 {
		cfg.ReleaseBackoff = 50 * time.Millisecond
	}

	c := &coordinator{
		repo:         repo,
		products:     products,
		ledger:       ledger,
		numbers:      numbers,
		carts:        carts,
		validate:     validator.New(),
		cfg:          cfg,
		now:          time.Now,
		deliveryDays: func() int { return 3 + rand.IntN(5) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (o *Order, err error) {
	if in.Source == "" {
		in.Source = SourceOnline
	}
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "coordinator"),
		zap.String("method", "CreateOrder"),
		zap.String("source", string(in.Source)),
		zap.String("offline_order_id", in.OfflineOrderID),
	)

	timer := metrics.StartTimer()
	defer func() {
		if err != nil {
			c.metrics.IncOrderFailure(string(apperror.CodeOf(err)))
			return
		}
		c.metrics.ObserveOrderDuration(string(in.Source), timer.Duration())
	}()

	// 0️⃣ Validate before touching stock
	if err := c.validateInput(in); err != nil {
		return nil, err
	}

	if in.OfflineOrderID != "" {
		existing, err := c.repo.GetByOfflineID(ctx, in.UserID, in.OfflineOrderID)
		if err != nil {
			return nil, apperror.Wrap(apperror.CodePersistenceFailure, err, "lookup offline order")
		}
		if existing != nil {
			log.Info("offline order already synced", zap.String("order_number", existing.OrderNumber))
			return existing, nil
		}
	}

	// 1️⃣ Catalog lookup and pricing
	items, subtotal, err := c.priceItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	totals, err := ComputeTotals(subtotal, in.Discount)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidDiscount, "discount exceeds order total").
			WithDetails(map[string]string{"discount": in.Discount.String(), "total": totals.Total.Add(in.Discount).String()})
	}

	// 2️⃣ Reserve stock in the supplied order
	reservations, err := c.reserveAll(ctx, log, items)
	if err != nil {
		return nil, err
	}

	// 3️⃣ Persist
	now := c.now()
	o = c.buildOrder(in, items, totals, now)

	err = c.persist(ctx, log, o)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateOfflineOrder):
		return c.resolveDuplicateOffline(ctx, log, in, reservations)
	default:
		log.Error("order persist failed, releasing reservations", zap.Error(err))
		if relErr := c.releaseAll(ctx, log, reservations); relErr != nil {
			return nil, relErr
		}
		return nil, apperror.Wrap(apperror.CodePersistenceFailure, err, "order could not be saved")
	}

	c.metrics.IncOrderCreated(string(in.Source))
	log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.String()),
	)

	// 4️⃣ Drain the cart of interactive checkouts
	if in.Source == SourceOnline && c.carts != nil {
		if clearErr := c.carts.ClearCart(ctx, in.UserID); clearErr != nil {
			log.Warn("failed to clear cart after checkout", zap.Error(clearErr))
		}
	}

	return o, nil
}

func (c *coordinator) validateInput(in CreateOrderInput) error {
	fields := map[string]string{}
	if err := c.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperror.Wrap(apperror.CodeValidation, err, "invalid order")
		}
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		fields["CreateOrderInput.PaymentMethod"] = "oneof"
	}
	if in.Discount.IsNegative() {
		fields["CreateOrderInput.Discount"] = "min"
	}
	if len(fields) > 0 {
		return apperror.New(apperror.CodeValidation, "invalid order").WithDetails(fields)
	}
	return nil
}

func (c *coordinator) priceItems(ctx context.Context, lines []LineInput) ([]Item, decimal.Decimal, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}

	products, err := c.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, apperror.Wrap(apperror.CodePersistenceFailure, err, "catalog lookup")
	}

	items := make([]Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		p := products[l.ProductID]
		if p == nil {
			return nil, decimal.Zero, apperror.Newf(apperror.CodeProductNotFound, "product %s not found", l.ProductID).
				WithDetails(map[string]string{"productId": l.ProductID})
		}
		if !p.IsActive {
			return nil, decimal.Zero, apperror.Newf(apperror.CodeProductInactive, "product %s is not available", l.ProductID).
				WithDetails(map[string]string{"productId": l.ProductID})
		}
		price := p.EffectivePrice()
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		items = append(items, Item{
			ProductID: p.ID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Name:      p.Name,
			Image:     p.FirstImage(),
		})
	}
	return items, subtotal, nil
}

func (c *coordinator) reserveAll(ctx context.Context, log *zap.Logger, items []Item) ([]stock.Reservation, error) {
	reserved := make([]stock.Reservation, 0, len(items))
	for _, it := range items {
		res, err := c.ledger.Reserve(ctx, it.ProductID, it.Quantity)
		if err == nil {
			reserved = append(reserved, res)
			continue
		}

		log.Info("reservation failed, rolling back",
			zap.String("product_id", it.ProductID),
			zap.Int("already_reserved", len(reserved)),
			zap.Error(err),
		)
		if relErr := c.releaseAll(ctx, log, reserved); relErr != nil {
			return nil, relErr
		}
		return nil, reserveError(it, err)
	}
	return reserved, nil
}

func reserveError(it Item, err error) error {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return apperror.Wrap(apperror.CodeInsufficientStock, err, "insufficient stock for product "+it.ProductID).
			WithDetails(map[string]any{
				"productId": it.ProductID,
				"requested": insufficient.Requested,
				"available": insufficient.Available,
			})
	case errors.Is(err, stock.ErrInsufficientStock):
		return apperror.Wrap(apperror.CodeInsufficientStock, err, "insufficient stock for product "+it.ProductID).
			WithDetails(map[string]any{"productId": it.ProductID})
	case errors.Is(err, stock.ErrProductNotFound):
		return apperror.Wrap(apperror.CodeProductNotFound, err, "product "+it.ProductID+" not found").
			WithDetails(map[string]string{"productId": it.ProductID})
	default:
		return apperror.Wrap(apperror.CodePersistenceFailure, err, "reserve stock")
	}
}

func (c *coordinator) buildOrder(in CreateOrderInput, items []Item, totals Totals, now time.Time) *Order {
	createdAt := now
	if in.Source == SourceOffline && !in.CreatedAt.IsZero() {
		createdAt = in.CreatedAt
	}
	addr := in.ShippingAddress
	if addr.Country == "" {
		addr.Country = "US"
	}

	return &Order{
		ID:                   uuid.New(),
		UserID:               in.UserID,
		Items:                items,
		ShippingAddress:      addr,
		PaymentMethod:        in.PaymentMethod,
		PaymentStatus:        PaymentPending,
		OrderStatus:          StatusPending,
		Subtotal:             totals.Subtotal,
		Tax:                  totals.Tax,
		ShippingCost:         totals.ShippingCost,
		Discount:             totals.Discount,
		Total:                totals.Total,
		ExpectedDeliveryDate: now.AddDate(0, 0, c.deliveryDays()),
		Notes:                in.Notes,
		IsSynced:             true,
		OfflineOrderID:       in.OfflineOrderID,
		SyncStatus:           SyncSynced,
		CreatedAt:            createdAt,
		UpdatedAt:            now,
	}
}

// persist assigns an order number and inserts the order, drawing a fresh
// number whenever the previous one collided.
func (c *coordinator) persist(ctx context.Context, log *zap.Logger, o *Order) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.OrderNumberAttempts; attempt++ {
		number, err := c.numbers.Next(ctx, c.now())
		if err != nil {
			return fmt.Errorf("generate order number: %w", err)
		}
		o.OrderNumber = number

		err = c.repo.Create(ctx, o)
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			return err
		}

		c.metrics.IncOrderNumberCollision()
		log.Warn("order number collision, regenerating",
			zap.String("order_number", number),
			zap.Int("attempt", attempt),
		)
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts", lastErr, c.cfg.OrderNumberAttempts)
}

func (c *coordinator) resolveDuplicateOffline(ctx context.Context, log *zap.Logger, in CreateOrderInput, reservations []stock.Reservation) (*Order, error) {
	log.Info("offline order inserted concurrently, returning existing")
	if err := c.releaseAll(ctx, log, reservations); err != nil {
		return nil, err
	}
	existing, err := c.repo.GetByOfflineID(ctx, in.UserID, in.OfflineOrderID)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodePersistenceFailure, err, "lookup offline order")
	}
	if existing == nil {
		return nil, apperror.New(apperror.CodePersistenceFailure, "offline order vanished after duplicate insert")
	}
	return existing, nil
}

// releaseAll compensates every reservation on a context detached from the
// caller, retrying each release independently. Whatever cannot be released
// is escalated as a fatal STOCK_RELEASE_FAILURE.
func (c *coordinator) releaseAll(ctx context.Context, log *zap.Logger, reservations []stock.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ReleaseTimeout)
	defer cancel()

	var (
		errs       error
		unreleased []stock.Reservation
	)
	for i := len(reservations) - 1; i >= 0; i-- {
		res := reservations[i]
		if err := c.releaseOne(relCtx, res); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s x%d: %w", res.ProductID, res.Quantity, err))
			unreleased = append(unreleased, res)
		}
	}
	if errs == nil {
		return nil
	}

	log.Error("stock release failed, manual reconciliation required",
		zap.Any("unreleased", unreleased),
		zap.Error(errs),
	)
	return apperror.Wrap(apperror.CodeStockReleaseFailed, errs, "stock could not be released").
		WithDetails(map[string]any{"unreleased": unreleased})
}

func (c *coordinator) releaseOne(ctx context.Context, res stock.Reservation) error {
	backoff := retry.NewExponential(c.cfg.ReleaseBackoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(2*time.Second, backoff)
	backoff = retry.WithMaxRetries(c.cfg.ReleaseAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.ledger.Release(ctx, res)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, stock.ErrVersionDrift),
			errors.Is(err, stock.ErrProductNotFound),
			errors.Is(err, stock.ErrInvalidQuantity):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
}
