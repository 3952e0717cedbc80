package cart

import (
	"context"
	"errors"
	"time"

	"storefront-be/internal/logger"
	"storefront-be/internal/product"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// MutationInput is one cart edit. Offline edits are additionally queued as
// pending actions for later replay.
type MutationInput struct {
	Owner     Owner
	ProductID string
	Quantity  int
	Offline   bool
}

type Service interface {
	GetCart(ctx context.Context, owner Owner) (*Cart, error)
	ValidateCart(ctx context.Context, owner Owner) (*Cart, []ItemIssue, error)
	AddItem(ctx context.Context, in MutationInput) (*Cart, error)
	UpdateItem(ctx context.Context, in MutationInput) (*Cart, error)
	RemoveItem(ctx context.Context, in MutationInput) (*Cart, error)
	Clear(ctx context.Context, in MutationInput) (*Cart, error)
	// ClearCart empties the cart after a successful checkout.
	ClearCart(ctx context.Context, userID string) error
	// Mutate runs fn against the freshest stored cart and saves the result.
	// fn may run more than once when a concurrent writer wins the version
	// check, so it must derive everything from the cart it is given.
	Mutate(ctx context.Context, owner Owner, fn func(*Cart) error) (*Cart, error)
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithConflictRetries(n uint64) Option {
	return func(s *service) { s.conflictRetries = n }
}

type service struct {
	repo        Repository
	productRepo product.Repository
	locks       *userLocks

	now             func() time.Time
	conflictRetries uint64
}

func NewService(repo Repository, productRepo product.Repository, opts ...Option) Service {
	s := &service{
		repo:            repo,
		productRepo:     productRepo,
		locks:           newUserLocks(),
		now:             time.Now,
		conflictRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) GetCart(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.repo.GetCart(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	// Carts are created lazily on first access.
	return s.Mutate(ctx, owner, func(*Cart) error { return nil })
}

func (s *service) ValidateCart(ctx context.Context, owner Owner) (*Cart, []ItemIssue, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ValidateCart"),
	)

	current, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	if len(current.Items) == 0 {
		return current, nil, nil
	}

	ids := make([]string, 0, len(current.Items))
	for _, it := range current.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		log.Error("failed to load cart products", zap.Error(err))
		return nil, nil, err
	}

	var issues []ItemIssue
	updated, err := s.Mutate(ctx, owner, func(c *Cart) error {
		issues = reconcileItems(c, products)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(issues) > 0 {
		log.Info("cart adjusted against catalog", zap.Int("issues", len(issues)))
	}
	return updated, issues, nil
}

// reconcileItems drops lines whose product is gone or inactive, clamps
// quantities to stock and refreshes prices.
func reconcileItems(c *Cart, products map[string]*product.Product) []ItemIssue {
	var issues []ItemIssue
	kept := c.Items[:0]
	for _, it := range c.Items {
		p, ok := products[it.ProductID]
		if !ok || p == nil || !p.IsActive || p.Stock < 1 {
			issues = append(issues, ItemIssue{ProductID: it.ProductID, Reason: IssueUnavailable})
			continue
		}
		if p.Stock < it.Quantity {
			it.Quantity = p.Stock
			issues = append(issues, ItemIssue{ProductID: it.ProductID, Reason: IssueQuantityAdjusted})
		}
		if price := p.EffectivePrice(); !price.Equal(it.Price) {
			it.Price = price
			issues = append(issues, ItemIssue{ProductID: it.ProductID, Reason: IssuePriceChanged})
		}
		kept = append(kept, it)
	}
	c.Items = kept
	return issues
}

// checkProduct validates that qty units of productID can be put in a cart.
func (s *service) checkProduct(ctx context.Context, productID string, qty int) (*product.Product, error) {
	p, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	if !p.IsActive {
		return nil, ErrProductInactive
	}
	if p.Stock < qty {
		return nil, ErrInsufficientStock
	}
	return p, nil
}

func (s *service) AddItem(ctx context.Context, in MutationInput) (*Cart, error) {
	if in.ProductID == "" {
		return nil, ErrMissingProduct
	}
	if in.Quantity < 1 || in.Quantity > MaxItemQuantity {
		return nil, ErrInvalidQuantity
	}

	// 1️⃣ Validate against the catalog
	p, err := s.checkProduct(ctx, in.ProductID, in.Quantity)
	if err != nil {
		return nil, err
	}

	// 2️⃣ Merge into the stored cart
	return s.Mutate(ctx, in.Owner, func(c *Cart) error {
		now := s.now()
		if err := c.AddItem(in.ProductID, in.Quantity, p.EffectivePrice(), now); err != nil {
			return err
		}
		s.enqueueIfOffline(c, in, ActionAdd, now)
		return nil
	})
}

func (s *service) UpdateItem(ctx context.Context, in MutationInput) (*Cart, error) {
	if in.ProductID == "" {
		return nil, ErrMissingProduct
	}
	if in.Quantity < 0 || in.Quantity > MaxItemQuantity {
		return nil, ErrInvalidQuantity
	}

	var p *product.Product
	if in.Quantity > 0 {
		var err error
		if p, err = s.checkProduct(ctx, in.ProductID, in.Quantity); err != nil {
			return nil, err
		}
	}

	return s.Mutate(ctx, in.Owner, func(c *Cart) error {
		if p == nil {
			c.RemoveItem(in.ProductID)
		} else if err := c.UpdateItem(in.ProductID, in.Quantity, p.EffectivePrice()); err != nil {
			return err
		}
		s.enqueueIfOffline(c, in, ActionUpdate, s.now())
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, in MutationInput) (*Cart, error) {
	if in.ProductID == "" {
		return nil, ErrMissingProduct
	}
	return s.Mutate(ctx, in.Owner, func(c *Cart) error {
		c.RemoveItem(in.ProductID)
		s.enqueueIfOffline(c, in, ActionRemove, s.now())
		return nil
	})
}

func (s *service) Clear(ctx context.Context, in MutationInput) (*Cart, error) {
	return s.Mutate(ctx, in.Owner, func(c *Cart) error {
		c.Clear()
		s.enqueueIfOffline(c, in, ActionClear, s.now())
		return nil
	})
}

func (s *service) enqueueIfOffline(c *Cart, in MutationInput, action ActionType, at time.Time) {
	if !in.Offline {
		return
	}
	a := PendingAction{Action: action, Timestamp: at}
	if action != ActionClear {
		a.ProductID = in.ProductID
	}
	if action == ActionAdd || action == ActionUpdate {
		a.Quantity = in.Quantity
	}
	// The add already landed in Items; replaying it must not add again.
	if action == ActionAdd {
		c.MarkApplied(a.Key())
	}
	c.Enqueue(a)
}

func (s *service) ClearCart(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	return s.repo.ClearCart(ctx, userID)
}

func (s *service) Mutate(ctx context.Context, owner Owner, fn func(*Cart) error) (*Cart, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Mutate"),
		zap.String("cart_user_id", owner.ID),
	)

	unlock := s.locks.lock(owner.ID)
	defer unlock()

	var out *Cart
	backoff := retry.WithMaxRetries(s.conflictRetries, retry.NewExponential(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := s.repo.GetCart(ctx, owner.ID)
		if err != nil {
			return err
		}
		if c == nil {
			c = NewCart(owner, s.now())
		}

		if err := fn(c); err != nil {
			return err
		}
		c.LastModified = s.now()

		if err := s.repo.SaveCart(ctx, c); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				log.Debug("retrying after version conflict", zap.Int64("version", c.Version))
				return retry.RetryableError(err)
			}
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
