package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront-be/internal/product"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, o *Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetByOfflineID(ctx context.Context, userID, offlineOrderID string) (*Order, error) {
	args := m.Called(ctx, userID, offlineOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*Order), args.Int(1), args.Error(2)
}

func (m *MockRepository) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*Order, error) {
	args := m.Called(ctx, userID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Order), args.Error(1)
}

func (m *MockRepository) CountPendingSync(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes, tracking string) (time.Time, error) {
	args := m.Called(ctx, id, from, to, notes, tracking)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockRepository) UpdatePayment(ctx context.Context, id uuid.UUID, from, to PaymentStatus, txID string) (time.Time, error) {
	args := m.Called(ctx, id, from, to, txID)
	return args.Get(0).(time.Time), args.Error(1)
}

// MockProductRepository is a mock for the product repository
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*product.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*product.Product), args.Error(1)
}

func (m *MockProductRepository) ListActive(ctx context.Context, since *time.Time, limit int) ([]*product.Product, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*product.Product), args.Error(1)
}

type MockCartClearer struct {
	mock.Mock
}

func (m *MockCartClearer) ClearCart(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// seqGenerator hands out 2503070001, 2503070002, ...
type seqGenerator struct {
	mu  sync.Mutex
	n   int
	err error
}

func (g *seqGenerator) Next(context.Context, time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("250307%04d", g.n), nil
}

func catalogProduct(id, price string, active bool) *product.Product {
	return &product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		IsActive: active,
		Images:   []string{"/img/" + id + ".jpg"},
	}
}
