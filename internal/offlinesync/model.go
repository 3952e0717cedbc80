package offlinesync

import (
	"time"

	"storefront-be/internal/apperror"
	"storefront-be/internal/cart"
	"storefront-be/internal/order"
	"storefront-be/internal/product"

	"github.com/shopspring/decimal"
)

// Reasons reported for cart actions that could not be replayed.
const (
	ReasonUnavailable     = "Product not available or insufficient stock"
	ReasonInvalidQuantity = "Invalid quantity"
	ReasonQuantityLimit   = "Quantity limit exceeded"
	ReasonMissingProduct  = "Product ID is required"
	ReasonItemNotInCart   = "Item not found in cart"
	ReasonUnknownAction   = "Unknown action"
)

// CartSyncError describes one queued cart action that was skipped.
type CartSyncError struct {
	Action    cart.ActionType `json:"action"`
	ProductID string          `json:"productId,omitempty"`
	Reason    string          `json:"reason"`
}

// OrderDraft is an order placed while the client was offline. The
// OfflineOrderID is generated by the client and makes replay idempotent.
type OrderDraft struct {
	OfflineOrderID  string                `json:"offlineOrderId"`
	Items           []order.LineInput     `json:"items"`
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   order.PaymentMethod   `json:"paymentMethod"`
	Discount        decimal.Decimal       `json:"discount"`
	Notes           string                `json:"notes"`
	CreatedAt       time.Time             `json:"createdAt"`
}

type OrderSyncError struct {
	OfflineOrderID string        `json:"offlineOrderId"`
	Code           apperror.Code `json:"code"`
	Error          string        `json:"error"`
}

type OrderSyncResult struct {
	SyncedOrders []*order.Order   `json:"syncedOrders"`
	SyncErrors   []OrderSyncError `json:"syncErrors,omitempty"`
}

type Status struct {
	CartSyncStatus cart.SyncStatus `json:"cartSyncStatus"`
	PendingOrders  int             `json:"pendingOrders"`
	LastSync       time.Time       `json:"lastSync"`
}

// SnapshotOptions narrows the data returned for offline priming.
type SnapshotOptions struct {
	// Since limits products to those changed after it.
	Since           *time.Time
	IncludeProducts bool
}

type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Cart      *cart.Cart         `json:"cart"`
	Orders    []*order.Order     `json:"orders"`
	Products  []*product.Product `json:"products,omitempty"`
}
