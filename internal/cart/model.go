package cart

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

type ActionType string

const (
	ActionAdd    ActionType = "add"
	ActionUpdate ActionType = "update"
	ActionRemove ActionType = "remove"
	ActionClear  ActionType = "clear"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionRemove, ActionClear:
		return true
	}
	return false
}

// MaxItemQuantity bounds a single cart line.
const MaxItemQuantity = 99

// Owner identifies whose cart is being read or written. Guests are keyed
// by their guest id.
type Owner struct {
	ID      string
	IsGuest bool
}

type CartItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	AddedAt   time.Time       `json:"addedAt"`
}

// PendingAction is a cart edit performed while the client was offline.
type PendingAction struct {
	Action     ActionType `json:"action"`
	ProductID  string     `json:"productId,omitempty"`
	Quantity   int        `json:"quantity"`
	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retryCount"`
}

// Key identifies one logical client action. Adds are additive, so replaying
// the same key twice must be detected.
func (a PendingAction) Key() string {
	return fmt.Sprintf("%s|%s|%s", a.Action, a.ProductID, a.Timestamp.UTC().Format(time.RFC3339Nano))
}

// Matches reports whether two actions are the same queue entry.
func (a PendingAction) Matches(other PendingAction) bool {
	return a.Action == other.Action && a.Timestamp.Equal(other.Timestamp)
}

type Cart struct {
	UserID         string          `json:"userId"`
	IsGuest        bool            `json:"isGuest"`
	Items          []CartItem      `json:"items"`
	PendingActions []PendingAction `json:"pendingActions"`
	SyncStatus     SyncStatus      `json:"syncStatus"`
	LastModified   time.Time       `json:"lastModified"`
	Version        int64           `json:"-"`

	// AppliedActions holds the keys of replayed adds already folded into
	// Items.
	AppliedActions []string `json:"-"`
	newlyApplied   []string
}

func NewCart(owner Owner, now time.Time) *Cart {
	return &Cart{
		UserID:         owner.ID,
		IsGuest:        owner.IsGuest,
		Items:          []CartItem{},
		PendingActions: []PendingAction{},
		SyncStatus:     SyncStatusSynced,
		LastModified:   now,
	}
}

func (c *Cart) find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) Item(productID string) (CartItem, bool) {
	if i := c.find(productID); i >= 0 {
		return c.Items[i], true
	}
	return CartItem{}, false
}

// AddItem merges qty into an existing line (refreshing its price) or
// appends a new one.
func (c *Cart) AddItem(productID string, qty int, price decimal.Decimal, at time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if i := c.find(productID); i >= 0 {
		merged := c.Items[i].Quantity + qty
		if merged > MaxItemQuantity {
			return ErrQuantityLimit
		}
		c.Items[i].Quantity = merged
		c.Items[i].Price = price
		return nil
	}
	if qty > MaxItemQuantity {
		return ErrQuantityLimit
	}
	c.Items = append(c.Items, CartItem{
		ProductID: productID,
		Quantity:  qty,
		Price:     price,
		AddedAt:   at,
	})
	return nil
}

// UpdateItem sets the quantity of an existing line. Zero removes it.
func (c *Cart) UpdateItem(productID string, qty int, price decimal.Decimal) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if qty > MaxItemQuantity {
		return ErrQuantityLimit
	}
	i := c.find(productID)
	if i < 0 {
		return ErrCartItemNotFound
	}
	if qty == 0 {
		c.RemoveItem(productID)
		return nil
	}
	c.Items[i].Quantity = qty
	c.Items[i].Price = price
	return nil
}

func (c *Cart) RemoveItem(productID string) bool {
	i := c.find(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

// Clear empties items and the pending queue together.
func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.PendingActions = []PendingAction{}
	c.SyncStatus = SyncStatusSynced
}

// Enqueue records an offline edit and marks the cart pending.
func (c *Cart) Enqueue(a PendingAction) {
	c.PendingActions = append(c.PendingActions, a)
	c.SyncStatus = SyncStatusPending
}

// DropPending removes every queued action matched by one of attempted.
func (c *Cart) DropPending(attempted []PendingAction) {
	kept := c.PendingActions[:0]
	for _, queued := range c.PendingActions {
		matched := false
		for _, a := range attempted {
			if queued.Matches(a) {
				matched = true
				break
			}
		}
		if !matched {
			kept = append(kept, queued)
		}
	}
	c.PendingActions = kept
}

func (c *Cart) HasApplied(key string) bool {
	for _, k := range c.AppliedActions {
		if k == key {
			return true
		}
	}
	return false
}

func (c *Cart) MarkApplied(key string) {
	if c.HasApplied(key) {
		return
	}
	c.AppliedActions = append(c.AppliedActions, key)
	c.newlyApplied = append(c.newlyApplied, key)
}

func (c *Cart) TotalItems() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// IssueReason describes why ValidateCart adjusted a line.
type IssueReason string

const (
	IssueUnavailable      IssueReason = "product_unavailable"
	IssueQuantityAdjusted IssueReason = "quantity_adjusted"
	IssuePriceChanged     IssueReason = "price_changed"
)

type ItemIssue struct {
	ProductID string      `json:"productId"`
	Reason    IssueReason `json:"reason"`
}
