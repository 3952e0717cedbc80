package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next. Staying
// in the same non-terminal status is allowed so notes and tracking can be
// amended.
func (s Status) CanTransition(next Status) bool {
	allowed, ok := statusTransitions[s]
	if !ok {
		return false
	}
	if s == next {
		return true
	}
	for _, a := range allowed {
		if a == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func (p PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, a := range paymentTransitions[p] {
		if a == next {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCreditCard     PaymentMethod = "credit_card"
	PaymentDebitCard      PaymentMethod = "debit_card"
	PaymentPayPal         PaymentMethod = "paypal"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentDebitCard, PaymentPayPal, PaymentCashOnDelivery:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// Source tells interactive checkouts apart from replayed offline drafts.
type Source string

const (
	SourceOnline  Source = "online"
	SourceOffline Source = "offline"
)

type ShippingAddress struct {
	FullName string `json:"fullName" validate:"required"`
	Address  string `json:"address" validate:"required"`
	City     string `json:"city" validate:"required"`
	State    string `json:"state" validate:"required"`
	ZipCode  string `json:"zipCode" validate:"required"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

// Item is a line snapshot. Name, image and price are copied from the
// catalog at creation so later catalog edits do not rewrite history.
type Item struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
}

type Order struct {
	ID                   uuid.UUID       `json:"id"`
	OrderNumber          string          `json:"orderNumber"`
	UserID               string          `json:"userId"`
	Items                []Item          `json:"items"`
	ShippingAddress      ShippingAddress `json:"shippingAddress"`
	PaymentMethod        PaymentMethod   `json:"paymentMethod"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	OrderStatus          Status          `json:"orderStatus"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	ShippingCost         decimal.Decimal `json:"shippingCost"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
	ExpectedDeliveryDate time.Time       `json:"expectedDeliveryDate"`
	TrackingNumber       string          `json:"trackingNumber,omitempty"`
	TransactionID        string          `json:"transactionId,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	IsSynced             bool            `json:"isSynced"`
	OfflineOrderID       string          `json:"offlineOrderId,omitempty"`
	SyncStatus           SyncStatus      `json:"syncStatus"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

func (o *Order) TotalItems() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// AppendNotes adds a line to the order notes.
func (o *Order) AppendNotes(note string) {
	if note == "" {
		return
	}
	if o.Notes == "" {
		o.Notes = note
		return
	}
	o.Notes = o.Notes + "\n" + note
}

// Actor is the caller of an order operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

type ListFilter struct {
	UserID string
	Status Status
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Normalize applies paging defaults and bounds.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalOrders int  `json:"totalOrders"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

type Page struct {
	Orders     []*Order   `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

func newPagination(page, limit, total int) Pagination {
	pages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage: page,
		TotalPages:  pages,
		TotalOrders: total,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	}
}
