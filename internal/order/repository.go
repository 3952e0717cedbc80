package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-be/internal/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// Create inserts the order and its items in one transaction. Unique
	// violations come back as ErrDuplicateOrderNumber or
	// ErrDuplicateOfflineOrder.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByOfflineID(ctx context.Context, userID, offlineOrderID string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, int, error)
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*Order, error)
	CountPendingSync(ctx context.Context, userID string) (int, error)
	// UpdateStatus and UpdatePayment only apply when the stored status
	// still equals from, otherwise they return ErrConcurrentUpdate.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes, trackingNumber string) (time.Time, error)
	UpdatePayment(ctx context.Context, id uuid.UUID, from, to PaymentStatus, transactionID string) (time.Time, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// mapUniqueViolation converts the orders unique constraints into domain
// errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != PgUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintOrderNumber:
		return ErrDuplicateOrderNumber
	case constraintOfflineOrder:
		return ErrDuplicateOfflineOrder
	}
	return err
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id,
			ship_full_name, ship_address, ship_city, ship_state, ship_zip_code, ship_country, ship_phone,
			payment_method, payment_status, order_status,
			subtotal, tax, shipping_cost, discount, total,
			expected_delivery_date, notes,
			is_synced, offline_order_id, sync_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20,
			$21, NULLIF($22, ''), $23,
			$24, $25
		)
	`,
		o.ID, o.OrderNumber, o.UserID,
		o.ShippingAddress.FullName, o.ShippingAddress.Address, o.ShippingAddress.City,
		o.ShippingAddress.State, o.ShippingAddress.ZipCode, o.ShippingAddress.Country, o.ShippingAddress.Phone,
		o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
		o.Subtotal, o.Tax, o.ShippingCost, o.Discount, o.Total,
		o.ExpectedDeliveryDate, o.Notes,
		o.IsSynced, o.OfflineOrderID, o.SyncStatus,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		mapped := mapUniqueViolation(err)
		if mapped != err {
			log.Warn("order insert hit unique constraint", zap.Error(err))
		} else {
			log.Error("failed to insert order", zap.Error(err))
		}
		return mapped
	}

	for i, it := range o.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, name, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, o.ID, i, it.ProductID, it.Quantity, it.UnitPrice, it.Name, it.Image); err != nil {
			log.Error("failed to insert order item", zap.Error(err), zap.String("product_id", it.ProductID))
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", zap.Error(err))
		return mapUniqueViolation(err)
	}
	committed = true

	log.Info("order persisted", zap.Int("items", len(o.Items)))
	return nil
}

const selectOrder = `
	SELECT
		id, order_number, user_id,
		ship_full_name, ship_address, ship_city, ship_state, ship_zip_code, ship_country, ship_phone,
		payment_method, payment_status, order_status,
		subtotal, tax, shipping_cost, discount, total,
		expected_delivery_date, tracking_number, transaction_id, notes,
		is_synced, COALESCE(offline_order_id, ''), sync_status,
		created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID,
		&o.ShippingAddress.FullName, &o.ShippingAddress.Address, &o.ShippingAddress.City,
		&o.ShippingAddress.State, &o.ShippingAddress.ZipCode, &o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus,
		&o.Subtotal, &o.Tax, &o.ShippingCost, &o.Discount, &o.Total,
		&o.ExpectedDeliveryDate, &o.TrackingNumber, &o.TransactionID, &o.Notes,
		&o.IsSynced, &o.OfflineOrderID, &o.SyncStatus,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) getOne(ctx context.Context, log *zap.Logger, where string, args ...any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get order", zap.Error(err))
		return nil, err
	}

	items, err := r.loadItems(ctx, []uuid.UUID{o.ID})
	if err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetByID"),
		zap.String("order_id", id.String()),
	)
	return r.getOne(ctx, log, ` WHERE id = $1`, id)
}

func (r *repository) GetByOfflineID(ctx context.Context, userID, offlineOrderID string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetByOfflineID"),
		zap.String("offline_order_id", offlineOrderID),
	)
	return r.getOne(ctx, log, ` WHERE user_id = $1 AND offline_order_id = $2`, userID, offlineOrderID)
}

func (r *repository) loadItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Item, error) {
	out := make(map[uuid.UUID][]Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price, name, image
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			it      Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Name, &it.Image); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func (r *repository) queryOrders(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*Order{}
	ids := []uuid.UUID{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (r *repository) List(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	f.Normalize()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
		zap.Int("page", f.Page),
		zap.Int("limit", f.Limit),
	)

	// ---------- where ----------
	where := []string{"user_id = $1"}
	args := []any{f.UserID}

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	whereSQL := ` WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+whereSQL, args...).Scan(&total); err != nil {
		log.Error("failed to count orders", zap.Error(err))
		return nil, 0, err
	}

	// ---------- page ----------
	offset := (f.Page - 1) * f.Limit
	query := selectOrder + whereSQL + `
		ORDER BY created_at DESC
		LIMIT $` + fmt.Sprint(len(args)+1) + `
		OFFSET $` + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, offset)

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		log.Error("failed to list orders", zap.Error(err))
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *repository) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*Order, error) {
	orders, err := r.queryOrders(ctx, selectOrder+`
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, since, limit)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load recent orders",
			zap.String("layer", "repository"),
			zap.String("method", "Recent"),
			zap.Error(err),
		)
		return nil, err
	}
	return orders, nil
}

func (r *repository) CountPendingSync(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND sync_status = 'pending'
	`, userID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes, trackingNumber string) (time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET order_status = $3,
		    notes = $4,
		    tracking_number = COALESCE(NULLIF($5, ''), tracking_number),
		    updated_at = NOW()
		WHERE id = $1 AND order_status = $2
		RETURNING updated_at
	`, id, from, to, notes, trackingNumber).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrConcurrentUpdate
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update order status",
			zap.String("layer", "repository"),
			zap.String("method", "UpdateStatus"),
			zap.String("order_id", id.String()),
			zap.Error(err),
		)
		return time.Time{}, err
	}
	return updatedAt, nil
}

func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, from, to PaymentStatus, transactionID string) (time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_status = $3,
		    transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = $2
		RETURNING updated_at
	`, id, from, to, transactionID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrConcurrentUpdate
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update payment status",
			zap.String("layer", "repository"),
			zap.String("method", "UpdatePayment"),
			zap.String("order_id", id.String()),
			zap.Error(err),
		)
		return time.Time{}, err
	}
	return updatedAt, nil
}
