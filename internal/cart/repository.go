package cart

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	// GetCart returns nil without error when the user has no cart yet.
	GetCart(ctx context.Context, userID string) (*Cart, error)
	// SaveCart writes the whole cart in one transaction. It fails with
	// ErrVersionConflict when the stored version moved since the cart was
	// read, and bumps cart.Version on success.
	SaveCart(ctx context.Context, cart *Cart) error
	ClearCart(ctx context.Context, userID string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetCart(ctx context.Context, userID string) (*Cart, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetCart"),
		zap.String("cart_user_id", userID),
	)

	c := &Cart{UserID: userID}
	err := r.db.QueryRowContext(ctx, `
		SELECT is_guest, sync_status, version, last_modified
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&c.IsGuest, &c.SyncStatus, &c.Version, &c.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get cart", zap.Error(err))
		return nil, err
	}

	if c.Items, err = r.loadItems(ctx, userID); err != nil {
		log.Error("failed to load cart items", zap.Error(err))
		return nil, err
	}
	if c.PendingActions, err = r.loadPending(ctx, userID); err != nil {
		log.Error("failed to load pending actions", zap.Error(err))
		return nil, err
	}
	if c.AppliedActions, err = r.loadApplied(ctx, userID); err != nil {
		log.Error("failed to load applied actions", zap.Error(err))
		return nil, err
	}

	return c, nil
}

func (r *repository) loadItems(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, price, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []CartItem{}
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price, &it.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) loadPending(ctx context.Context, userID string) ([]PendingAction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action, COALESCE(product_id, ''), quantity, occurred_at, retry_count
		FROM cart_pending_actions
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []PendingAction{}
	for rows.Next() {
		var a PendingAction
		if err := rows.Scan(&a.Action, &a.ProductID, &a.Quantity, &a.Timestamp, &a.RetryCount); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r *repository) loadApplied(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action_key
		FROM cart_applied_actions
		WHERE user_id = $1
		ORDER BY applied_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *repository) SaveCart(ctx context.Context, c *Cart) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "SaveCart"),
		zap.String("cart_user_id", c.UserID),
		zap.Int64("version", c.Version),
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

	var res sql.Result
	if c.Version == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO carts (user_id, is_guest, sync_status, version, last_modified)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (user_id) DO NOTHING
		`, c.UserID, c.IsGuest, c.SyncStatus, c.LastModified)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE carts
			SET is_guest = $2,
			    sync_status = $3,
			    version = version + 1,
			    last_modified = $4,
			    updated_at = NOW()
			WHERE user_id = $1 AND version = $5
		`, c.UserID, c.IsGuest, c.SyncStatus, c.LastModified, c.Version)
	}
	if err != nil {
		log.Error("failed to write cart row", zap.Error(err))
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		log.Warn("cart version conflict")
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, c.UserID); err != nil {
		log.Error("failed to delete cart items", zap.Error(err))
		return err
	}
	for i, it := range c.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (user_id, product_id, position, quantity, price, added_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.UserID, it.ProductID, i, it.Quantity, it.Price, it.AddedAt); err != nil {
			log.Error("failed to insert cart item", zap.Error(err), zap.String("product_id", it.ProductID))
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_pending_actions WHERE user_id = $1`, c.UserID); err != nil {
		log.Error("failed to delete pending actions", zap.Error(err))
		return err
	}
	for i, a := range c.PendingActions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_pending_actions (user_id, position, action, product_id, quantity, occurred_at, retry_count)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		`, c.UserID, i, a.Action, a.ProductID, a.Quantity, a.Timestamp, a.RetryCount); err != nil {
			log.Error("failed to insert pending action", zap.Error(err))
			return err
		}
	}

	for _, key := range c.newlyApplied {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_applied_actions (user_id, action_key)
			VALUES ($1, $2)
			ON CONFLICT (user_id, action_key) DO NOTHING
		`, c.UserID, key); err != nil {
			log.Error("failed to record applied action", zap.Error(err))
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", zap.Error(err))
		return err
	}
	committed = true

	c.Version++
	c.newlyApplied = nil

	log.Debug("cart saved", zap.Int("items", len(c.Items)), zap.Int("pending", len(c.PendingActions)))
	return nil
}

func (r *repository) ClearCart(ctx context.Context, userID string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ClearCart"),
		zap.String("cart_user_id", userID),
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

	if _, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET sync_status = 'synced',
		    version = version + 1,
		    last_modified = NOW(),
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID); err != nil {
		log.Error("failed to reset cart row", zap.Error(err))
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		log.Error("failed to delete cart items", zap.Error(err))
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_pending_actions WHERE user_id = $1`, userID); err != nil {
		log.Error("failed to delete pending actions", zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", zap.Error(err))
		return err
	}
	committed = true

	log.Info("cart cleared")
	return nil
}
