package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const orderColumns = `id, user_id, product_type, product_id, transaction_id, original_transaction_id,
	idempotency_key, ledger_transaction_id, credits_granted, amount_paid, currency, status, metadata,
	created_at, updated_at`

// Repository provides order row access. Fulfillment orchestration lives in
// the service, which composes these Tx methods with the credit grant inside
// one database transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// FindByKeysTx locates an order by provider transaction id or idempotency
// key, locking it for the rest of the fulfillment transaction. The match
// spans both keys because renewals may arrive with a fresh transaction id
// but the original idempotency key.
func (r *Repository) FindByKeysTx(ctx context.Context, tx *sqlx.Tx, transactionID, idempotencyKey string) (*Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, `
		SELECT `+orderColumns+`
		FROM credit_orders
		WHERE ($1 <> '' AND transaction_id = $1)
		   OR ($2 <> '' AND idempotency_key = $2)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE
	`, transactionID, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find order by keys", ErrInternal)
	}
	return &o, nil
}

// InsertCompletedTx inserts an order directly in completed status.
func (r *Repository) InsertCompletedTx(ctx context.Context, tx *sqlx.Tx, o *Order) error {
	o.Status = StatusCompleted
	if err := r.insertTx(ctx, tx, o); err != nil {
		// Concurrent deliveries of the same event race past FindByKeysTx
		// (neither sees a row to lock) and collide on the partial unique
		// indexes; the loser reports the duplicate instead of a fault.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// FindByKeys is the non-locking variant of FindByKeysTx, used to re-read
// the winning order after a duplicate insert.
func (r *Repository) FindByKeys(ctx context.Context, transactionID, idempotencyKey string) (*Order, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var o Order
	err := r.db.GetContext(ctx2, &o, `
		SELECT `+orderColumns+`
		FROM credit_orders
		WHERE ($1 <> '' AND transaction_id = $1)
		   OR ($2 <> '' AND idempotency_key = $2)
		ORDER BY created_at ASC
		LIMIT 1
	`, transactionID, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find order by keys", ErrInternal)
	}
	return &o, nil
}

// InsertPending inserts a pending_payment order. Never touches the balance.
func (r *Repository) InsertPending(ctx context.Context, o *Order) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	o.Status = StatusPendingPayment
	if err := r.insertTx(ctx2, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *Repository) insertTx(ctx context.Context, tx *sqlx.Tx, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_orders (
			id, user_id, product_type, product_id, transaction_id, original_transaction_id,
			idempotency_key, ledger_transaction_id, credits_granted, amount_paid, currency,
			status, metadata, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, o.ID, o.UserID, o.ProductType, o.ProductID, o.TransactionID, o.OriginalTransactionID,
		o.IdempotencyKey, o.LedgerTransactionID, o.CreditsGranted, o.AmountPaid, o.Currency,
		o.Status, o.Metadata)
	if err != nil {
		return fmt.Errorf("%w: insert order: %w", ErrInternal, err)
	}
	return nil
}

// PromoteTx moves a non-terminal order to completed, recording the provider
// transaction id and the ledger transaction produced by the grant.
func (r *Repository) PromoteTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, transactionID string, ledgerTransactionID uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_orders
		SET status = $2,
		    transaction_id = COALESCE(NULLIF($3, ''), transaction_id),
		    ledger_transaction_id = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
	`, orderID, StatusCompleted, transactionID, ledgerTransactionID)
	if err != nil {
		return fmt.Errorf("%w: promote order", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}

// GetByID loads one order.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var o Order
	err := r.db.GetContext(ctx2, &o, `SELECT `+orderColumns+` FROM credit_orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: get order", ErrInternal)
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	orders := make([]Order, 0)
	err := r.db.SelectContext(ctx2, &orders, `
		SELECT `+orderColumns+`
		FROM credit_orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders", ErrInternal)
	}
	return orders, nil
}

// UpdatePendingTransaction attaches the provider transaction id to a
// pending order once the client reports payment started.
func (r *Repository) UpdatePendingTransaction(ctx context.Context, orderID uuid.UUID, transactionID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE credit_orders
		SET transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
	`, orderID, transactionID)
	if err != nil {
		return fmt.Errorf("%w: update pending transaction", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}

// UpdatePendingStatus moves a pending order to error or cancelled.
func (r *Repository) UpdatePendingStatus(ctx context.Context, orderID uuid.UUID, status Status) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE credit_orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("%w: update pending status", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}
