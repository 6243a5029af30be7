package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storyforge/credits-api/internal/domain/audit"
)

const queryTimeout = 3 * time.Second

// Repository provides balance and reservation operations. Every mutating
// method locks the account row (and the transaction row where one is
// involved) with SELECT ... FOR UPDATE before check-and-update, and writes
// the ledger row and audit entry inside the same database transaction as the
// balance change.
type Repository struct {
	db      *sqlx.DB
	auditor audit.Recorder
}

func NewRepository(db *sqlx.DB, auditor audit.Recorder) *Repository {
	return &Repository{db: db, auditor: auditor}
}

// Initialize creates the account row if absent. No-op when the account
// already exists. A positive starting balance is recorded as a completed
// initial transaction.
func (r *Repository) Initialize(ctx context.Context, userID uuid.UUID, startingBalance int64, correlationID string) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx2, `
		INSERT INTO credit_accounts (user_id, starting_balance, current_balance, total_spent, created_at, updated_at)
		VALUES ($1, $2, $2, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, startingBalance)
	if err != nil {
		return nil, fmt.Errorf("%w: insert account", ErrInternal)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected", ErrInternal)
	}

	// Only a freshly created account gets the initial transaction; re-runs
	// must not double-grant.
	if rows > 0 && startingBalance > 0 {
		txn := &Transaction{
			ID:          uuid.New(),
			UserID:      userID,
			Amount:      startingBalance,
			Type:        TransactionTypeInitial,
			Status:      StatusCompleted,
			Description: "initial credit grant",
		}
		if err := insertTransaction(ctx2, tx, txn); err != nil {
			return nil, err
		}
		if err := r.auditor.Record(ctx2, tx, audit.Entry{
			UserID:        userID,
			TargetID:      txn.ID.String(),
			Action:        audit.ActionInitialize,
			Changes:       audit.BalanceChanges{Before: 0, After: startingBalance},
			CorrelationID: correlationID,
		}); err != nil {
			return nil, fmt.Errorf("%w: audit entry", ErrInternal)
		}
	}

	var account Account
	if err := tx.GetContext(ctx2, &account, `
		SELECT user_id, starting_balance, current_balance, total_spent, created_at, updated_at, deleted_at
		FROM credit_accounts WHERE user_id = $1 AND deleted_at IS NULL
	`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The row exists but was retired by a merge; it must not come
			// back as a fresh provisioning success.
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: load account", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &account, nil
}

// GetBalance returns the current balance and cumulative spend for a user.
func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance Balance
	err := r.db.GetContext(ctx2, &balance, `
		SELECT current_balance, total_spent
		FROM credit_accounts
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return &balance, nil
}

// Add credits the account (creating it if missing) and appends a completed
// transaction of the given type.
func (r *Repository) Add(ctx context.Context, userID uuid.UUID, amount int64, txType TransactionType, description string, metadata Metadata, correlationID string) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	txn, err := r.AddTx(ctx2, tx, userID, amount, txType, description, metadata, correlationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return txn, nil
}

// AddTx credits the account within an external transaction. The caller owns
// commit/rollback. Order fulfillment and gift claims use this so the grant,
// their own rows, and the audit entry form one atomic unit.
func (r *Repository) AddTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int64, txType TransactionType, description string, metadata Metadata, correlationID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Create the account row when missing, then lock it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, starting_balance, current_balance, total_spent, created_at, updated_at)
		VALUES ($1, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("%w: ensure account", ErrInternal)
	}

	var before int64
	err := tx.QueryRowContext(ctx, `
		SELECT current_balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&before)
	if err != nil {
		return nil, fmt.Errorf("%w: lock account row", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET current_balance = current_balance + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount); err != nil {
		return nil, fmt.Errorf("%w: update balance", ErrInternal)
	}

	txn := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Status:      StatusCompleted,
		Description: description,
		Metadata:    metadata,
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := r.auditor.Record(ctx, tx, audit.Entry{
		UserID:        userID,
		TargetID:      txn.ID.String(),
		Action:        audit.ActionAdd,
		Changes:       audit.BalanceChanges{Before: before, After: before + amount},
		Metadata:      map[string]any{"type": string(txType)},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	return txn, nil
}

// DeductTx debits the account within an external transaction, writing a
// completed deduction immediately. Gift sending uses this; usage charging
// goes through Reserve instead so it can be settled or cancelled.
func (r *Repository) DeductTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int64, txType TransactionType, description string, metadata Metadata, correlationID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var before int64
	err := tx.QueryRowContext(ctx, `
		SELECT current_balance FROM credit_accounts
		WHERE user_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, userID).Scan(&before)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock account row", ErrInternal)
	}

	if before < amount {
		return nil, fmt.Errorf("%w: balance=%d, requested=%d", ErrInsufficientCredits, before, amount)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET current_balance = current_balance - $2, total_spent = total_spent + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount); err != nil {
		return nil, fmt.Errorf("%w: update balance", ErrInternal)
	}

	txn := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      -amount,
		Type:        txType,
		Status:      StatusCompleted,
		Description: description,
		Metadata:    metadata,
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := r.auditor.Record(ctx, tx, audit.Entry{
		UserID:        userID,
		TargetID:      txn.ID.String(),
		Action:        audit.ActionDeduct,
		Changes:       audit.BalanceChanges{Before: before, After: before - amount},
		Metadata:      map[string]any{"type": string(txType)},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	return txn, nil
}

// Reserve holds amount against the user's balance. The debit happens now:
// the balance drops and total_spent rises at reserve time, and the pending
// deduction row carries the already-applied negative amount.
func (r *Repository) Reserve(ctx context.Context, userID uuid.UUID, amount int64, description string, metadata Metadata, correlationID string) (*ReserveResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var before int64
	err = tx.QueryRowContext(ctx2, `
		SELECT current_balance FROM credit_accounts
		WHERE user_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, userID).Scan(&before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ReserveResult{Success: false, CurrentBalance: 0, Reason: ReasonAccountNotFound}, nil
		}
		return nil, fmt.Errorf("%w: lock account row", ErrInternal)
	}

	if before < amount {
		// Expected business outcome, not an error: the caller shows
		// "you have N credits, this costs M".
		return &ReserveResult{Success: false, CurrentBalance: before, Reason: ReasonInsufficientCredits}, nil
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_accounts
		SET current_balance = current_balance - $2,
		    total_spent = total_spent + $2,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount); err != nil {
		return nil, fmt.Errorf("%w: update balance", ErrInternal)
	}

	txn := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      -amount,
		Type:        TransactionTypeDeduction,
		Status:      StatusPending,
		Description: description,
		Metadata:    metadata,
	}
	if err := insertTransaction(ctx2, tx, txn); err != nil {
		return nil, err
	}

	if err := r.auditor.Record(ctx2, tx, audit.Entry{
		UserID:        userID,
		TargetID:      txn.ID.String(),
		Action:        audit.ActionReserve,
		Changes:       audit.BalanceChanges{Before: before, After: before - amount},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &ReserveResult{Success: true, TransactionID: txn.ID, CurrentBalance: before - amount}, nil
}

// Commit finalizes a reservation at its reserved amount. No balance change;
// the debit already happened at reserve time.
func (r *Repository) Commit(ctx context.Context, transactionID uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	txn, err := lockReservation(ctx2, tx, transactionID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_transactions SET status = $2, updated_at = NOW() WHERE id = $1
	`, txn.ID, StatusCompleted); err != nil {
		return fmt.Errorf("%w: update status", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return nil
}

// Cancel abandons a reservation, refunding the full held amount.
func (r *Repository) Cancel(ctx context.Context, transactionID uuid.UUID, reason string, correlationID string) (*CancelResult, error) {
	return r.cancel(ctx, transactionID, reason, correlationID, audit.ActionCancel)
}

// CancelOrphaned is Cancel invoked by the sweep; only the recorded audit
// action differs.
func (r *Repository) CancelOrphaned(ctx context.Context, transactionID uuid.UUID, reason string, correlationID string) (*CancelResult, error) {
	return r.cancel(ctx, transactionID, reason, correlationID, audit.ActionSweep)
}

func (r *Repository) cancel(ctx context.Context, transactionID uuid.UUID, reason string, correlationID string, action string) (*CancelResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	txn, err := lockReservation(ctx2, tx, transactionID)
	if err != nil {
		return nil, err
	}

	reserved := -txn.Amount

	before, err := lockAccountBalance(ctx2, tx, txn.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_accounts
		SET current_balance = current_balance + $2,
		    total_spent = total_spent - $2,
		    updated_at = NOW()
		WHERE user_id = $1
	`, txn.UserID, reserved); err != nil {
		return nil, fmt.Errorf("%w: refund balance", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_transactions
		SET status = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('cancel_reason', $3::text),
		    updated_at = NOW()
		WHERE id = $1
	`, txn.ID, StatusCancelled, reason); err != nil {
		return nil, fmt.Errorf("%w: update status", ErrInternal)
	}

	if err := r.auditor.Record(ctx2, tx, audit.Entry{
		UserID:        txn.UserID,
		TargetID:      txn.ID.String(),
		Action:        action,
		Changes:       audit.BalanceChanges{Before: before, After: before + reserved},
		Metadata:      map[string]any{"reason": reason},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &CancelResult{RefundedAmount: reserved, NewBalance: before + reserved}, nil
}

// Settle finalizes a reservation at the actual cost, refunding the unused
// remainder of the hold.
func (r *Repository) Settle(ctx context.Context, transactionID uuid.UUID, actualAmount int64, metadata Metadata, correlationID string) (*SettleResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	txn, err := lockReservation(ctx2, tx, transactionID)
	if err != nil {
		return nil, err
	}

	reserved := -txn.Amount
	if actualAmount > reserved {
		return nil, fmt.Errorf("%w: reserved %d, requested %d", ErrExceedsReserved, reserved, actualAmount)
	}
	refund := reserved - actualAmount

	before, err := lockAccountBalance(ctx2, tx, txn.UserID)
	if err != nil {
		return nil, err
	}

	if refund > 0 {
		if _, err := tx.ExecContext(ctx2, `
			UPDATE credit_accounts
			SET current_balance = current_balance + $2,
			    total_spent = total_spent - $2,
			    updated_at = NOW()
			WHERE user_id = $1
		`, txn.UserID, refund); err != nil {
			return nil, fmt.Errorf("%w: refund balance", ErrInternal)
		}
	}

	query := `
		UPDATE credit_transactions
		SET amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`
	args := []interface{}{txn.ID, -actualAmount, StatusCompleted}
	if metadata != nil {
		query = `
			UPDATE credit_transactions
			SET amount = $2, status = $3,
			    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb,
			    updated_at = NOW()
			WHERE id = $1
		`
		args = append(args, metadata)
	}
	if _, err := tx.ExecContext(ctx2, query, args...); err != nil {
		return nil, fmt.Errorf("%w: update transaction", ErrInternal)
	}

	if err := r.auditor.Record(ctx2, tx, audit.Entry{
		UserID:        txn.UserID,
		TargetID:      txn.ID.String(),
		Action:        audit.ActionSettle,
		Changes:       audit.BalanceChanges{Before: before, After: before + refund},
		Metadata:      map[string]any{"settled_amount": actualAmount, "refunded_amount": refund},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &SettleResult{SettledAmount: actualAmount, RefundedAmount: refund, NewBalance: before + refund}, nil
}

// ListOrphanedReservations returns pending deductions older than their grace
// period, oldest first. Session-kind holds use the separate session cutoff.
func (r *Repository) ListOrphanedReservations(ctx context.Context, defaultCutoff, sessionCutoff time.Time, limit int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount, type, status, description, metadata, created_at, updated_at, deleted_at
		FROM credit_transactions
		WHERE status = 'pending'
		  AND type = 'deduction'
		  AND deleted_at IS NULL
		  AND (
		        (COALESCE(metadata->>'kind', '') = 'session' AND created_at < $2)
		     OR (COALESCE(metadata->>'kind', '') <> 'session' AND created_at < $1)
		  )
		ORDER BY created_at ASC
		LIMIT $3
	`, defaultCutoff, sessionCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list orphaned reservations", ErrInternal)
	}

	return transactions, nil
}

// GetTransaction loads a single transaction row.
func (r *Repository) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var txn Transaction
	err := r.db.GetContext(ctx2, &txn, `
		SELECT id, user_id, amount, type, status, description, metadata, created_at, updated_at, deleted_at
		FROM credit_transactions
		WHERE id = $1 AND deleted_at IS NULL
	`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: get transaction", ErrInternal)
	}

	return &txn, nil
}

// ListTransactions returns a user's transaction history, newest first.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount, type, status, description, metadata, created_at, updated_at, deleted_at
		FROM credit_transactions
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

// MergeAccounts folds the source account into the target: balances and
// cumulative spend are summed, the source row is soft-deleted. Both rows are
// locked in ascending user-id order so concurrent merges cannot deadlock.
func (r *Repository) MergeAccounts(ctx context.Context, fromUserID, intoUserID uuid.UUID, correlationID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	first, second := fromUserID, intoUserID
	if second.String() < first.String() {
		first, second = second, first
	}
	for _, id := range []uuid.UUID{first, second} {
		if _, err := tx.ExecContext(ctx2, `
			SELECT 1 FROM credit_accounts WHERE user_id = $1 AND deleted_at IS NULL FOR UPDATE
		`, id); err != nil {
			return fmt.Errorf("%w: lock account rows", ErrInternal)
		}
	}

	var source Account
	if err := tx.GetContext(ctx2, &source, `
		SELECT user_id, starting_balance, current_balance, total_spent, created_at, updated_at, deleted_at
		FROM credit_accounts WHERE user_id = $1 AND deleted_at IS NULL
	`, fromUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: load source account", ErrInternal)
	}

	var targetBefore int64
	err = tx.QueryRowContext(ctx2, `
		SELECT current_balance FROM credit_accounts WHERE user_id = $1 AND deleted_at IS NULL
	`, intoUserID).Scan(&targetBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: load target account", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_accounts
		SET current_balance = current_balance + $2,
		    total_spent = total_spent + $3,
		    updated_at = NOW()
		WHERE user_id = $1
	`, intoUserID, source.CurrentBalance, source.TotalSpent); err != nil {
		return fmt.Errorf("%w: update target account", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_accounts
		SET current_balance = 0, total_spent = 0, deleted_at = NOW(), updated_at = NOW()
		WHERE user_id = $1
	`, fromUserID); err != nil {
		return fmt.Errorf("%w: retire source account", ErrInternal)
	}

	if source.CurrentBalance > 0 {
		txn := &Transaction{
			ID:          uuid.New(),
			UserID:      intoUserID,
			Amount:      source.CurrentBalance,
			Type:        TransactionTypeTopup,
			Status:      StatusCompleted,
			Description: "account merge",
			Metadata:    Metadata{"merged_from": fromUserID.String()},
		}
		if err := insertTransaction(ctx2, tx, txn); err != nil {
			return err
		}
	}

	if err := r.auditor.Record(ctx2, tx, audit.Entry{
		UserID:        intoUserID,
		TargetID:      fromUserID.String(),
		Action:        audit.ActionMerge,
		Changes:       audit.BalanceChanges{Before: targetBefore, After: targetBefore + source.CurrentBalance},
		Metadata:      map[string]any{"merged_from": fromUserID.String(), "merged_spent": source.TotalSpent},
		CorrelationID: correlationID,
	}); err != nil {
		return fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return nil
}

// lockReservation loads a pending deduction row with an exclusive lock,
// serializing concurrent commit/cancel/settle races on the same id.
func lockReservation(ctx context.Context, tx *sqlx.Tx, transactionID uuid.UUID) (*Transaction, error) {
	var txn Transaction
	err := tx.GetContext(ctx, &txn, `
		SELECT id, user_id, amount, type, status, description, metadata, created_at, updated_at, deleted_at
		FROM credit_transactions
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: lock transaction row", ErrInternal)
	}

	if txn.Type != TransactionTypeDeduction {
		return nil, fmt.Errorf("%w: type=%s", ErrNotReservation, txn.Type)
	}
	if txn.Status != StatusPending {
		return nil, fmt.Errorf("%w: status=%s", ErrAlreadyProcessed, txn.Status)
	}

	return &txn, nil
}

func lockAccountBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT current_balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("%w: lock account row", ErrInternal)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, txn *Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, status, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, txn.ID, txn.UserID, txn.Amount, txn.Type, txn.Status, txn.Description, txn.Metadata)
	if err != nil {
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}
	return nil
}
