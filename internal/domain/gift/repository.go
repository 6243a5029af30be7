package gift

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storyforge/credits-api/internal/domain/audit"
	"github.com/storyforge/credits-api/internal/domain/credit"
)

const queryTimeout = 5 * time.Second

const giftColumns = `id, sender_id, recipient_id, recipient_email, order_id, credits_amount,
	claim_token, message, status, metadata, expires_at, claimed_at, created_at, updated_at`

type Repository struct {
	db      *sqlx.DB
	credits *credit.Repository
	auditor audit.Recorder
}

func NewRepository(db *sqlx.DB, credits *credit.Repository, auditor audit.Recorder) *Repository {
	return &Repository{db: db, credits: credits, auditor: auditor}
}

// Create inserts a pending gift. Balance-funded gifts debit the sender in
// the same transaction, so a failed insert never leaves the sender charged.
func (r *Repository) Create(ctx context.Context, input CreateInput, correlationID string) (*Gift, error) {
	token, err := newClaimToken()
	if err != nil {
		return nil, fmt.Errorf("%w: generate claim token", ErrInternal)
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	g := &Gift{
		ID:             uuid.New(),
		SenderID:       input.SenderID,
		RecipientEmail: sql.NullString{String: input.RecipientEmail, Valid: input.RecipientEmail != ""},
		OrderID:        input.OrderID,
		CreditsAmount:  input.CreditsAmount,
		ClaimToken:     token,
		Message:        sql.NullString{String: input.Message, Valid: input.Message != ""},
		Status:         StatusPending,
		Metadata:       input.Metadata,
		ExpiresAt:      time.Now().Add(input.ExpiresIn),
	}

	if !input.OrderID.Valid {
		meta := credit.Metadata{"gift_id": g.ID.String()}
		if _, err := r.credits.DeductTx(ctx2, tx, input.SenderID, input.CreditsAmount,
			credit.TransactionTypeGiftSend, "gift sent", meta, correlationID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx2, `
		INSERT INTO credit_gifts (id, sender_id, recipient_email, order_id, credits_amount,
			claim_token, message, status, metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, g.ID, g.SenderID, g.RecipientEmail, g.OrderID, g.CreditsAmount,
		g.ClaimToken, g.Message, g.Status, g.Metadata, g.ExpiresAt); err != nil {
		return nil, fmt.Errorf("%w: insert gift", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return g, nil
}

// Claim redeems a token for the recipient. The gift row lock makes the token
// single-use: concurrent claims serialize on FOR UPDATE and the loser sees
// status=claimed.
func (r *Repository) Claim(ctx context.Context, token string, recipientID uuid.UUID, correlationID string) (*ClaimResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var g Gift
	err = tx.GetContext(ctx2, &g, `
		SELECT `+giftColumns+`
		FROM credit_gifts
		WHERE claim_token = $1
		FOR UPDATE
	`, token)
	if err == sql.ErrNoRows {
		return nil, ErrGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock gift row", ErrInternal)
	}

	switch g.Status {
	case StatusClaimed:
		return nil, ErrAlreadyClaimed
	case StatusExpired:
		return nil, ErrGiftExpired
	case StatusCancelled:
		return nil, ErrGiftNotFound
	}

	if time.Now().After(g.ExpiresAt) {
		// Flip it now so later claims fail fast without a clock check, and
		// refund a balance-funded gift so the sweep has nothing left to do.
		if _, err := tx.ExecContext(ctx2, `
			UPDATE credit_gifts SET status = $2, updated_at = NOW() WHERE id = $1
		`, g.ID, StatusExpired); err != nil {
			return nil, fmt.Errorf("%w: expire gift", ErrInternal)
		}
		if !g.OrderID.Valid {
			meta := credit.Metadata{"gift_id": g.ID.String()}
			if _, err := r.credits.AddTx(ctx2, tx, g.SenderID, g.CreditsAmount,
				credit.TransactionTypeRefund, "gift expired", meta, correlationID); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: commit tx", ErrInternal)
		}
		return nil, ErrGiftExpired
	}

	if g.SenderID == recipientID {
		return nil, ErrSelfClaim
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_gifts
		SET status = $2, recipient_id = $3, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, g.ID, StatusClaimed, recipientID); err != nil {
		return nil, fmt.Errorf("%w: mark gift claimed", ErrInternal)
	}

	meta := credit.Metadata{
		"gift_id":   g.ID.String(),
		"sender_id": g.SenderID.String(),
	}
	txn, err := r.credits.AddTx(ctx2, tx, recipientID, g.CreditsAmount,
		credit.TransactionTypeGiftReceive, "gift claimed", meta, correlationID)
	if err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx2, `
		SELECT current_balance FROM credit_accounts WHERE user_id = $1
	`, recipientID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("%w: read balance", ErrInternal)
	}

	if err := r.auditor.Record(ctx2, tx, audit.Entry{
		UserID:     recipientID,
		TargetType: audit.TargetTypeGift,
		TargetID:   g.ID.String(),
		Action:     audit.ActionGiftClaim,
		Metadata: map[string]any{
			"sender_id":             g.SenderID.String(),
			"ledger_transaction_id": txn.ID.String(),
			"credits_amount":        g.CreditsAmount,
		},
		CorrelationID: correlationID,
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &ClaimResult{
		GiftID:              g.ID,
		LedgerTransactionID: txn.ID,
		CreditsAmount:       g.CreditsAmount,
		NewBalance:          balance,
	}, nil
}

// Cancel voids a pending gift and refunds a balance-funded one.
func (r *Repository) Cancel(ctx context.Context, giftID, senderID uuid.UUID, correlationID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var g Gift
	err = tx.GetContext(ctx2, &g, `
		SELECT `+giftColumns+`
		FROM credit_gifts
		WHERE id = $1 AND sender_id = $2
		FOR UPDATE
	`, giftID, senderID)
	if err == sql.ErrNoRows {
		return ErrGiftNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: lock gift row", ErrInternal)
	}

	if g.Status != StatusPending {
		return fmt.Errorf("%w: status=%s", ErrNotPending, g.Status)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_gifts SET status = $2, updated_at = NOW() WHERE id = $1
	`, g.ID, StatusCancelled); err != nil {
		return fmt.Errorf("%w: mark gift cancelled", ErrInternal)
	}

	if !g.OrderID.Valid {
		meta := credit.Metadata{"gift_id": g.ID.String()}
		if _, err := r.credits.AddTx(ctx2, tx, g.SenderID, g.CreditsAmount,
			credit.TransactionTypeRefund, "gift cancelled", meta, correlationID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

// ListExpiredPending returns ids of pending gifts past expires_at, oldest
// first.
func (r *Repository) ListExpiredPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx2, &ids, `
		SELECT id FROM credit_gifts
		WHERE status = $1 AND expires_at < NOW()
		ORDER BY expires_at ASC
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired gifts", ErrInternal)
	}
	return ids, nil
}

// ExpireOne flips one overdue pending gift to expired and refunds the sender
// when the gift was balance-funded. A gift claimed or cancelled since it was
// listed is skipped without error.
func (r *Repository) ExpireOne(ctx context.Context, giftID uuid.UUID, correlationID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var g Gift
	err = tx.GetContext(ctx2, &g, `
		SELECT `+giftColumns+`
		FROM credit_gifts
		WHERE id = $1 AND status = $2
		FOR UPDATE
	`, giftID, StatusPending)
	if err == sql.ErrNoRows {
		// Claimed or cancelled since we listed it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: lock gift row", ErrInternal)
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE credit_gifts SET status = $2, updated_at = NOW() WHERE id = $1
	`, g.ID, StatusExpired); err != nil {
		return fmt.Errorf("%w: mark gift expired", ErrInternal)
	}

	if !g.OrderID.Valid {
		meta := credit.Metadata{"gift_id": g.ID.String()}
		if _, err := r.credits.AddTx(ctx2, tx, g.SenderID, g.CreditsAmount,
			credit.TransactionTypeRefund, "gift expired", meta, correlationID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

// GetByID loads one gift.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Gift, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var g Gift
	err := r.db.GetContext(ctx2, &g, `
		SELECT `+giftColumns+` FROM credit_gifts WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return nil, ErrGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get gift", ErrInternal)
	}
	return &g, nil
}

// ListBySender returns a sender's gifts, newest first.
func (r *Repository) ListBySender(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]Gift, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	gifts := make([]Gift, 0)
	err := r.db.SelectContext(ctx2, &gifts, `
		SELECT `+giftColumns+`
		FROM credit_gifts
		WHERE sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, senderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list gifts", ErrInternal)
	}
	return gifts, nil
}

func newClaimToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
