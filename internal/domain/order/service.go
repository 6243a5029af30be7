package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/credits-api/internal/domain/audit"
	"github.com/storyforge/credits-api/internal/domain/credit"
	"github.com/storyforge/credits-api/internal/middleware"
)

// Service converts external purchase/grant events into completed orders and
// balance increases. Fulfillment is idempotent: payment providers retry
// webhook deliveries, and a second delivery must be a no-op.
type Service struct {
	db      *sqlx.DB
	repo    *Repository
	credits *credit.Repository
	auditor audit.Recorder
}

func NewService(db *sqlx.DB, repo *Repository, credits *credit.Repository, auditor audit.Recorder) *Service {
	return &Service{db: db, repo: repo, credits: credits, auditor: auditor}
}

// Fulfill applies an external purchase/grant event exactly once. The order
// lookup, the order write, the balance increase, the ledger row, and the
// audit entry are one database transaction.
func (s *Service) Fulfill(ctx context.Context, input FulfillInput) (*FulfillResult, error) {
	if input.CreditsGranted <= 0 {
		return nil, fmt.Errorf("%w: credits_granted must be positive", ErrInvalidInput)
	}
	if input.TransactionID == "" && input.IdempotencyKey == "" {
		return nil, ErrMissingIdempotency
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	existing, err := s.repo.FindByKeysTx(ctx, tx, input.TransactionID, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Status == StatusCompleted {
		// Duplicate delivery: answer with the first fulfillment's ids and
		// write nothing.
		log.Info().
			Str("order_id", existing.ID.String()).
			Str("transaction_id", input.TransactionID).
			Msg("order already fulfilled, skipping")
		return &FulfillResult{
			OrderID:             existing.ID,
			LedgerTransactionID: existing.LedgerTransactionID.UUID,
			CreditsGranted:      existing.CreditsGranted,
			AlreadyFulfilled:    true,
		}, nil
	}

	description := input.Description
	if description == "" {
		description = fmt.Sprintf("purchase: %s/%s", input.ProductType, input.ProductID)
	}

	txn, err := s.credits.AddTx(ctx, tx, input.UserID, input.CreditsGranted,
		credit.TransactionTypePurchase, description, grantMetadata(input), middleware.GetRequestID(ctx))
	if err != nil {
		return nil, fmt.Errorf("grant purchase credits: %w", err)
	}

	var orderID uuid.UUID
	if existing != nil {
		// A pending order from a client purchase intent; promote it in place.
		if err := s.repo.PromoteTx(ctx, tx, existing.ID, input.TransactionID, txn.ID); err != nil {
			return nil, err
		}
		orderID = existing.ID
	} else {
		o := &Order{
			ID:                    uuid.New(),
			UserID:                input.UserID,
			ProductType:           input.ProductType,
			ProductID:             input.ProductID,
			TransactionID:         nullString(input.TransactionID),
			OriginalTransactionID: nullString(input.OriginalTransactionID),
			IdempotencyKey:        nullString(input.IdempotencyKey),
			LedgerTransactionID:   uuid.NullUUID{UUID: txn.ID, Valid: true},
			CreditsGranted:        input.CreditsGranted,
			AmountPaid:            input.AmountPaid,
			Currency:              input.Currency,
			Metadata:              input.Metadata,
		}
		if err := s.repo.InsertCompletedTx(ctx, tx, o); err != nil {
			if errors.Is(err, ErrDuplicateOrder) {
				// Another delivery of the same event won the insert race and
				// committed. Drop this transaction's grant and answer from
				// the winner, as if this were an ordinary retry.
				tx.Rollback()
				return s.duplicateResult(ctx, input)
			}
			return nil, err
		}
		orderID = o.ID
	}

	if err := s.auditor.Record(ctx, tx, audit.Entry{
		UserID:     input.UserID,
		TargetType: audit.TargetTypeOrder,
		TargetID:   orderID.String(),
		Action:     audit.ActionFulfill,
		Metadata: map[string]any{
			"ledger_transaction_id": txn.ID.String(),
			"credits_granted":       input.CreditsGranted,
		},
		CorrelationID: middleware.GetRequestID(ctx),
	}); err != nil {
		return nil, fmt.Errorf("%w: audit entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("order_id", orderID.String()).
		Str("user_id", input.UserID.String()).
		Int64("credits", input.CreditsGranted).
		Str("transaction_id", input.TransactionID).
		Msg("order fulfilled")

	return &FulfillResult{
		OrderID:             orderID,
		LedgerTransactionID: txn.ID,
		CreditsGranted:      input.CreditsGranted,
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, input FulfillInput) (*FulfillResult, error) {
	winner, err := s.repo.FindByKeys(ctx, input.TransactionID, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if winner == nil || winner.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: duplicate order vanished", ErrInternal)
	}

	log.Info().
		Str("order_id", winner.ID.String()).
		Str("transaction_id", input.TransactionID).
		Msg("concurrent fulfillment lost insert race, answering from winner")
	return &FulfillResult{
		OrderID:             winner.ID,
		LedgerTransactionID: winner.LedgerTransactionID.UUID,
		CreditsGranted:      winner.CreditsGranted,
		AlreadyFulfilled:    true,
	}, nil
}

// CreatePending records a purchase intent before payment confirmation.
func (s *Service) CreatePending(ctx context.Context, input CreatePendingInput) (*Order, error) {
	if input.CreditsGranted <= 0 {
		return nil, fmt.Errorf("%w: credits_granted must be positive", ErrInvalidInput)
	}

	o := &Order{
		ID:             uuid.New(),
		UserID:         input.UserID,
		ProductType:    input.ProductType,
		ProductID:      input.ProductID,
		IdempotencyKey: nullString(input.IdempotencyKey),
		CreditsGranted: input.CreditsGranted,
		AmountPaid:     input.AmountPaid,
		Currency:       input.Currency,
		Metadata:       input.Metadata,
	}
	if err := s.repo.InsertPending(ctx, o); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", o.ID.String()).
		Str("user_id", input.UserID.String()).
		Msg("pending order created")
	return o, nil
}

// UpdatePendingTransaction attaches the provider transaction id.
func (s *Service) UpdatePendingTransaction(ctx context.Context, orderID uuid.UUID, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transaction_id required", ErrInvalidInput)
	}
	return s.repo.UpdatePendingTransaction(ctx, orderID, transactionID)
}

// UpdatePendingStatus moves a pending order to a failure state.
func (s *Service) UpdatePendingStatus(ctx context.Context, orderID uuid.UUID, status Status) error {
	if status != StatusError && status != StatusCancelled {
		return fmt.Errorf("%w: status must be error or cancelled", ErrInvalidInput)
	}
	return s.repo.UpdatePendingStatus(ctx, orderID, status)
}

// GetByID loads one order.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns a user's orders.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func grantMetadata(input FulfillInput) credit.Metadata {
	m := credit.Metadata{}
	for k, v := range input.Metadata {
		m[k] = v
	}
	if input.TransactionID != "" {
		m["provider_transaction_id"] = input.TransactionID
	}
	if input.IdempotencyKey != "" {
		m["idempotency_key"] = input.IdempotencyKey
	}
	m["product_type"] = input.ProductType
	m["product_id"] = input.ProductID
	return m
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
