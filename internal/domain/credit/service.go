package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/credits-api/internal/middleware"
)

// Service wraps the repository with input validation and operation logging.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Initialize provisions the credit account for a user. Safe to call more
// than once; only the first call grants the starting balance.
func (s *Service) Initialize(ctx context.Context, userID uuid.UUID, startingBalance int64) (*Account, error) {
	if startingBalance < 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.repo.Initialize(ctx, userID, startingBalance, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Int64("starting_balance", startingBalance).
		Msg("credit account initialized")
	return account, nil
}

// GetBalance returns the user's current balance and cumulative spend.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// HasCredits reports whether the user has any spendable balance.
func (s *Service) HasCredits(ctx context.Context, userID uuid.UUID) (bool, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.CurrentBalance > 0, nil
}

// Add grants credits of a credit-adding type (topup, refund, purchase,
// gift_receive).
func (s *Service) Add(ctx context.Context, userID uuid.UUID, amount int64, txType TransactionType, description string, metadata Metadata) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !CreditAddingTypes[txType] {
		return nil, ErrInvalidAmount
	}

	txn, err := s.repo.Add(ctx, userID, amount, txType, description, metadata, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("transaction_id", txn.ID.String()).
		Int64("amount", amount).
		Str("type", string(txType)).
		Msg("credits added")
	return txn, nil
}

// Reserve holds amount before costly work starts. Callers must resolve the
// hold with Commit, Cancel, or Settle once the outcome is known.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID, amount int64, description string, metadata Metadata) (*ReserveResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	result, err := s.repo.Reserve(ctx, userID, amount, description, metadata, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	if result.Success {
		log.Info().
			Str("user_id", userID.String()).
			Str("transaction_id", result.TransactionID.String()).
			Int64("amount", amount).
			Int64("balance", result.CurrentBalance).
			Msg("credits reserved")
	} else {
		log.Debug().
			Str("user_id", userID.String()).
			Int64("amount", amount).
			Int64("balance", result.CurrentBalance).
			Str("reason", result.Reason).
			Msg("reservation declined")
	}
	return result, nil
}

// Commit finalizes a reservation at its full reserved amount.
func (s *Service) Commit(ctx context.Context, transactionID uuid.UUID) error {
	if err := s.repo.Commit(ctx, transactionID); err != nil {
		return err
	}

	log.Info().Str("transaction_id", transactionID.String()).Msg("reservation committed")
	return nil
}

// Cancel abandons a reservation, refunding the full held amount.
func (s *Service) Cancel(ctx context.Context, transactionID uuid.UUID, reason string) (*CancelResult, error) {
	if reason == "" {
		reason = "cancelled by caller"
	}

	result, err := s.repo.Cancel(ctx, transactionID, reason, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", transactionID.String()).
		Int64("refunded", result.RefundedAmount).
		Str("reason", reason).
		Msg("reservation cancelled")
	return result, nil
}

// Settle finalizes a reservation at the actual cost, refunding the unused
// part. This is how callers hold a conservative upper bound and pay only
// the true cost afterward.
func (s *Service) Settle(ctx context.Context, transactionID uuid.UUID, actualAmount int64, metadata Metadata) (*SettleResult, error) {
	if actualAmount < 0 {
		return nil, ErrInvalidAmount
	}

	result, err := s.repo.Settle(ctx, transactionID, actualAmount, metadata, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", transactionID.String()).
		Int64("settled", result.SettledAmount).
		Int64("refunded", result.RefundedAmount).
		Msg("reservation settled")
	return result, nil
}

// ListTransactions returns paginated history for a user, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

// GetTransaction loads a single transaction.
func (s *Service) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, transactionID)
}

// MergeAccounts folds a guest account into a registered one.
func (s *Service) MergeAccounts(ctx context.Context, fromUserID, intoUserID uuid.UUID) error {
	if fromUserID == intoUserID {
		return nil
	}
	if err := s.repo.MergeAccounts(ctx, fromUserID, intoUserID, middleware.GetRequestID(ctx)); err != nil {
		return err
	}

	log.Info().
		Str("from_user_id", fromUserID.String()).
		Str("into_user_id", intoUserID.String()).
		Msg("credit accounts merged")
	return nil
}

// CleanupOrphanedReservations cancels pending deductions abandoned past
// their grace period, refunding each. Per-item failures are logged and the
// batch continues; a crashed caller must never lock a user's credits
// forever.
func (s *Service) CleanupOrphanedReservations(ctx context.Context, grace, sessionGrace time.Duration, batchSize int) (int, error) {
	now := time.Now()
	defaultCutoff := now.Add(-grace)
	sessionCutoff := now.Add(-sessionGrace)

	orphans, err := s.repo.ListOrphanedReservations(ctx, defaultCutoff, sessionCutoff, batchSize)
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, txn := range orphans {
		_, err := s.repo.CancelOrphaned(ctx, txn.ID, "orphaned reservation cleanup", middleware.GetRequestID(ctx))
		if err != nil {
			// Another worker may have resolved it between the list and
			// the cancel; that is not a failure of the sweep.
			log.Warn().
				Err(err).
				Str("transaction_id", txn.ID.String()).
				Str("user_id", txn.UserID.String()).
				Msg("failed to cancel orphaned reservation")
			continue
		}
		refunded++
		log.Info().
			Str("transaction_id", txn.ID.String()).
			Str("user_id", txn.UserID.String()).
			Int64("amount", -txn.Amount).
			Time("reserved_at", txn.CreatedAt).
			Msg("orphaned reservation refunded")
	}

	return refunded, nil
}
