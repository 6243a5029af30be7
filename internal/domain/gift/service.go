package gift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/credits-api/internal/middleware"
)

// DefaultExpiry applies when a create request carries no expiry.
const DefaultExpiry = 30 * 24 * time.Hour

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create makes a pending gift. Balance-funded gifts charge the sender
// immediately; a later expiry or cancellation refunds them.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Gift, error) {
	if input.CreditsAmount <= 0 {
		return nil, fmt.Errorf("%w: credits_amount must be positive", ErrInvalidInput)
	}
	if input.ExpiresIn <= 0 {
		input.ExpiresIn = DefaultExpiry
	}

	g, err := s.repo.Create(ctx, input, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("gift_id", g.ID.String()).
		Str("sender_id", g.SenderID.String()).
		Int64("credits", g.CreditsAmount).
		Bool("order_funded", g.OrderID.Valid).
		Msg("gift created")
	return g, nil
}

// Claim redeems a token for the recipient.
func (s *Service) Claim(ctx context.Context, token string, recipientID uuid.UUID) (*ClaimResult, error) {
	if token == "" {
		return nil, ErrGiftNotFound
	}

	result, err := s.repo.Claim(ctx, token, recipientID, middleware.GetRequestID(ctx))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("gift_id", result.GiftID.String()).
		Str("recipient_id", recipientID.String()).
		Int64("credits", result.CreditsAmount).
		Msg("gift claimed")
	return result, nil
}

// Cancel voids a sender's pending gift.
func (s *Service) Cancel(ctx context.Context, giftID, senderID uuid.UUID) error {
	if err := s.repo.Cancel(ctx, giftID, senderID, middleware.GetRequestID(ctx)); err != nil {
		return err
	}

	log.Info().
		Str("gift_id", giftID.String()).
		Str("sender_id", senderID.String()).
		Msg("gift cancelled")
	return nil
}

// GetByID loads one gift.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Gift, error) {
	return s.repo.GetByID(ctx, id)
}

// ListBySender returns a sender's gifts.
func (s *Service) ListBySender(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]Gift, error) {
	return s.repo.ListBySender(ctx, senderID, limit, offset)
}

// ExpirePending sweeps overdue pending gifts. The sweeper calls this on the
// same cadence as the reservation cleanup. Per-item failures are logged and
// the batch continues.
func (s *Service) ExpirePending(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	ids, err := s.repo.ListExpiredPending(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := s.repo.ExpireOne(ctx, id, middleware.GetRequestID(ctx)); err != nil {
			log.Warn().
				Err(err).
				Str("gift_id", id.String()).
				Msg("failed to expire gift")
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("expired overdue gifts")
	}
	return expired, nil
}
