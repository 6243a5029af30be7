package gift

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/credits-api/internal/domain/credit"
)

// Status represents gift status
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Gift is a transferable credit grant. The claim token is the only handle a
// recipient needs; recipient_id stays empty until someone claims.
type Gift struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	SenderID       uuid.UUID       `db:"sender_id" json:"sender_id"`
	RecipientID    uuid.NullUUID   `db:"recipient_id" json:"recipient_id,omitempty"`
	RecipientEmail sql.NullString  `db:"recipient_email" json:"recipient_email,omitempty"`
	OrderID        uuid.NullUUID   `db:"order_id" json:"order_id,omitempty"`
	CreditsAmount  int64           `db:"credits_amount" json:"credits_amount"`
	ClaimToken     string          `db:"claim_token" json:"-"`
	Message        sql.NullString  `db:"message" json:"message,omitempty"`
	Status         Status          `db:"status" json:"status"`
	Metadata       credit.Metadata `db:"metadata" json:"metadata,omitempty"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expires_at"`
	ClaimedAt      sql.NullTime    `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// CreateInput builds a new pending gift. When OrderID is unset the credits
// come out of the sender's balance at creation time.
type CreateInput struct {
	SenderID       uuid.UUID
	RecipientEmail string
	OrderID        uuid.NullUUID
	CreditsAmount  int64
	Message        string
	ExpiresIn      time.Duration
	Metadata       credit.Metadata
}

// ClaimResult reports a successful claim.
type ClaimResult struct {
	GiftID              uuid.UUID `json:"gift_id"`
	LedgerTransactionID uuid.UUID `json:"ledger_transaction_id"`
	CreditsAmount       int64     `json:"credits_amount"`
	NewBalance          int64     `json:"new_balance"`
}
