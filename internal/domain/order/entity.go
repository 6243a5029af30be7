package order

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/credits-api/internal/domain/credit"
)

// Status represents order status
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the order can still be promoted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order records an external purchase or grant of credits. transaction_id is
// the payment provider's id; ledger_transaction_id points at the purchase
// row this order produced in the credit ledger once fulfilled.
type Order struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	UserID                uuid.UUID       `db:"user_id" json:"user_id"`
	ProductType           string          `db:"product_type" json:"product_type"`
	ProductID             string          `db:"product_id" json:"product_id"`
	TransactionID         sql.NullString  `db:"transaction_id" json:"transaction_id,omitempty"`
	OriginalTransactionID sql.NullString  `db:"original_transaction_id" json:"original_transaction_id,omitempty"`
	IdempotencyKey        sql.NullString  `db:"idempotency_key" json:"idempotency_key,omitempty"`
	LedgerTransactionID   uuid.NullUUID   `db:"ledger_transaction_id" json:"ledger_transaction_id,omitempty"`
	CreditsGranted        int64           `db:"credits_granted" json:"credits_granted"`
	AmountPaid            float64         `db:"amount_paid" json:"amount_paid"`
	Currency              string          `db:"currency" json:"currency"`
	Status                Status          `db:"status" json:"status"`
	Metadata              credit.Metadata `db:"metadata" json:"metadata,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// FulfillInput is an external purchase/grant event: a payment webhook
// delivery or a verified in-app-purchase receipt.
type FulfillInput struct {
	UserID                uuid.UUID       `json:"user_id" validate:"required"`
	ProductType           string          `json:"product_type" validate:"required"`
	ProductID             string          `json:"product_id" validate:"required"`
	TransactionID         string          `json:"transaction_id"`
	OriginalTransactionID string          `json:"original_transaction_id"`
	IdempotencyKey        string          `json:"idempotency_key"`
	CreditsGranted        int64           `json:"credits_granted" validate:"required,gt=0"`
	AmountPaid            float64         `json:"amount_paid" validate:"gte=0"`
	Currency              string          `json:"currency"`
	Description           string          `json:"description"`
	Metadata              credit.Metadata `json:"metadata,omitempty"`
}

// FulfillResult reports a fulfillment. A retried delivery returns the first
// call's ids with AlreadyFulfilled set and no new writes.
type FulfillResult struct {
	OrderID             uuid.UUID `json:"order_id"`
	LedgerTransactionID uuid.UUID `json:"ledger_transaction_id"`
	CreditsGranted      int64     `json:"credits_granted"`
	AlreadyFulfilled    bool      `json:"already_fulfilled"`
}

// CreatePendingInput starts an order before payment confirmation arrives
// (client-initiated purchase intents).
type CreatePendingInput struct {
	UserID         uuid.UUID       `json:"user_id" validate:"required"`
	ProductType    string          `json:"product_type" validate:"required"`
	ProductID      string          `json:"product_id" validate:"required"`
	CreditsGranted int64           `json:"credits_granted" validate:"required,gt=0"`
	AmountPaid     float64         `json:"amount_paid" validate:"gte=0"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       credit.Metadata `json:"metadata,omitempty"`
}
