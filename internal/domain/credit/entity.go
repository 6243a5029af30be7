package credit

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType defines supported credit transaction types.
type TransactionType string

const (
	TransactionTypeInitial     TransactionType = "initial"
	TransactionTypeDeduction   TransactionType = "deduction"
	TransactionTypeRefund      TransactionType = "refund"
	TransactionTypeTopup       TransactionType = "topup"
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypeGiftSend    TransactionType = "gift_send"
	TransactionTypeGiftReceive TransactionType = "gift_receive"
	TransactionTypeSession     TransactionType = "session"
)

// TransactionStatus defines the lifecycle state of a transaction row.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
	StatusRefunded  TransactionStatus = "refunded"
)

// IsTerminal reports whether a transaction can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded || s == StatusFailed
}

// CreditAddingTypes are the types accepted by Add. Deductions only enter
// through Reserve, and initial rows only through Initialize.
var CreditAddingTypes = map[TransactionType]bool{
	TransactionTypeRefund:      true,
	TransactionTypeTopup:       true,
	TransactionTypePurchase:    true,
	TransactionTypeGiftReceive: true,
}

// Metadata is a free-form JSONB bag attached to transactions. It carries
// correlation data; the reservation "kind" key selects the sweep grace.
type Metadata map[string]any

// MetadataKindKey tags a reservation with its workload kind ("session" holds
// get a longer orphan grace than the default).
const MetadataKindKey = "kind"

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type: %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Account is the per-user balance row.
type Account struct {
	UserID          uuid.UUID    `db:"user_id" json:"user_id"`
	StartingBalance int64        `db:"starting_balance" json:"starting_balance"`
	CurrentBalance  int64        `db:"current_balance" json:"current_balance"`
	TotalSpent      int64        `db:"total_spent" json:"total_spent"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
	DeletedAt       sql.NullTime `db:"deleted_at" json:"-"`
}

// Transaction is a ledger row. Amount is signed: positive rows add credits,
// negative rows hold or spend them. Rows are immutable once terminal.
type Transaction struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	UserID      uuid.UUID         `db:"user_id" json:"user_id"`
	Amount      int64             `db:"amount" json:"amount"`
	Type        TransactionType   `db:"type" json:"type"`
	Status      TransactionStatus `db:"status" json:"status"`
	Description string            `db:"description" json:"description"`
	Metadata    Metadata          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
	DeletedAt   sql.NullTime      `db:"deleted_at" json:"-"`
}

// Balance is the read-side view of an account.
type Balance struct {
	CurrentBalance int64 `db:"current_balance" json:"current_balance"`
	TotalSpent     int64 `db:"total_spent" json:"total_spent"`
}

// ReserveResult reports the outcome of a reservation attempt. Insufficient
// balance is an expected outcome: Success is false, CurrentBalance carries
// what the user actually has, and no error is returned.
type ReserveResult struct {
	Success        bool      `json:"success"`
	TransactionID  uuid.UUID `json:"transaction_id,omitempty"`
	CurrentBalance int64     `json:"current_balance"`
	Reason         string    `json:"reason,omitempty"`
}

// Reserve failure reasons.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonAccountNotFound     = "account_not_found"
)

// CancelResult reports a cancelled reservation.
type CancelResult struct {
	RefundedAmount int64 `json:"refunded_amount"`
	NewBalance     int64 `json:"new_balance"`
}

// SettleResult reports a settled reservation.
type SettleResult struct {
	SettledAmount  int64 `json:"settled_amount"`
	RefundedAmount int64 `json:"refunded_amount"`
	NewBalance     int64 `json:"new_balance"`
}
