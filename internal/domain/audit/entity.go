package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is an immutable, append-only audit record. One entry is written for
// every balance-affecting mutation, inside the same database transaction as
// the mutation itself, so the trail cannot diverge from the balances.
type Entry struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	UserID        uuid.UUID      `db:"user_id" json:"user_id"`
	TargetType    string         `db:"target_type" json:"target_type"`
	TargetID      string         `db:"target_id" json:"target_id"`
	Action        string         `db:"action" json:"action"`
	Changes       BalanceChanges `db:"-" json:"changes"`
	Metadata      map[string]any `db:"-" json:"metadata,omitempty"`
	CorrelationID string         `db:"correlation_id" json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// BalanceChanges captures before/after balance values for an entry.
type BalanceChanges struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// Target types recorded by the ledger.
const (
	TargetTypeCredit = "credit"
	TargetTypeOrder  = "order"
	TargetTypeGift   = "gift"
)

// Actions recorded by the ledger.
const (
	ActionInitialize = "credit.initialize"
	ActionAdd        = "credit.add"
	ActionDeduct     = "credit.deduct"
	ActionReserve    = "credit.reserve"
	ActionCancel     = "credit.cancel"
	ActionSettle     = "credit.settle"
	ActionSweep      = "credit.sweep_cancel"
	ActionFulfill    = "credit.order_fulfill"
	ActionGiftClaim  = "credit.gift_claim"
	ActionMerge      = "credit.account_merge"
)
