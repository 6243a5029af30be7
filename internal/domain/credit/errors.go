package credit

import "errors"

var (
	// ErrInvalidAmount is returned when an amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrAccountNotFound is returned when no credit account exists for the user
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrTransactionNotFound is returned when a reservation id is unknown
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientCredits is returned by direct deductions. Reservations
	// report insufficiency through ReserveResult instead.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAlreadyProcessed is returned when commit/cancel/settle hits a
	// reservation that already left pending. The wrap carries the status.
	ErrAlreadyProcessed = errors.New("reservation already processed")

	// ErrExceedsReserved is returned when settling for more than was held
	ErrExceedsReserved = errors.New("settlement amount exceeds reserved amount")

	// ErrNotReservation is returned when the transaction is not a deduction hold
	ErrNotReservation = errors.New("transaction is not a reservation")

	ErrInternal = errors.New("internal error")
)
