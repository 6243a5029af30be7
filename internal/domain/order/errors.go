package order

import "errors"

var (
	// ErrOrderNotFound is returned when no order matches
	ErrOrderNotFound = errors.New("order not found")

	// ErrMissingIdempotency is returned when a fulfillment carries neither a
	// provider transaction id nor an idempotency key; without one, retried
	// deliveries cannot be deduplicated
	ErrMissingIdempotency = errors.New("fulfillment requires transaction_id or idempotency_key")

	// ErrNotPending is returned when updating an order that already left
	// pending_payment
	ErrNotPending = errors.New("order is not pending")

	// ErrDuplicateOrder is returned when a completed order insert loses a
	// race against another delivery of the same event; the caller re-reads
	// the winner and answers idempotently
	ErrDuplicateOrder = errors.New("duplicate completed order")

	// ErrInvalidInput is returned for malformed fulfillment inputs
	ErrInvalidInput = errors.New("invalid order input")

	ErrInternal = errors.New("internal error")
)
