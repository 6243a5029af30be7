package gift

import "errors"

var (
	// ErrGiftNotFound is returned when no gift matches the id or token
	ErrGiftNotFound = errors.New("gift not found")

	// ErrAlreadyClaimed is returned when the token was already used
	ErrAlreadyClaimed = errors.New("gift already claimed")

	// ErrGiftExpired is returned when the claim arrives past expires_at
	ErrGiftExpired = errors.New("gift expired")

	// ErrNotPending is returned when cancelling a gift that already resolved
	ErrNotPending = errors.New("gift is not pending")

	// ErrSelfClaim is returned when the sender tries to claim their own gift
	ErrSelfClaim = errors.New("cannot claim your own gift")

	// ErrInvalidInput is returned for malformed create requests
	ErrInvalidInput = errors.New("invalid gift input")

	ErrInternal = errors.New("internal error")
)
