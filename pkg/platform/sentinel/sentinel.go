package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrAlreadyUsed: unique key already taken (cart per user/tenant, payment intent)
//   - ErrInvalidState: row exists but cannot take the requested transition
//   - ErrUnavailable: dependency (database, redis, Stripe) temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
