package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: a concurrent writer got there first
//   - ErrAlreadyUsed: a unique key (idempotency key, event id) is already taken
//   - ErrInvalidState: entity in wrong state for the requested write
//   - ErrInsufficientFunds: a reservation would exceed the available balance
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyUsed       = errors.New("already used")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("unavailable")
)
