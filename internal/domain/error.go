package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Settlement lifecycle
	ErrTerminalState       = errors.New("payment attempt is in a terminal state")
	ErrInvalidTransition   = errors.New("invalid payment state transition")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")

	// Ledger / wallet
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrVersionConflict   = errors.New("wallet version conflict")

	// Provider error taxonomy surfaced by gateway adapters.
	ErrConfiguration         = errors.New("provider configuration error")
	ErrInvalidCredentials    = errors.New("invalid provider credentials")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrProviderRejected      = errors.New("provider rejected payment")
	ErrProviderAmbiguous     = errors.New("provider returned ambiguous status")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
)
