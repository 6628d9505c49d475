package models

import "errors"

// Error taxonomy for the intent-to-settlement pipeline. Callers wrap these
// with fmt.Errorf("...: %w", err) and handlers match with errors.Is.
var (
	// ErrClassifierUnavailable means the language oracle could not be
	// reached. Temporary failure, never mapped to IntentOther.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrCatalogUnavailable means the commerce backend could not be
	// reached. The orchestrator aborts before any payment step.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrProductNotFound means the backend returned no product for an id
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidQuantity means the requested quantity is not a positive integer
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidAmount means a payment amount is zero or negative
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPaymentUnavailable means the payment provider could not be reached
	ErrPaymentUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentNotApproved means the provider reports the intent has not
	// completed user approval yet, so capture cannot proceed.
	ErrPaymentNotApproved = errors.New("payment not approved")

	// ErrOrderNotPayable means the order left the PENDING state without
	// being paid, so its payment intent must not be captured anymore.
	ErrOrderNotPayable = errors.New("order is not payable")

	// ErrValidation means required request fields are missing
	ErrValidation = errors.New("validation error")
)
