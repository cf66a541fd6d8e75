package marketplace

import "errors"

var (
	// ErrInvalidPrice is returned when a listing price is zero.
	ErrInvalidPrice = errors.New("marketplace: invalid price")
	// ErrInvalidCaller is returned when the caller lacks the required authorization.
	ErrInvalidCaller = errors.New("marketplace: invalid caller")
	// ErrInactiveOrder is returned when an operation targets an order that is not active.
	ErrInactiveOrder = errors.New("marketplace: inactive order")
	// ErrInvalidValue is returned when the payment is below the oracle-resolved amount.
	ErrInvalidValue = errors.New("marketplace: invalid value")
	// ErrOrderNotFound is returned for identifiers that were never assigned.
	ErrOrderNotFound = errors.New("marketplace: order not found")
	// ErrStalePrice is returned when the oracle quote is older than the allowed age.
	ErrStalePrice = errors.New("marketplace: stale price")
	// ErrInvalidQuote is returned when the oracle reports a non-positive rate.
	ErrInvalidQuote = errors.New("marketplace: invalid oracle quote")

	errNilState      = errors.New("marketplace engine: state not configured")
	errNilCustodian  = errors.New("marketplace engine: custodian not configured")
	errNilSettlement = errors.New("marketplace engine: settlement not configured")
	errNilOracle     = errors.New("marketplace engine: price oracle not configured")
)
