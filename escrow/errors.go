// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

// ErrorKind identifies a kind of error that can be used to define new errors
// via const SomeError = escrow.ErrorKind("something").
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// The settlement error taxonomy. Every operation failure surfaces as (or
// wraps) one of these kinds, and a failure always aborts the entire enclosing
// atomic unit.
const (
	// ErrInvalidQuantity is returned when a listing is created with a zero
	// quantity.
	ErrInvalidQuantity = ErrorKind("invalid quantity")
	// ErrInvalidPrice is returned when a listing is created with a zero
	// price.
	ErrInvalidPrice = ErrorKind("invalid price")
	// ErrInvalidState is returned when an operation requires a listing
	// status other than the listing's current status.
	ErrInvalidState = ErrorKind("listing is not in correct state")
	// ErrUnauthorized is returned when the caller fails an authorization
	// check.
	ErrUnauthorized = ErrorKind("unauthorized")
	// ErrOverflow is returned when checked arithmetic in the fee
	// computation would overflow.
	ErrOverflow = ErrorKind("overflow")

	// ErrAccountNotFound is returned by the ledger when a referenced
	// account does not exist.
	ErrAccountNotFound = ErrorKind("account not found")
	// ErrAccountExists is returned by the ledger when opening an account
	// whose ID is already occupied.
	ErrAccountExists = ErrorKind("account exists")
	// ErrInsufficientBalance is returned by the ledger when a transfer
	// would debit more than the account holds.
	ErrInsufficientBalance = ErrorKind("insufficient balance")
	// ErrAssetMismatch is returned by the ledger when a transfer's source
	// and destination hold different assets.
	ErrAssetMismatch = ErrorKind("asset mismatch")

	// ErrNoBump is returned when no derivation bump yields an unoccupied
	// custody key for a new listing.
	ErrNoBump = ErrorKind("no usable derivation bump")
	// ErrListingNotFound is returned when a referenced listing is unknown.
	ErrListingNotFound = ErrorKind("listing not found")
)

// Error pairs an error with details.
type Error struct {
	wrapped error
	detail  string
}

// Error satisfies the error interface, combining the wrapped error message
// with the details.
func (e Error) Error() string {
	return e.wrapped.Error() + ": " + e.detail
}

// Unwrap returns the wrapped error, allowing errors.Is and errors.As to work.
func (e Error) Unwrap() error {
	return e.wrapped
}

// NewError wraps the provided error with details in an Error, facilitating
// the use of errors.Is and errors.As via errors.Unwrap.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}
