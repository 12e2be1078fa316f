package options

import "errors"

var (
	// ErrNilState is returned when an engine is used before its state
	// backend has been configured.
	ErrNilState = errors.New("options: state not configured")
	// ErrNilTreasury is returned when a fee-bearing operation runs before
	// the fee treasury address has been configured.
	ErrNilTreasury = errors.New("options: fee treasury not configured")
	// ErrNilOracle is returned when an operation needs a spot price but no
	// oracle has been configured for the engine.
	ErrNilOracle = errors.New("options: oracle not configured")
	// ErrEscrowNotFound is returned when the referenced escrow id does not
	// exist.
	ErrEscrowNotFound = errors.New("options: escrow not found")
	// ErrEscrowExists is returned when escrow creation derives an id that
	// is already occupied.
	ErrEscrowExists = errors.New("options: escrow already exists")
	// ErrNotMatched is returned when an operation requires a matched
	// option but the escrow is not in the matched state.
	ErrNotMatched = errors.New("options: escrow not matched")
	// ErrUnauthorized is returned when the caller is not allowed to
	// perform the requested operation.
	ErrUnauthorized = errors.New("options: caller not authorized")
)

// Term validation failures.
var (
	ErrSameToken         = errors.New("options: underlying and settlement must differ")
	ErrZeroAddressToken  = errors.New("options: token address must be non-zero")
	ErrZeroNotional      = errors.New("options: notional must be positive")
	ErrZeroStrike        = errors.New("options: strike must be positive")
	ErrZeroOracle        = errors.New("options: oracle address must be non-zero")
	ErrExerciseWindow    = errors.New("options: exercise window below minimum")
	ErrExpiryInPast      = errors.New("options: expiry not in the future")
	ErrPremiumBounds     = errors.New("options: premium bounds invalid")
	ErrSpotBounds        = errors.New("options: spot bounds invalid")
	ErrBorrowCapTooHigh  = errors.New("options: borrow cap exceeds notional")
	ErrTenorInvalid      = errors.New("options: tenor must be positive")
	ErrDecayInvalid      = errors.New("options: decay schedule invalid")
	ErrDelegateeRequired = errors.New("options: delegate registry required when delegation allowed")
)

// Auction bid failures, mirroring the preview statuses.
var (
	ErrNotAnAuction      = errors.New("options: escrow has no auction schedule")
	ErrOptionMinted      = errors.New("options: option already minted")
	ErrPremiumTooLow     = errors.New("options: bid below current ask")
	ErrSpotPriceTooLow   = errors.New("options: reference spot below oracle price")
	ErrSpotOutOfRange    = errors.New("options: oracle price outside allowed range")
	ErrInsufficientFunds = errors.New("options: insufficient funding")
	ErrPremiumUnpayable  = errors.New("options: bidder cannot cover premium")
)

// Quote failures, mirroring the preview statuses.
var (
	ErrQuoteExpired         = errors.New("options: quote expired")
	ErrQuoteAlreadyExecuted = errors.New("options: quote already executed")
	ErrQuotesPaused         = errors.New("options: quoter is paused")
	ErrInvalidQuote         = errors.New("options: quote invalid")
	ErrInvalidSignature     = errors.New("options: signature invalid")
)

// Exercise, borrow and repay failures.
var (
	ErrInvalidExerciseTime   = errors.New("options: outside exercise window")
	ErrInvalidExerciseAmount = errors.New("options: exercise amount invalid")
	ErrInvalidExerciseCost   = errors.New("options: cashless exercise cost invalid")
	ErrInsufficientOptions   = errors.New("options: insufficient option token balance")
	ErrBorrowingNotAllowed   = errors.New("options: borrowing disabled for escrow")
	ErrInvalidBorrowTime     = errors.New("options: outside borrow window")
	ErrBorrowCapExceeded     = errors.New("options: borrow cap exceeded")
	ErrInvalidBorrowAmount   = errors.New("options: borrow amount invalid")
	ErrInvalidRepayTime      = errors.New("options: repay after expiry")
	ErrInvalidRepayAmount    = errors.New("options: repay amount invalid")
	ErrNothingBorrowed       = errors.New("options: no outstanding borrow")
)

// Ownership, withdrawal and delegation failures.
var (
	ErrOptionActive         = errors.New("options: option still active")
	ErrInvalidWithdrawal    = errors.New("options: withdrawal amount invalid")
	ErrInvalidNewOwner      = errors.New("options: new owner must be non-zero")
	ErrSameOwner            = errors.New("options: new owner matches current owner")
	ErrDelegationNotAllowed = errors.New("options: voting delegation not allowed")
	ErrNoDelegateRegistry   = errors.New("options: delegate registry not configured")
	ErrInvalidTransfer      = errors.New("options: position transfer invalid")
)
