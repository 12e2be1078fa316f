package options

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BidStatus classifies the outcome of an auction bid preview. The checks run
// in a fixed order and the first failure wins, so callers can rely on the
// reported status being the dominant rejection reason.
type BidStatus uint8

const (
	BidSuccess BidStatus = iota
	BidNotAnAuction
	BidOptionAlreadyMinted
	BidPremiumTooLow
	BidSpotPriceTooLow
	BidOutOfRangeSpotPrice
	BidInsufficientFunding
)

func (s BidStatus) String() string {
	switch s {
	case BidSuccess:
		return "success"
	case BidNotAnAuction:
		return "not_an_auction"
	case BidOptionAlreadyMinted:
		return "option_already_minted"
	case BidPremiumTooLow:
		return "premium_too_low"
	case BidSpotPriceTooLow:
		return "spot_price_too_low"
	case BidOutOfRangeSpotPrice:
		return "out_of_range_spot_price"
	case BidInsufficientFunding:
		return "insufficient_funding"
	default:
		return "unknown"
	}
}

// Err maps a non-success status to its sentinel error. Success maps to nil.
func (s BidStatus) Err() error {
	switch s {
	case BidSuccess:
		return nil
	case BidNotAnAuction:
		return ErrNotAnAuction
	case BidOptionAlreadyMinted:
		return ErrOptionMinted
	case BidPremiumTooLow:
		return ErrPremiumTooLow
	case BidSpotPriceTooLow:
		return ErrSpotPriceTooLow
	case BidOutOfRangeSpotPrice:
		return ErrSpotOutOfRange
	case BidInsufficientFunding:
		return ErrInsufficientFunds
	default:
		return ErrInvalidQuote
	}
}

// BidPreview reports whether a bid would currently win an auction and, on
// success, the exact economics the match would commit. The pricing fields are
// populated only when Status is BidSuccess.
type BidPreview struct {
	Status           BidStatus      `json:"status"`
	Strike           *big.Int       `json:"strike,omitempty"`
	Expiry           int64          `json:"expiry,omitempty"`
	EarliestExercise int64          `json:"earliestExercise,omitempty"`
	Premium          *big.Int       `json:"premium,omitempty"`
	PremiumToken     common.Address `json:"premiumToken,omitempty"`
	OracleSpot       *big.Int       `json:"oracleSpot,omitempty"`
	ProtocolFee      *big.Int       `json:"protocolFee,omitempty"`
	PartnerFee       *big.Int       `json:"partnerFee,omitempty"`
}

// QuoteStatus classifies the outcome of a signed quote preview. As with bids
// the checks run in a fixed order.
type QuoteStatus uint8

const (
	QuoteSuccess QuoteStatus = iota
	QuoteExpired
	QuoteAlreadyExecuted
	QuoteInsufficientFunding
	QuotePaused
	QuoteInvalid
)

func (s QuoteStatus) String() string {
	switch s {
	case QuoteSuccess:
		return "success"
	case QuoteExpired:
		return "expired"
	case QuoteAlreadyExecuted:
		return "already_executed"
	case QuoteInsufficientFunding:
		return "insufficient_funding"
	case QuotePaused:
		return "quotes_paused"
	case QuoteInvalid:
		return "invalid_quote"
	default:
		return "unknown"
	}
}

// Err maps a non-success status to its sentinel error. Success maps to nil.
func (s QuoteStatus) Err() error {
	switch s {
	case QuoteSuccess:
		return nil
	case QuoteExpired:
		return ErrQuoteExpired
	case QuoteAlreadyExecuted:
		return ErrQuoteAlreadyExecuted
	case QuoteInsufficientFunding:
		return ErrInsufficientFunds
	case QuotePaused:
		return ErrQuotesPaused
	case QuoteInvalid:
		return ErrInvalidQuote
	default:
		return ErrInvalidQuote
	}
}

// QuotePreview reports whether a signed quote is currently takeable. Quoter,
// premium and fee fields are populated only when Status is QuoteSuccess; Hash
// is always populated so callers can track the quote either way.
type QuotePreview struct {
	Status       QuoteStatus    `json:"status"`
	Hash         [32]byte       `json:"hash"`
	Quoter       common.Address `json:"quoter,omitempty"`
	Premium      *big.Int       `json:"premium,omitempty"`
	PremiumToken common.Address `json:"premiumToken,omitempty"`
	ProtocolFee  *big.Int       `json:"protocolFee,omitempty"`
	PartnerFee   *big.Int       `json:"partnerFee,omitempty"`
}
