package options

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/core/types"
)

const (
	EventTypeAuctionCreated       = "options.auction.created"
	EventTypeAuctionMatched       = "options.auction.matched"
	EventTypeQuoteTaken           = "options.quote.taken"
	EventTypeDirectMinted         = "options.direct.minted"
	EventTypeExercised            = "options.exercised"
	EventTypeBorrowed             = "options.borrowed"
	EventTypeRepaid               = "options.repaid"
	EventTypeWithdrawn            = "options.withdrawn"
	EventTypeOwnershipTransferred = "options.ownership.transferred"
	EventTypePositionTransferred  = "options.position.transferred"
	EventTypeVotesDelegated       = "options.votes.delegated"
	EventTypeQuotePauseSet        = "options.quote_pause.set"
)

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := map[string]string{
		"escrowId": formatID(e.ID),
		"index":    strconv.FormatUint(e.Index, 10),
		"owner":    e.Owner.Hex(),
		"state":    e.State.String(),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewAuctionCreatedEvent returns the canonical payload for a freshly opened
// auction escrow.
func NewAuctionCreatedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeAuctionCreated, e)
	evt.Attributes["underlying"] = e.Terms.Underlying.Hex()
	evt.Attributes["settlement"] = e.Terms.Settlement.Hex()
	evt.Attributes["notional"] = formatAmount(e.Terms.Notional)
	return evt
}

// NewAuctionMatchedEvent returns the canonical payload for a winning bid.
func NewAuctionMatchedEvent(e *Escrow, bidder, receiver common.Address, preview *BidPreview) *types.Event {
	evt := newEscrowEvent(EventTypeAuctionMatched, e)
	evt.Attributes["bidder"] = bidder.Hex()
	evt.Attributes["receiver"] = receiver.Hex()
	evt.Attributes["strike"] = formatAmount(e.Terms.Strike)
	evt.Attributes["expiry"] = strconv.FormatInt(e.Terms.Expiry, 10)
	evt.Attributes["premium"] = formatAmount(preview.Premium)
	evt.Attributes["premiumToken"] = preview.PremiumToken.Hex()
	evt.Attributes["oracleSpot"] = formatAmount(preview.OracleSpot)
	evt.Attributes["protocolFee"] = formatAmount(preview.ProtocolFee)
	evt.Attributes["partnerFee"] = formatAmount(preview.PartnerFee)
	return evt
}

// NewQuoteTakenEvent returns the canonical payload for a matched RFQ quote.
func NewQuoteTakenEvent(e *Escrow, quoter, receiver common.Address, hash [32]byte, premium *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeQuoteTaken, e)
	evt.Attributes["quoter"] = quoter.Hex()
	evt.Attributes["receiver"] = receiver.Hex()
	evt.Attributes["quoteHash"] = formatID(hash)
	evt.Attributes["premium"] = formatAmount(premium)
	return evt
}

// NewDirectMintedEvent returns the canonical payload for a direct mint.
func NewDirectMintedEvent(e *Escrow, receiver common.Address) *types.Event {
	evt := newEscrowEvent(EventTypeDirectMinted, e)
	evt.Attributes["receiver"] = receiver.Hex()
	return evt
}

// NewExercisedEvent returns the canonical payload for an exercise, partial or
// full.
func NewExercisedEvent(e *Escrow, caller, receiver common.Address, amount, cost, fee *big.Int, cashless bool) *types.Event {
	evt := newEscrowEvent(EventTypeExercised, e)
	evt.Attributes["caller"] = caller.Hex()
	evt.Attributes["receiver"] = receiver.Hex()
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["cost"] = formatAmount(cost)
	evt.Attributes["fee"] = formatAmount(fee)
	evt.Attributes["cashless"] = strconv.FormatBool(cashless)
	return evt
}

// NewBorrowedEvent returns the canonical payload for a collateral borrow.
func NewBorrowedEvent(e *Escrow, borrower, receiver common.Address, amount, collateral, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeBorrowed, e)
	evt.Attributes["borrower"] = borrower.Hex()
	evt.Attributes["receiver"] = receiver.Hex()
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["collateral"] = formatAmount(collateral)
	evt.Attributes["fee"] = formatAmount(fee)
	evt.Attributes["totalBorrowed"] = formatAmount(e.TotalBorrowed)
	return evt
}

// NewRepaidEvent returns the canonical payload for a borrow repayment.
func NewRepaidEvent(e *Escrow, borrower, receiver common.Address, amount, unlocked *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeRepaid, e)
	evt.Attributes["borrower"] = borrower.Hex()
	evt.Attributes["receiver"] = receiver.Hex()
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["unlocked"] = formatAmount(unlocked)
	evt.Attributes["totalBorrowed"] = formatAmount(e.TotalBorrowed)
	return evt
}

// NewWithdrawnEvent returns the canonical payload for a residual withdrawal.
func NewWithdrawnEvent(e *Escrow, caller, to, token common.Address, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeWithdrawn, e)
	evt.Attributes["caller"] = caller.Hex()
	evt.Attributes["to"] = to.Hex()
	evt.Attributes["token"] = token.Hex()
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

// NewOwnershipTransferredEvent returns the canonical payload for an owner
// change.
func NewOwnershipTransferredEvent(e *Escrow, previous common.Address) *types.Event {
	evt := newEscrowEvent(EventTypeOwnershipTransferred, e)
	evt.Attributes["previousOwner"] = previous.Hex()
	return evt
}

// NewPositionTransferredEvent returns the canonical payload for an option
// token transfer.
func NewPositionTransferredEvent(e *Escrow, from, to common.Address, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypePositionTransferred, e)
	evt.Attributes["from"] = from.Hex()
	evt.Attributes["to"] = to.Hex()
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

// NewVotesDelegatedEvent returns the canonical payload for a voting
// delegation.
func NewVotesDelegatedEvent(e *Escrow, delegate common.Address) *types.Event {
	evt := newEscrowEvent(EventTypeVotesDelegated, e)
	evt.Attributes["delegate"] = delegate.Hex()
	return evt
}

// NewQuotePauseSetEvent returns the canonical payload for a quoter pause
// toggle.
func NewQuotePauseSetEvent(quoter common.Address, paused bool) *types.Event {
	return &types.Event{
		Type: EventTypeQuotePauseSet,
		Attributes: map[string]string{
			"quoter": quoter.Hex(),
			"paused": strconv.FormatBool(paused),
		},
	}
}
