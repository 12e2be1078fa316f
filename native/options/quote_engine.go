package options

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PreviewTakeQuote evaluates a signed quote against the prospective owner
// without committing anything. The checks run in a fixed order: deadline,
// replay, owner funding, quoter pause, then term and signature validity. The
// quoter pause check needs a recovered signer, so a quote whose signature
// cannot be verified reports invalid even if the claimed quoter is paused.
func (e *Engine) PreviewTakeQuote(owner common.Address, terms OptionTerms, quote *RFQQuote, distPartner common.Address) (*QuotePreview, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if quote == nil {
		return nil, fmt.Errorf("options: quote required")
	}
	hash := QuoteHash(e.chainID, terms, quote.Premium, quote.ValidUntil)
	preview := &QuotePreview{Hash: hash}
	now := e.now()
	if quote.ValidUntil < now {
		preview.Status = QuoteExpired
		return preview, nil
	}
	used, err := e.state.QuoteConsumed(hash)
	if err != nil {
		return nil, err
	}
	if used {
		preview.Status = QuoteAlreadyExecuted
		return preview, nil
	}
	ownerBal, err := e.state.TokenBalance(terms.Underlying, owner)
	if err != nil {
		return nil, err
	}
	if ownerBal == nil || terms.Notional == nil || ownerBal.Cmp(terms.Notional) < 0 {
		preview.Status = QuoteInsufficientFunding
		return preview, nil
	}

	quoter := quote.Quoter
	verified := false
	if quoter != (common.Address{}) && e.verifier != nil && e.verifier.IsValidSignature(quoter, hash, quote.Signature) {
		verified = true
	}
	if !verified {
		recovered, err := RecoverQuoter(hash, quote.Signature)
		if err != nil {
			preview.Status = QuoteInvalid
			return preview, nil
		}
		if quoter != (common.Address{}) && recovered != quoter {
			preview.Status = QuoteInvalid
			return preview, nil
		}
		quoter = recovered
	}
	paused, err := e.state.QuotePaused(quoter)
	if err != nil {
		return nil, err
	}
	if paused {
		preview.Status = QuotePaused
		preview.Quoter = quoter
		return preview, nil
	}
	if _, err := TermsFromQuote(terms, now); err != nil {
		preview.Status = QuoteInvalid
		return preview, nil
	}
	if quote.Premium == nil || quote.Premium.Sign() <= 0 {
		preview.Status = QuoteInvalid
		return preview, nil
	}

	rate, share := e.matchFeeInfo(distPartner)
	protocolFee, partnerFee := SplitMatchFee(quote.Premium, rate, share)
	preview.Status = QuoteSuccess
	preview.Quoter = quoter
	preview.Premium = cloneBigInt(quote.Premium)
	preview.PremiumToken = premiumToken(&terms)
	preview.ProtocolFee = protocolFee
	preview.PartnerFee = partnerFee
	return preview, nil
}

// HandleTakeQuote matches a signed quote, creating the escrow directly in the
// matched state. The owner locks the notional, the quoter pays the premium
// net of fees to the owner and the option tokens are minted to the receiver.
// The quote hash joins the consumed set so the same signature can never
// execute twice.
func (e *Engine) HandleTakeQuote(owner, optionReceiver, distPartner common.Address, terms OptionTerms, quote *RFQQuote) (*Escrow, *QuotePreview, error) {
	if err := e.guard(); err != nil {
		return nil, nil, err
	}
	if owner == (common.Address{}) {
		return nil, nil, fmt.Errorf("options: owner required")
	}
	preview, err := e.PreviewTakeQuote(owner, terms, quote, distPartner)
	if err != nil {
		return nil, nil, err
	}
	if preview.Status != QuoteSuccess {
		return nil, preview, preview.Status.Err()
	}
	now := e.now()
	validated, err := TermsFromQuote(terms, now)
	if err != nil {
		return nil, preview, ErrInvalidQuote
	}
	receiver := optionReceiver
	if receiver == (common.Address{}) {
		receiver = preview.Quoter
	}

	quoterBal, err := e.state.TokenBalance(preview.PremiumToken, preview.Quoter)
	if err != nil {
		return nil, nil, err
	}
	if quoterBal == nil || quoterBal.Cmp(preview.Premium) < 0 {
		return nil, nil, ErrPremiumUnpayable
	}

	index, err := e.state.NextEscrowIndex()
	if err != nil {
		return nil, nil, err
	}
	id := EscrowID(owner, validated.Underlying, validated.Settlement, index)
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, nil, ErrEscrowExists
	}
	if err := e.state.ConsumeQuote(preview.Hash); err != nil {
		return nil, nil, err
	}
	if err := e.transferToken(validated.Underlying, owner, VaultAddress(id), validated.Notional); err != nil {
		return nil, nil, err
	}

	toOwner := new(big.Int).Sub(preview.Premium, preview.ProtocolFee)
	toOwner.Sub(toOwner, preview.PartnerFee)
	if err := e.transferToken(preview.PremiumToken, preview.Quoter, owner, toOwner); err != nil {
		return nil, nil, err
	}
	if err := e.payFee(preview.PremiumToken, preview.Quoter, preview.ProtocolFee); err != nil {
		return nil, nil, err
	}
	if preview.PartnerFee.Sign() > 0 {
		if err := e.transferToken(preview.PremiumToken, preview.Quoter, distPartner, preview.PartnerFee); err != nil {
			return nil, nil, err
		}
	}

	esc := &Escrow{
		ID:            id,
		Index:         index,
		Owner:         owner,
		State:         EscrowMatched,
		Terms:         validated,
		Supply:        cloneBigInt(validated.Notional),
		PremiumPaid:   cloneBigInt(preview.Premium),
		TotalBorrowed: big.NewInt(0),
		CreatedAt:     now,
		MatchedAt:     now,
	}
	if err := e.creditPosition(id, receiver, cloneBigInt(validated.Notional)); err != nil {
		return nil, nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, nil, err
	}
	e.emit(NewQuoteTakenEvent(esc, preview.Quoter, receiver, preview.Hash, preview.Premium))
	e.telemetry.RecordMatch("rfq", preview.Premium)
	return esc.Clone(), preview, nil
}

// HandleDirectMint creates a matched escrow without an auction or a quote.
// The owner locks the notional and receives no premium; the option tokens go
// to the receiver.
func (e *Engine) HandleDirectMint(owner, optionReceiver common.Address, terms OptionTerms) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("options: owner required")
	}
	now := e.now()
	validated, err := TermsFromDirectMint(terms, now)
	if err != nil {
		return nil, err
	}
	receiver := optionReceiver
	if receiver == (common.Address{}) {
		receiver = owner
	}
	ownerBal, err := e.state.TokenBalance(validated.Underlying, owner)
	if err != nil {
		return nil, err
	}
	if ownerBal == nil || ownerBal.Cmp(validated.Notional) < 0 {
		return nil, ErrInsufficientFunds
	}
	index, err := e.state.NextEscrowIndex()
	if err != nil {
		return nil, err
	}
	id := EscrowID(owner, validated.Underlying, validated.Settlement, index)
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, ErrEscrowExists
	}
	if err := e.transferToken(validated.Underlying, owner, VaultAddress(id), validated.Notional); err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:            id,
		Index:         index,
		Owner:         owner,
		State:         EscrowMatched,
		Terms:         validated,
		Supply:        cloneBigInt(validated.Notional),
		PremiumPaid:   big.NewInt(0),
		TotalBorrowed: big.NewInt(0),
		CreatedAt:     now,
		MatchedAt:     now,
	}
	if err := e.creditPosition(id, receiver, cloneBigInt(validated.Notional)); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewDirectMintedEvent(esc, receiver))
	e.telemetry.RecordMatch("direct", nil)
	return esc.Clone(), nil
}

// SetQuotePause toggles the caller's own quoting pause. While paused, no new
// quotes signed by the caller can be taken; previously matched escrows are
// unaffected.
func (e *Engine) SetQuotePause(caller common.Address, paused bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if caller == (common.Address{}) {
		return ErrUnauthorized
	}
	if err := e.state.SetQuotePaused(caller, paused); err != nil {
		return err
	}
	e.emit(NewQuotePauseSetEvent(caller, paused))
	return nil
}

// QuotePauseStatus reports whether a quoter currently has quoting paused.
func (e *Engine) QuotePauseStatus(quoter common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.QuotePaused(quoter)
}
