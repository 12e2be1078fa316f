package options

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/core/events"
	"optionchain/core/types"
	nativecommon "optionchain/native/common"
	"optionchain/observability/metrics"
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	NextEscrowIndex() (uint64, error)
	PositionBalance(id [32]byte, holder common.Address) (*big.Int, error)
	PositionSet(id [32]byte, holder common.Address, amount *big.Int) error
	QuoteConsumed(hash [32]byte) (bool, error)
	ConsumeQuote(hash [32]byte) error
	QuotePaused(quoter common.Address) (bool, error)
	SetQuotePaused(quoter common.Address, paused bool) error
	TokenBalance(token, holder common.Address) (*big.Int, error)
	TokenTransfer(token, from, to common.Address, amount *big.Int) error
	TokenDecimals(token common.Address) (uint8, error)
}

// Oracle supplies the spot price of the underlying denominated in the
// settlement token, scaled by 10^settlementDecimals. The auxiliary data blob
// carries optional signed price attestations and is passed through untouched.
type Oracle interface {
	Price(base, quote common.Address, auxData []byte) (*big.Int, error)
}

// FeeProvider supplies the protocol fee schedule. Implementations cap the
// returned rates; the engine applies whatever it is given.
type FeeProvider interface {
	MatchFeeInfo(partner common.Address) (rate, partnerShare *big.Int)
	ExerciseFeeRate() *big.Int
}

// DelegateRegistry receives voting delegations for escrowed collateral.
type DelegateRegistry interface {
	Address() common.Address
	SetDelegate(space [32]byte, delegate common.Address) error
}

type optionsEvent struct {
	evt *types.Event
}

func (o optionsEvent) EventType() string {
	if o.evt == nil {
		return ""
	}
	return o.evt.Type
}

func (o optionsEvent) Event() *types.Event { return o.evt }

// Engine wires the option escrow business logic with external state, price
// oracles, the fee schedule and event emitters. All mutating operations are
// meant to run on a single writer; the engine performs no internal locking.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	fees        FeeProvider
	oracle      Oracle
	verifier    ContractVerifier
	delegates   DelegateRegistry
	feeTreasury common.Address
	router      common.Address
	chainID     uint64
	nowFn       func() int64
	telemetry   *metrics.OptionsMetrics
}

// NewEngine creates an options engine with a no-op emitter. Callers configure
// collaborators through the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		telemetry: metrics.Options(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses configures the module pause view consulted before matching and
// borrowing operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetFeeProvider configures the fee schedule. A nil provider disables fees.
func (e *Engine) SetFeeProvider(p FeeProvider) { e.fees = p }

// SetFeeTreasury configures the address that receives protocol fees.
func (e *Engine) SetFeeTreasury(addr common.Address) { e.feeTreasury = addr }

// SetOracle configures the price source used for matching and cashless
// exercise.
func (e *Engine) SetOracle(o Oracle) { e.oracle = o }

// SetContractVerifier configures the EIP-1271 style verifier consulted for
// contract quoters. A nil verifier restricts quotes to raw ECDSA signatures.
func (e *Engine) SetContractVerifier(v ContractVerifier) { e.verifier = v }

// SetDelegateRegistry configures the registry receiving voting delegations.
func (e *Engine) SetDelegateRegistry(r DelegateRegistry) { e.delegates = r }

// SetRouter configures the router address that may withdraw on behalf of
// escrow owners.
func (e *Engine) SetRouter(addr common.Address) { e.router = addr }

// SetChainID binds quote digests to a chain id so signatures cannot be
// replayed across deployments.
func (e *Engine) SetChainID(id uint64) { e.chainID = id }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(optionsEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// guard rejects calls while the module is paused or unconfigured.
func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nativecommon.Guard(e.pauses, ModuleName)
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	escrow, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return escrow, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	sanitized, err := sanitizeEscrow(esc)
	if err != nil {
		return err
	}
	return e.state.EscrowPut(sanitized)
}

func (e *Engine) transferToken(token, from, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("options: negative transfer amount")
	}
	return e.state.TokenTransfer(token, from, to, amt)
}

// payFee moves a protocol fee to the treasury, insisting the treasury is
// configured whenever a non-zero fee is due.
func (e *Engine) payFee(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if e.feeTreasury == (common.Address{}) {
		return ErrNilTreasury
	}
	return e.transferToken(token, from, e.feeTreasury, amount)
}

func (e *Engine) positionBalance(id [32]byte, holder common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	bal, err := e.state.PositionBalance(id, holder)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(bal), nil
}

func (e *Engine) creditPosition(id [32]byte, holder common.Address, amount *big.Int) error {
	bal, err := e.positionBalance(id, holder)
	if err != nil {
		return err
	}
	return e.state.PositionSet(id, holder, bal.Add(bal, amount))
}

func (e *Engine) debitPosition(id [32]byte, holder common.Address, amount *big.Int) error {
	bal, err := e.positionBalance(id, holder)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientOptions
	}
	return e.state.PositionSet(id, holder, bal.Sub(bal, amount))
}

func (e *Engine) spotPrice(terms *OptionTerms, oracleData []byte) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	spot, err := e.oracle.Price(terms.Underlying, terms.Settlement, oracleData)
	if err != nil {
		return nil, fmt.Errorf("options: oracle price: %w", err)
	}
	if spot == nil || spot.Sign() <= 0 {
		return nil, fmt.Errorf("options: oracle returned non-positive price")
	}
	return spot, nil
}

func (e *Engine) matchFeeInfo(partner common.Address) (*big.Int, *big.Int) {
	if e.fees == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	rate, share := e.fees.MatchFeeInfo(partner)
	return cloneBigInt(rate), cloneBigInt(share)
}

func (e *Engine) exerciseFeeRate() *big.Int {
	if e.fees == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.fees.ExerciseFeeRate())
}

func (e *Engine) underlyingDecimals(terms *OptionTerms) (uint8, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	return e.state.TokenDecimals(terms.Underlying)
}

// premiumToken resolves the denomination the match premium is paid in.
func premiumToken(terms *OptionTerms) common.Address {
	if terms.Advanced.PremiumTokenIsUnderlying {
		return terms.Underlying
	}
	return terms.Settlement
}

// CreateAuction opens a new Dutch auction escrow, pulling the notional from
// the owner into the escrow vault. The returned escrow is a clone.
func (e *Engine) CreateAuction(owner, underlying, settlement common.Address, notional *big.Int, adv AdvancedSettings, sched *AuctionSchedule) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("options: owner required")
	}
	terms, err := NewAuctionTerms(underlying, settlement, notional, adv, sched)
	if err != nil {
		return nil, err
	}
	index, err := e.state.NextEscrowIndex()
	if err != nil {
		return nil, err
	}
	id := EscrowID(owner, underlying, settlement, index)
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, ErrEscrowExists
	}
	esc := &Escrow{
		ID:            id,
		Index:         index,
		Owner:         owner,
		State:         EscrowUnmatched,
		Terms:         terms,
		Schedule:      sched.Clone(),
		Supply:        big.NewInt(0),
		PremiumPaid:   big.NewInt(0),
		TotalBorrowed: big.NewInt(0),
		CreatedAt:     e.now(),
	}
	if err := e.transferToken(terms.Underlying, owner, VaultAddress(id), terms.Notional); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewAuctionCreatedEvent(esc))
	return esc.Clone(), nil
}

// AuctionAsk returns the relative premium the auction currently asks for.
func (e *Engine) AuctionAsk(id [32]byte) (*big.Int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Schedule == nil {
		return nil, ErrNotAnAuction
	}
	return CurrentAsk(esc.Schedule, e.now()), nil
}

// PreviewBid evaluates an auction bid without committing anything. The checks
// run in a fixed order and the first failing one determines the status; the
// pricing fields are populated only on success.
func (e *Engine) PreviewBid(id [32]byte, relBid, refSpot *big.Int, oracleData []byte, distPartner common.Address) (*BidPreview, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return e.previewBid(esc, relBid, refSpot, oracleData, distPartner)
}

func (e *Engine) previewBid(esc *Escrow, relBid, refSpot *big.Int, oracleData []byte, distPartner common.Address) (*BidPreview, error) {
	if esc.Schedule == nil {
		return &BidPreview{Status: BidNotAnAuction}, nil
	}
	if esc.Minted() {
		return &BidPreview{Status: BidOptionAlreadyMinted}, nil
	}
	now := e.now()
	ask := CurrentAsk(esc.Schedule, now)
	if relBid == nil || relBid.Cmp(ask) < 0 {
		return &BidPreview{Status: BidPremiumTooLow}, nil
	}
	spot, err := e.spotPrice(&esc.Terms, oracleData)
	if err != nil {
		return nil, err
	}
	if refSpot == nil || refSpot.Cmp(spot) < 0 {
		return &BidPreview{Status: BidSpotPriceTooLow}, nil
	}
	if spot.Cmp(esc.Schedule.MinSpot) < 0 || spot.Cmp(esc.Schedule.MaxSpot) > 0 {
		return &BidPreview{Status: BidOutOfRangeSpotPrice}, nil
	}
	vaultBal, err := e.state.TokenBalance(esc.Terms.Underlying, VaultAddress(esc.ID))
	if err != nil {
		return nil, err
	}
	if vaultBal == nil || vaultBal.Cmp(esc.Terms.Notional) < 0 {
		return &BidPreview{Status: BidInsufficientFunding}, nil
	}

	strike := StrikeFromSpot(spot, esc.Schedule.RelStrike)
	token := premiumToken(&esc.Terms)
	var premium *big.Int
	if esc.Terms.Advanced.PremiumTokenIsUnderlying {
		premium = PremiumInUnderlying(esc.Terms.Notional, relBid)
	} else {
		decimals, err := e.underlyingDecimals(&esc.Terms)
		if err != nil {
			return nil, err
		}
		premium = PremiumInSettlement(esc.Terms.Notional, relBid, spot, decimals)
	}
	rate, share := e.matchFeeInfo(distPartner)
	protocolFee, partnerFee := SplitMatchFee(premium, rate, share)
	return &BidPreview{
		Status:           BidSuccess,
		Strike:           strike,
		Expiry:           now + esc.Schedule.Tenor,
		EarliestExercise: now + esc.Schedule.EarliestExerciseTenor,
		Premium:          premium,
		PremiumToken:     token,
		OracleSpot:       spot,
		ProtocolFee:      protocolFee,
		PartnerFee:       partnerFee,
	}, nil
}

// HandleAuctionBid matches an auction with the supplied bid. The preview runs
// again inside the call and the bid commits only when it reports success, so
// callers hitting a later oracle update or a front-running bid fail cleanly.
// On success the premium moves from the bidder to the owner net of fees and
// the full notional of option tokens is minted to the receiver.
func (e *Engine) HandleAuctionBid(id [32]byte, bidder, optionReceiver, distPartner common.Address, relBid, refSpot *big.Int, oracleData []byte) (*BidPreview, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if bidder == (common.Address{}) {
		return nil, fmt.Errorf("options: bidder required")
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	preview, err := e.previewBid(esc, relBid, refSpot, oracleData, distPartner)
	if err != nil {
		return nil, err
	}
	if preview.Status != BidSuccess {
		return preview, preview.Status.Err()
	}
	receiver := optionReceiver
	if receiver == (common.Address{}) {
		receiver = bidder
	}
	now := e.now()
	finalized, err := TermsFromAuctionMatch(esc.Terms, esc.Schedule, preview.OracleSpot, now)
	if err != nil {
		return nil, err
	}

	bidderBal, err := e.state.TokenBalance(preview.PremiumToken, bidder)
	if err != nil {
		return nil, err
	}
	if bidderBal == nil || bidderBal.Cmp(preview.Premium) < 0 {
		return nil, ErrPremiumUnpayable
	}
	toOwner := new(big.Int).Sub(preview.Premium, preview.ProtocolFee)
	toOwner.Sub(toOwner, preview.PartnerFee)
	if err := e.transferToken(preview.PremiumToken, bidder, esc.Owner, toOwner); err != nil {
		return nil, err
	}
	if err := e.payFee(preview.PremiumToken, bidder, preview.ProtocolFee); err != nil {
		return nil, err
	}
	if preview.PartnerFee.Sign() > 0 {
		if err := e.transferToken(preview.PremiumToken, bidder, distPartner, preview.PartnerFee); err != nil {
			return nil, err
		}
	}

	esc.Terms = finalized
	esc.State = EscrowMatched
	esc.MatchedAt = now
	esc.PremiumPaid = cloneBigInt(preview.Premium)
	esc.Supply = cloneBigInt(esc.Terms.Notional)
	if err := e.creditPosition(esc.ID, receiver, cloneBigInt(esc.Terms.Notional)); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewAuctionMatchedEvent(esc, bidder, receiver, preview))
	e.telemetry.RecordMatch("auction", preview.Premium)
	return preview, nil
}

// EscrowByID returns a clone of the stored escrow.
func (e *Engine) EscrowByID(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// PositionBalanceOf returns the option token balance a holder has in an
// escrow.
func (e *Engine) PositionBalanceOf(id [32]byte, holder common.Address) (*big.Int, error) {
	if _, err := e.loadEscrow(id); err != nil {
		return nil, err
	}
	return e.positionBalance(id, holder)
}
