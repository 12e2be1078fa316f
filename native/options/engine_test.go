package options

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/core/events"
	"optionchain/core/types"
	nativecommon "optionchain/native/common"
)

var (
	tokenUnderlying = newTestAddress(0x11)
	tokenSettlement = newTestAddress(0x22)
	addrOracleFeed  = newTestAddress(0x33)
	addrOwner       = newTestAddress(0x44)
	addrBidder      = newTestAddress(0x55)
	addrHolder      = newTestAddress(0x66)
	addrPartner     = newTestAddress(0x77)
	addrRouter      = newTestAddress(0x88)
	addrTreasury    = newTestAddress(0xFE)
)

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

func tokens18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func units6(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type mockState struct {
	escrows   map[[32]byte]*Escrow
	index     uint64
	positions map[[32]byte]map[common.Address]*big.Int
	quotes    map[[32]byte]bool
	paused    map[common.Address]bool
	balances  map[common.Address]map[common.Address]*big.Int
	decimals  map[common.Address]uint8
}

func newMockState() *mockState {
	return &mockState{
		escrows:   make(map[[32]byte]*Escrow),
		positions: make(map[[32]byte]map[common.Address]*big.Int),
		quotes:    make(map[[32]byte]bool),
		paused:    make(map[common.Address]bool),
		balances:  make(map[common.Address]map[common.Address]*big.Int),
		decimals: map[common.Address]uint8{
			tokenUnderlying: 18,
			tokenSettlement: 6,
		},
	}
}

var _ engineState = (*mockState)(nil)

func (m *mockState) EscrowPut(e *Escrow) error {
	if e == nil {
		return fmt.Errorf("nil escrow")
	}
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) NextEscrowIndex() (uint64, error) {
	m.index++
	return m.index, nil
}

func (m *mockState) PositionBalance(id [32]byte, holder common.Address) (*big.Int, error) {
	if holders, ok := m.positions[id]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) PositionSet(id [32]byte, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("negative position")
	}
	if _, ok := m.positions[id]; !ok {
		m.positions[id] = make(map[common.Address]*big.Int)
	}
	m.positions[id][holder] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) QuoteConsumed(hash [32]byte) (bool, error) {
	return m.quotes[hash], nil
}

func (m *mockState) ConsumeQuote(hash [32]byte) error {
	m.quotes[hash] = true
	return nil
}

func (m *mockState) QuotePaused(quoter common.Address) (bool, error) {
	return m.paused[quoter], nil
}

func (m *mockState) SetQuotePaused(quoter common.Address, paused bool) error {
	m.paused[quoter] = paused
	return nil
}

func (m *mockState) TokenBalance(token, holder common.Address) (*big.Int, error) {
	if holders, ok := m.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) setBalance(token, holder common.Address, amount *big.Int) {
	if _, ok := m.balances[token]; !ok {
		m.balances[token] = make(map[common.Address]*big.Int)
	}
	m.balances[token][holder] = new(big.Int).Set(amount)
}

func (m *mockState) TokenTransfer(token, from, to common.Address, amount *big.Int) error {
	if _, ok := m.decimals[token]; !ok {
		return fmt.Errorf("unknown token")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, _ := m.TokenBalance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	toBal, _ := m.TokenBalance(token, to)
	m.setBalance(token, from, fromBal.Sub(fromBal, amount))
	m.setBalance(token, to, toBal.Add(toBal, amount))
	return nil
}

func (m *mockState) TokenDecimals(token common.Address) (uint8, error) {
	dec, ok := m.decimals[token]
	if !ok {
		return 0, fmt.Errorf("unknown token")
	}
	return dec, nil
}

func (m *mockState) fund(token, holder common.Address, amount *big.Int) {
	bal, _ := m.TokenBalance(token, holder)
	m.setBalance(token, holder, bal.Add(bal, amount))
}

func (m *mockState) mustBalance(t *testing.T, token, holder common.Address) *big.Int {
	t.Helper()
	bal, err := m.TokenBalance(token, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

type stubOracle struct {
	price   *big.Int
	err     error
	lastAux []byte
}

func (o *stubOracle) Price(base, quote common.Address, aux []byte) (*big.Int, error) {
	o.lastAux = aux
	if o.err != nil {
		return nil, o.err
	}
	return new(big.Int).Set(o.price), nil
}

type stubFees struct {
	matchRate    *big.Int
	exerciseRate *big.Int
	shares       map[common.Address]*big.Int
}

func (f *stubFees) MatchFeeInfo(partner common.Address) (*big.Int, *big.Int) {
	share := big.NewInt(0)
	if s, ok := f.shares[partner]; ok {
		share = new(big.Int).Set(s)
	}
	return new(big.Int).Set(f.matchRate), share
}

func (f *stubFees) ExerciseFeeRate() *big.Int {
	return new(big.Int).Set(f.exerciseRate)
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) has(eventType string) bool {
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			return true
		}
	}
	return false
}

func (r *recordingEmitter) last(t *testing.T) *types.Event {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatalf("no events emitted")
	}
	wrapped, ok := r.events[len(r.events)-1].(interface{ Event() *types.Event })
	if !ok {
		t.Fatalf("unexpected event shape %T", r.events[len(r.events)-1])
	}
	return wrapped.Event()
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

func newTestEngine() (*Engine, *mockState, *testClock, *recordingEmitter) {
	state := newMockState()
	clock := &testClock{now: 1_700_000_000}
	emitter := &recordingEmitter{}
	eng := NewEngine()
	eng.SetState(state)
	eng.SetNowFunc(clock.Now)
	eng.SetEmitter(emitter)
	eng.SetChainID(1337)
	eng.SetFeeTreasury(addrTreasury)
	eng.SetOracle(&stubOracle{price: units6(2000)})
	eng.SetFeeProvider(&stubFees{
		matchRate:    big.NewInt(100_000_000_000_000_000), // 10%
		exerciseRate: big.NewInt(5_000_000_000_000_000),   // 0.5%
		shares: map[common.Address]*big.Int{
			addrPartner: big.NewInt(250_000_000_000_000_000), // 25%
		},
	})
	return eng, state, clock, emitter
}

func testAdvanced() AdvancedSettings {
	return AdvancedSettings{
		BorrowCap: big.NewInt(0),
		Oracle:    addrOracleFeed,
	}
}

func testSchedule(startAt int64) *AuctionSchedule {
	return &AuctionSchedule{
		RelStrike:             new(big.Int).Set(wad),
		Tenor:                 30 * 86_400,
		EarliestExerciseTenor: 86_400,
		DecayStartTime:        startAt,
		DecayDuration:         7 * 86_400,
		RelPremiumStart:       big.NewInt(10_000_000_000_000_000),
		RelPremiumFloor:       big.NewInt(5_000_000_000_000_000),
		MinSpot:               units6(1000),
		MaxSpot:               units6(3000),
	}
}

func createTestAuction(t *testing.T, eng *Engine, state *mockState, clock *testClock) *Escrow {
	t.Helper()
	state.fund(tokenUnderlying, addrOwner, tokens18(100))
	esc, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenSettlement, tokens18(100), testAdvanced(), testSchedule(clock.now))
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return esc
}

func TestCreateAuctionLocksCollateral(t *testing.T) {
	eng, state, clock, emitter := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)

	if esc.State != EscrowUnmatched {
		t.Fatalf("state = %s, want unmatched", esc.State)
	}
	if esc.Index != 1 {
		t.Fatalf("index = %d, want 1", esc.Index)
	}
	if got := state.mustBalance(t, tokenUnderlying, addrOwner); got.Sign() != 0 {
		t.Fatalf("owner balance after lock: %s", got)
	}
	if got := state.mustBalance(t, tokenUnderlying, VaultAddress(esc.ID)); got.Cmp(tokens18(100)) != 0 {
		t.Fatalf("vault balance: %s, want 100e18", got)
	}
	if !emitter.has(EventTypeAuctionCreated) {
		t.Fatalf("missing %s event", EventTypeAuctionCreated)
	}
	if esc.PositionSymbol() != "OCP-1" {
		t.Fatalf("symbol = %s", esc.PositionSymbol())
	}
	if esc.PositionName() != "OptionChain Position 1" {
		t.Fatalf("name = %s", esc.PositionName())
	}

	second := createTestAuction(t, eng, state, clock)
	if second.Index != 2 {
		t.Fatalf("second index = %d, want 2", second.Index)
	}
	if second.ID == esc.ID {
		t.Fatalf("expected distinct escrow ids")
	}
}

func TestCreateAuctionValidation(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	state.fund(tokenUnderlying, addrOwner, tokens18(1000))

	cases := []struct {
		name    string
		mutate  func(*AuctionSchedule, *AdvancedSettings)
		wantErr error
	}{
		{"floor above start", func(s *AuctionSchedule, _ *AdvancedSettings) {
			s.RelPremiumFloor = new(big.Int).Add(s.RelPremiumStart, big.NewInt(1))
		}, ErrPremiumBounds},
		{"zero floor", func(s *AuctionSchedule, _ *AdvancedSettings) {
			s.RelPremiumFloor = big.NewInt(0)
		}, ErrPremiumBounds},
		{"window too short", func(s *AuctionSchedule, _ *AdvancedSettings) {
			s.Tenor = s.EarliestExerciseTenor + MinExerciseWindow - 1
		}, ErrExerciseWindow},
		{"inverted spot bounds", func(s *AuctionSchedule, _ *AdvancedSettings) {
			s.MaxSpot = new(big.Int).Sub(s.MinSpot, big.NewInt(1))
		}, ErrSpotBounds},
		{"zero rel strike", func(s *AuctionSchedule, _ *AdvancedSettings) {
			s.RelStrike = big.NewInt(0)
		}, ErrZeroStrike},
		{"zero oracle", func(_ *AuctionSchedule, a *AdvancedSettings) {
			a.Oracle = common.Address{}
		}, ErrZeroOracle},
		{"borrow cap above wad", func(_ *AuctionSchedule, a *AdvancedSettings) {
			a.BorrowCap = new(big.Int).Add(wad, big.NewInt(1))
		}, ErrBorrowCapTooHigh},
	}
	for _, tc := range cases {
		sched := testSchedule(clock.now)
		adv := testAdvanced()
		tc.mutate(sched, &adv)
		if _, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenSettlement, tokens18(100), adv, sched); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
	}

	if _, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenUnderlying, tokens18(100), testAdvanced(), testSchedule(clock.now)); !errors.Is(err, ErrSameToken) {
		t.Fatalf("same token: err = %v", err)
	}
	if _, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenSettlement, big.NewInt(0), testAdvanced(), testSchedule(clock.now)); !errors.Is(err, ErrZeroNotional) {
		t.Fatalf("zero notional: err = %v", err)
	}
	if _, err := eng.CreateAuction(addrBidder, tokenUnderlying, tokenSettlement, tokens18(100), testAdvanced(), testSchedule(clock.now)); err == nil {
		t.Fatalf("unfunded owner should fail collateral pull")
	}
}

func TestPreviewBidStatusOrder(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)
	relBid := big.NewInt(10_000_000_000_000_000)

	// No schedule wins over everything else.
	plain := esc.Clone()
	plain.ID[0] ^= 0xFF
	plain.Schedule = nil
	if err := state.EscrowPut(plain); err != nil {
		t.Fatalf("put: %v", err)
	}
	pv, err := eng.PreviewBid(plain.ID, relBid, units6(2000), nil, common.Address{})
	if err != nil || pv.Status != BidNotAnAuction {
		t.Fatalf("no schedule: status=%v err=%v", pv.Status, err)
	}

	// A minted auction reports the mint before any pricing check.
	minted := esc.Clone()
	minted.ID[1] ^= 0xFF
	minted.MatchedAt = clock.now
	if err := state.EscrowPut(minted); err != nil {
		t.Fatalf("put: %v", err)
	}
	pv, err = eng.PreviewBid(minted.ID, big.NewInt(1), nil, nil, common.Address{})
	if err != nil || pv.Status != BidOptionAlreadyMinted {
		t.Fatalf("minted: status=%v err=%v", pv.Status, err)
	}

	pv, err = eng.PreviewBid(esc.ID, big.NewInt(9_999_999_999_999_999), units6(2000), nil, common.Address{})
	if err != nil || pv.Status != BidPremiumTooLow {
		t.Fatalf("low bid: status=%v err=%v", pv.Status, err)
	}

	pv, err = eng.PreviewBid(esc.ID, relBid, units6(1999), nil, common.Address{})
	if err != nil || pv.Status != BidSpotPriceTooLow {
		t.Fatalf("stale ref spot: status=%v err=%v", pv.Status, err)
	}

	eng.SetOracle(&stubOracle{price: units6(5000)})
	pv, err = eng.PreviewBid(esc.ID, relBid, units6(5000), nil, common.Address{})
	if err != nil || pv.Status != BidOutOfRangeSpotPrice {
		t.Fatalf("out of range spot: status=%v err=%v", pv.Status, err)
	}
	eng.SetOracle(&stubOracle{price: units6(2000)})

	// Draining the unmatched escrow leaves it underfunded for bids.
	if err := eng.HandleWithdraw(esc.ID, addrOwner, addrOwner, tokenUnderlying, tokens18(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pv, err = eng.PreviewBid(esc.ID, relBid, units6(2000), nil, common.Address{})
	if err != nil || pv.Status != BidInsufficientFunding {
		t.Fatalf("drained: status=%v err=%v", pv.Status, err)
	}
}

func TestAuctionMidpointScenario(t *testing.T) {
	eng, state, clock, emitter := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)
	state.fund(tokenSettlement, addrBidder, units6(10_000))

	clock.now += 3*86_400 + 43_200 // midway through the decay window
	ask, err := eng.AuctionAsk(esc.ID)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if want := big.NewInt(7_500_000_000_000_000); ask.Cmp(want) != 0 {
		t.Fatalf("midpoint ask = %s, want %s", ask, want)
	}

	pv, err := eng.PreviewBid(esc.ID, big.NewInt(6_000_000_000_000_000), units6(2000), nil, addrPartner)
	if err != nil || pv.Status != BidPremiumTooLow {
		t.Fatalf("bid below ask: status=%v err=%v", pv.Status, err)
	}

	relBid := big.NewInt(8_000_000_000_000_000)
	preview, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrHolder, addrPartner, relBid, units6(2000), nil)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if preview.Status != BidSuccess {
		t.Fatalf("status = %v", preview.Status)
	}
	if got := preview.Premium; got.Cmp(units6(1600)) != 0 {
		t.Fatalf("premium = %s, want 1600e6", got)
	}
	if preview.PremiumToken != tokenSettlement {
		t.Fatalf("premium token = %s", preview.PremiumToken.Hex())
	}
	if preview.Strike.Cmp(units6(2000)) != 0 {
		t.Fatalf("strike = %s, want 2000e6", preview.Strike)
	}
	if preview.Expiry != clock.now+30*86_400 {
		t.Fatalf("expiry = %d", preview.Expiry)
	}
	if preview.EarliestExercise != clock.now+86_400 {
		t.Fatalf("earliest exercise = %d", preview.EarliestExercise)
	}

	// 10% match fee on 1600, of which the partner keeps 25%.
	if preview.ProtocolFee.Cmp(units6(120)) != 0 || preview.PartnerFee.Cmp(units6(40)) != 0 {
		t.Fatalf("fees = %s / %s, want 120e6 / 40e6", preview.ProtocolFee, preview.PartnerFee)
	}
	ownerGot := state.mustBalance(t, tokenSettlement, addrOwner)
	sum := new(big.Int).Add(ownerGot, preview.ProtocolFee)
	sum.Add(sum, preview.PartnerFee)
	if sum.Cmp(preview.Premium) != 0 {
		t.Fatalf("premium split leaks: owner %s + fees != %s", ownerGot, preview.Premium)
	}
	if got := state.mustBalance(t, tokenSettlement, addrTreasury); got.Cmp(units6(120)) != 0 {
		t.Fatalf("treasury = %s", got)
	}
	if got := state.mustBalance(t, tokenSettlement, addrPartner); got.Cmp(units6(40)) != 0 {
		t.Fatalf("partner = %s", got)
	}
	if got := state.mustBalance(t, tokenSettlement, addrBidder); got.Cmp(units6(8400)) != 0 {
		t.Fatalf("bidder = %s", got)
	}

	stored, err := eng.EscrowByID(esc.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.State != EscrowMatched {
		t.Fatalf("state = %s", stored.State)
	}
	if stored.Supply.Cmp(tokens18(100)) != 0 {
		t.Fatalf("supply = %s", stored.Supply)
	}
	if stored.PremiumPaid.Cmp(units6(1600)) != 0 {
		t.Fatalf("premium paid = %s", stored.PremiumPaid)
	}
	held, err := eng.PositionBalanceOf(esc.ID, addrHolder)
	if err != nil || held.Cmp(tokens18(100)) != 0 {
		t.Fatalf("holder position = %s err=%v", held, err)
	}
	if !emitter.has(EventTypeAuctionMatched) {
		t.Fatalf("missing %s event", EventTypeAuctionMatched)
	}

	// The auction is spent; further bids must fail.
	if _, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrBidder, common.Address{}, relBid, units6(2000), nil); !errors.Is(err, ErrOptionMinted) {
		t.Fatalf("second bid err = %v, want %v", err, ErrOptionMinted)
	}
}

func TestBidRevalidatesAtCommit(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)
	state.fund(tokenSettlement, addrBidder, units6(10_000))
	relBid := big.NewInt(10_000_000_000_000_000)

	pv, err := eng.PreviewBid(esc.ID, relBid, units6(2000), nil, common.Address{})
	if err != nil || pv.Status != BidSuccess {
		t.Fatalf("preview: status=%v err=%v", pv.Status, err)
	}

	// Price moves above the bidder's reference before the commit lands.
	eng.SetOracle(&stubOracle{price: units6(2100)})
	commit, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrBidder, common.Address{}, relBid, units6(2000), nil)
	if !errors.Is(err, ErrSpotPriceTooLow) {
		t.Fatalf("commit err = %v, want %v", err, ErrSpotPriceTooLow)
	}
	if commit.Status != BidSpotPriceTooLow {
		t.Fatalf("commit status = %v", commit.Status)
	}
	stored, _ := eng.EscrowByID(esc.ID)
	if stored.State != EscrowUnmatched {
		t.Fatalf("escrow mutated on failed commit")
	}
}

func TestBidPremiumInUnderlying(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	state.fund(tokenUnderlying, addrOwner, tokens18(100))
	adv := testAdvanced()
	adv.PremiumTokenIsUnderlying = true
	esc, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenSettlement, tokens18(100), adv, testSchedule(clock.now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.fund(tokenUnderlying, addrBidder, tokens18(1))

	preview, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrBidder, common.Address{}, big.NewInt(10_000_000_000_000_000), units6(2000), nil)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if preview.PremiumToken != tokenUnderlying {
		t.Fatalf("premium token = %s", preview.PremiumToken.Hex())
	}
	// 1% of 100 tokens.
	if preview.Premium.Cmp(tokens18(1)) != 0 {
		t.Fatalf("premium = %s, want 1e18", preview.Premium)
	}
}

func TestBidUnpayablePremium(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)
	// Bidder holds less than the premium the bid implies.
	state.fund(tokenSettlement, addrBidder, units6(100))
	_, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrBidder, common.Address{}, big.NewInt(10_000_000_000_000_000), units6(2000), nil)
	if !errors.Is(err, ErrPremiumUnpayable) {
		t.Fatalf("err = %v, want %v", err, ErrPremiumUnpayable)
	}
}

func TestModulePauseBlocksMatchingOnly(t *testing.T) {
	eng, state, clock, _ := newTestEngine()
	esc := createTestAuction(t, eng, state, clock)
	eng.SetPauses(pauseSet{ModuleName: true})

	if _, err := eng.CreateAuction(addrOwner, tokenUnderlying, tokenSettlement, tokens18(1), testAdvanced(), testSchedule(clock.now)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("create during pause: err = %v", err)
	}
	if _, err := eng.HandleAuctionBid(esc.ID, addrBidder, addrBidder, common.Address{}, big.NewInt(10_000_000_000_000_000), units6(2000), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("bid during pause: err = %v", err)
	}
	// Owner exits stay open while matching is paused.
	if err := eng.HandleWithdraw(esc.ID, addrOwner, addrOwner, tokenUnderlying, tokens18(100)); err != nil {
		t.Fatalf("withdraw during pause: %v", err)
	}
}
