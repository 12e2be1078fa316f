package options

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MinExerciseWindow is the minimum number of seconds between the earliest
// exercise time and expiry for any option.
const MinExerciseWindow int64 = 86_400

// AdvancedSettings carries the optional knobs attached to every option.
type AdvancedSettings struct {
	// BorrowCap is the WAD fraction of the notional that holders may
	// borrow against. Zero disables borrowing.
	BorrowCap *big.Int `json:"borrowCap"`
	// Oracle identifies the price feed used for matching and cashless
	// exercise.
	Oracle common.Address `json:"oracle"`
	// PremiumTokenIsUnderlying selects the premium denomination.
	PremiumTokenIsUnderlying bool `json:"premiumTokenIsUnderlying"`
	// VotingDelegationAllowed permits the owner to delegate votes held by
	// the escrowed collateral.
	VotingDelegationAllowed bool `json:"votingDelegationAllowed"`
	// DelegateRegistry is the only registry delegation may be routed to.
	DelegateRegistry common.Address `json:"delegateRegistry"`
}

// Clone returns a deep copy of the settings.
func (a AdvancedSettings) Clone() AdvancedSettings {
	dup := a
	dup.BorrowCap = cloneBigInt(a.BorrowCap)
	return dup
}

func (a AdvancedSettings) validate() error {
	if a.Oracle == (common.Address{}) {
		return ErrZeroOracle
	}
	if a.BorrowCap != nil && a.BorrowCap.Cmp(wad) > 0 {
		return ErrBorrowCapTooHigh
	}
	if a.VotingDelegationAllowed && a.DelegateRegistry == (common.Address{}) {
		return ErrDelegateeRequired
	}
	return nil
}

// BorrowingAllowed reports whether the borrow cap permits any borrowing.
func (a AdvancedSettings) BorrowingAllowed() bool {
	return a.BorrowCap != nil && a.BorrowCap.Sign() > 0
}

// OptionTerms is the canonical description of a call option: what is escrowed,
// what it settles against and when it can be exercised. For auction escrows
// the strike, expiry and earliest exercise fields stay zero until the auction
// matches.
type OptionTerms struct {
	Underlying       common.Address   `json:"underlying"`
	Settlement       common.Address   `json:"settlement"`
	Notional         *big.Int         `json:"notional"`
	Strike           *big.Int         `json:"strike"`
	Expiry           int64            `json:"expiry"`
	EarliestExercise int64            `json:"earliestExercise"`
	Advanced         AdvancedSettings `json:"advanced"`
}

// Clone returns a deep copy of the terms.
func (t OptionTerms) Clone() OptionTerms {
	dup := t
	dup.Notional = cloneBigInt(t.Notional)
	dup.Strike = cloneBigInt(t.Strike)
	dup.Advanced = t.Advanced.Clone()
	return dup
}

func (t OptionTerms) validateBase() error {
	if t.Underlying == (common.Address{}) || t.Settlement == (common.Address{}) {
		return ErrZeroAddressToken
	}
	if t.Underlying == t.Settlement {
		return ErrSameToken
	}
	if t.Notional == nil || t.Notional.Sign() <= 0 {
		return ErrZeroNotional
	}
	return t.Advanced.validate()
}

// AuctionSchedule describes a Dutch auction over relative premiums. All
// relative quantities are WAD fractions.
type AuctionSchedule struct {
	// RelStrike scales the oracle spot into the strike at match time.
	RelStrike *big.Int `json:"relStrike"`
	// Tenor is the option lifetime in seconds, anchored at match time.
	Tenor int64 `json:"tenor"`
	// EarliestExerciseTenor is the exercise lockout in seconds after
	// match.
	EarliestExerciseTenor int64 `json:"earliestExerciseTenor"`
	DecayStartTime        int64 `json:"decayStartTime"`
	DecayDuration         int64 `json:"decayDuration"`
	// RelPremiumStart and RelPremiumFloor bound the linear premium decay.
	RelPremiumStart *big.Int `json:"relPremiumStart"`
	RelPremiumFloor *big.Int `json:"relPremiumFloor"`
	// MinSpot and MaxSpot bracket acceptable oracle prices at match time.
	MinSpot *big.Int `json:"minSpot"`
	MaxSpot *big.Int `json:"maxSpot"`
}

// Clone returns a deep copy of the schedule.
func (s *AuctionSchedule) Clone() *AuctionSchedule {
	if s == nil {
		return nil
	}
	dup := *s
	dup.RelStrike = cloneBigInt(s.RelStrike)
	dup.RelPremiumStart = cloneBigInt(s.RelPremiumStart)
	dup.RelPremiumFloor = cloneBigInt(s.RelPremiumFloor)
	dup.MinSpot = cloneBigInt(s.MinSpot)
	dup.MaxSpot = cloneBigInt(s.MaxSpot)
	return &dup
}

// Validate checks the schedule invariants shared by every auction.
func (s *AuctionSchedule) Validate() error {
	if s == nil {
		return ErrNotAnAuction
	}
	if s.RelStrike == nil || s.RelStrike.Sign() <= 0 {
		return ErrZeroStrike
	}
	if s.Tenor <= 0 {
		return ErrTenorInvalid
	}
	if s.EarliestExerciseTenor < 0 || s.Tenor < s.EarliestExerciseTenor+MinExerciseWindow {
		return ErrExerciseWindow
	}
	if s.RelPremiumFloor == nil || s.RelPremiumFloor.Sign() <= 0 {
		return ErrPremiumBounds
	}
	if s.RelPremiumStart == nil || s.RelPremiumStart.Cmp(s.RelPremiumFloor) < 0 {
		return ErrPremiumBounds
	}
	if s.MinSpot == nil || s.MinSpot.Sign() <= 0 {
		return ErrSpotBounds
	}
	if s.MaxSpot == nil || s.MaxSpot.Cmp(s.MinSpot) < 0 {
		return ErrSpotBounds
	}
	if s.DecayDuration < 0 {
		return ErrDecayInvalid
	}
	return nil
}

// NewAuctionTerms validates the open-ended terms an auction escrow starts
// with. Strike, expiry and earliest exercise remain zero until match.
func NewAuctionTerms(underlying, settlement common.Address, notional *big.Int, adv AdvancedSettings, sched *AuctionSchedule) (OptionTerms, error) {
	terms := OptionTerms{
		Underlying: underlying,
		Settlement: settlement,
		Notional:   cloneBigInt(notional),
		Strike:     big.NewInt(0),
		Advanced:   adv.Clone(),
	}
	if err := terms.validateBase(); err != nil {
		return OptionTerms{}, err
	}
	if err := sched.Validate(); err != nil {
		return OptionTerms{}, err
	}
	return terms, nil
}

// TermsFromAuctionMatch finalizes auction terms at match time. The strike is
// anchored to the oracle spot and the temporal fields to the match timestamp.
func TermsFromAuctionMatch(t OptionTerms, s *AuctionSchedule, spot *big.Int, now int64) (OptionTerms, error) {
	if err := t.validateBase(); err != nil {
		return OptionTerms{}, err
	}
	if err := s.Validate(); err != nil {
		return OptionTerms{}, err
	}
	strike := StrikeFromSpot(spot, s.RelStrike)
	if strike.Sign() <= 0 {
		return OptionTerms{}, ErrZeroStrike
	}
	final := t.Clone()
	final.Strike = strike
	final.Expiry = now + s.Tenor
	final.EarliestExercise = now + s.EarliestExerciseTenor
	return final, nil
}

// TermsFromQuote validates fully specified terms taken from a signed quote.
func TermsFromQuote(t OptionTerms, now int64) (OptionTerms, error) {
	if err := t.validateBase(); err != nil {
		return OptionTerms{}, err
	}
	if t.Strike == nil || t.Strike.Sign() <= 0 {
		return OptionTerms{}, ErrZeroStrike
	}
	if t.Expiry <= now {
		return OptionTerms{}, ErrExpiryInPast
	}
	if t.EarliestExercise < 0 || t.Expiry < t.EarliestExercise+MinExerciseWindow {
		return OptionTerms{}, ErrExerciseWindow
	}
	return t.Clone(), nil
}

// TermsFromDirectMint validates fully specified terms for a direct mint. The
// checks match the quote path; the separate entry point keeps the creation
// paths explicit.
func TermsFromDirectMint(t OptionTerms, now int64) (OptionTerms, error) {
	return TermsFromQuote(t, now)
}
