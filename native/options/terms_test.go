package options

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAuctionScheduleValidate(t *testing.T) {
	var nilSched *AuctionSchedule
	if err := nilSched.Validate(); !errors.Is(err, ErrNotAnAuction) {
		t.Fatalf("nil schedule: err = %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*AuctionSchedule)
		wantErr error
	}{
		{"valid", func(*AuctionSchedule) {}, nil},
		{"nil rel strike", func(s *AuctionSchedule) { s.RelStrike = nil }, ErrZeroStrike},
		{"zero tenor", func(s *AuctionSchedule) { s.Tenor = 0 }, ErrTenorInvalid},
		{"negative tenor", func(s *AuctionSchedule) { s.Tenor = -1 }, ErrTenorInvalid},
		{"negative lockout", func(s *AuctionSchedule) { s.EarliestExerciseTenor = -1 }, ErrExerciseWindow},
		{"lockout eats window", func(s *AuctionSchedule) {
			s.EarliestExerciseTenor = s.Tenor - MinExerciseWindow + 1
		}, ErrExerciseWindow},
		{"nil floor", func(s *AuctionSchedule) { s.RelPremiumFloor = nil }, ErrPremiumBounds},
		{"start below floor", func(s *AuctionSchedule) {
			s.RelPremiumStart = new(big.Int).Sub(s.RelPremiumFloor, big.NewInt(1))
		}, ErrPremiumBounds},
		{"zero min spot", func(s *AuctionSchedule) { s.MinSpot = big.NewInt(0) }, ErrSpotBounds},
		{"max below min", func(s *AuctionSchedule) {
			s.MaxSpot = new(big.Int).Sub(s.MinSpot, big.NewInt(1))
		}, ErrSpotBounds},
		{"negative decay", func(s *AuctionSchedule) { s.DecayDuration = -1 }, ErrDecayInvalid},
		{"flat premium", func(s *AuctionSchedule) {
			s.RelPremiumStart = new(big.Int).Set(s.RelPremiumFloor)
			s.DecayDuration = 0
		}, nil},
	}
	for _, tc := range cases {
		sched := testSchedule(1_700_000_000)
		tc.mutate(sched)
		err := sched.Validate()
		if tc.wantErr == nil {
			if err != nil {
				t.Fatalf("%s: unexpected err %v", tc.name, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestTermsFromQuoteValidation(t *testing.T) {
	now := int64(1_700_000_000)

	cases := []struct {
		name    string
		mutate  func(*OptionTerms)
		wantErr error
	}{
		{"valid", func(*OptionTerms) {}, nil},
		{"zero underlying", func(o *OptionTerms) { o.Underlying = common.Address{} }, ErrZeroAddressToken},
		{"zero settlement", func(o *OptionTerms) { o.Settlement = common.Address{} }, ErrZeroAddressToken},
		{"same token", func(o *OptionTerms) { o.Settlement = o.Underlying }, ErrSameToken},
		{"nil notional", func(o *OptionTerms) { o.Notional = nil }, ErrZeroNotional},
		{"zero notional", func(o *OptionTerms) { o.Notional = big.NewInt(0) }, ErrZeroNotional},
		{"nil strike", func(o *OptionTerms) { o.Strike = nil }, ErrZeroStrike},
		{"expiry at now", func(o *OptionTerms) { o.Expiry = now }, ErrExpiryInPast},
		{"negative lockout", func(o *OptionTerms) { o.EarliestExercise = -1 }, ErrExerciseWindow},
		{"window too short", func(o *OptionTerms) {
			o.Expiry = o.EarliestExercise + MinExerciseWindow - 1
		}, ErrExerciseWindow},
		{"zero oracle", func(o *OptionTerms) { o.Advanced.Oracle = common.Address{} }, ErrZeroOracle},
		{"cap above one", func(o *OptionTerms) {
			o.Advanced.BorrowCap = new(big.Int).Add(Wad(), big.NewInt(1))
		}, ErrBorrowCapTooHigh},
		{"delegation without registry", func(o *OptionTerms) {
			o.Advanced.VotingDelegationAllowed = true
		}, ErrDelegateeRequired},
	}
	for _, tc := range cases {
		terms := quoteTerms(now)
		tc.mutate(&terms)
		validated, err := TermsFromQuote(terms, now)
		if tc.wantErr == nil {
			if err != nil {
				t.Fatalf("%s: unexpected err %v", tc.name, err)
			}
			// The validated terms must not alias the input.
			terms.Notional.SetInt64(1)
			if validated.Notional.Cmp(tokens18(100)) != 0 {
				t.Fatalf("%s: validated terms alias the input", tc.name)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestTermsFromAuctionMatch(t *testing.T) {
	now := int64(1_700_000_000)
	base := OptionTerms{
		Underlying: tokenUnderlying,
		Settlement: tokenSettlement,
		Notional:   tokens18(100),
		Strike:     big.NewInt(0),
		Advanced:   testAdvanced(),
	}
	sched := testSchedule(now)
	sched.RelStrike = big.NewInt(500_000_000_000_000_000) // strike at half spot

	final, err := TermsFromAuctionMatch(base, sched, units6(2000), now)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if final.Strike.Cmp(units6(1000)) != 0 {
		t.Fatalf("strike = %s, want 1000e6", final.Strike)
	}
	if final.Expiry != now+sched.Tenor {
		t.Fatalf("expiry = %d", final.Expiry)
	}
	if final.EarliestExercise != now+sched.EarliestExerciseTenor {
		t.Fatalf("earliest exercise = %d", final.EarliestExercise)
	}

	if _, err := TermsFromAuctionMatch(base, sched, big.NewInt(0), now); !errors.Is(err, ErrZeroStrike) {
		t.Fatalf("zero spot: err = %v", err)
	}
	// A strike too small to survive the WAD division is rejected outright.
	tiny := sched.Clone()
	tiny.RelStrike = big.NewInt(1)
	if _, err := TermsFromAuctionMatch(base, tiny, big.NewInt(1), now); !errors.Is(err, ErrZeroStrike) {
		t.Fatalf("vanishing strike: err = %v", err)
	}
}
