// Package fees holds the protocol fee schedule applied when options match,
// exercise or borrow. Rates are WAD fractions and are clamped to hard caps so
// a misconfigured schedule can never confiscate a position.
package fees

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrRateTooHigh  = errors.New("fees: rate exceeds cap")
	ErrShareTooHigh = errors.New("fees: partner share exceeds 100%")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// MaxMatchFeeRate caps the match fee at 20% of the premium.
var MaxMatchFeeRate = big.NewInt(200_000_000_000_000_000)

// MaxExerciseFeeRate caps the exercise and borrow fee at 0.5%.
var MaxExerciseFeeRate = big.NewInt(5_000_000_000_000_000)

// Schedule is a mutable fee schedule safe for concurrent reads. It implements
// the options engine's FeeProvider interface.
type Schedule struct {
	mu              sync.RWMutex
	matchFeeRate    *big.Int
	exerciseFeeRate *big.Int
	partnerShares   map[common.Address]*big.Int
}

// NewSchedule creates an empty schedule with zero rates.
func NewSchedule() *Schedule {
	return &Schedule{
		matchFeeRate:    big.NewInt(0),
		exerciseFeeRate: big.NewInt(0),
		partnerShares:   make(map[common.Address]*big.Int),
	}
}

func clampRate(rate, cap *big.Int) *big.Int {
	if rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	if rate.Cmp(cap) > 0 {
		return new(big.Int).Set(cap)
	}
	return new(big.Int).Set(rate)
}

// SetMatchFeeRate updates the match fee rate. Rates above the cap are
// rejected rather than clamped so operators notice bad configs.
func (s *Schedule) SetMatchFeeRate(rate *big.Int) error {
	if rate != nil && rate.Cmp(MaxMatchFeeRate) > 0 {
		return ErrRateTooHigh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchFeeRate = clampRate(rate, MaxMatchFeeRate)
	return nil
}

// SetExerciseFeeRate updates the exercise and borrow fee rate.
func (s *Schedule) SetExerciseFeeRate(rate *big.Int) error {
	if rate != nil && rate.Cmp(MaxExerciseFeeRate) > 0 {
		return ErrRateTooHigh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exerciseFeeRate = clampRate(rate, MaxExerciseFeeRate)
	return nil
}

// SetPartnerShare registers the WAD fraction of the match fee forwarded to a
// distribution partner. A zero share removes the partner.
func (s *Schedule) SetPartnerShare(partner common.Address, share *big.Int) error {
	if partner == (common.Address{}) {
		return errors.New("fees: partner address required")
	}
	if share != nil && share.Cmp(wad) > 0 {
		return ErrShareTooHigh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if share == nil || share.Sign() <= 0 {
		delete(s.partnerShares, partner)
		return nil
	}
	s.partnerShares[partner] = new(big.Int).Set(share)
	return nil
}

// MatchFeeInfo returns the match fee rate and the share owed to the supplied
// partner. Unknown partners get a zero share, folding the whole fee to the
// protocol.
func (s *Schedule) MatchFeeInfo(partner common.Address) (*big.Int, *big.Int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate := clampRate(s.matchFeeRate, MaxMatchFeeRate)
	share := big.NewInt(0)
	if known, ok := s.partnerShares[partner]; ok {
		share = new(big.Int).Set(known)
	}
	return rate, share
}

// ExerciseFeeRate returns the clamped exercise fee rate.
func (s *Schedule) ExerciseFeeRate() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clampRate(s.exerciseFeeRate, MaxExerciseFeeRate)
}
