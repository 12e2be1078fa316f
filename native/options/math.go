package options

import "math/big"

// wad is the 1e18 fixed-point base used for relative premiums, strikes, fee
// rates and the borrow cap.
var wad = big.NewInt(1_000_000_000_000_000_000)

// Wad returns a copy of the 1e18 fixed-point base.
func Wad() *big.Int { return new(big.Int).Set(wad) }

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// CurrentAsk returns the relative premium asked by the auction at the given
// time. The ask sits at RelPremiumStart until decay begins, declines linearly
// to RelPremiumFloor over the decay window and stays at the floor afterwards.
// The result is never below the floor and never increases as now advances.
func CurrentAsk(s *AuctionSchedule, now int64) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	if now < s.DecayStartTime {
		return cloneBigInt(s.RelPremiumStart)
	}
	elapsed := now - s.DecayStartTime
	if s.DecayDuration <= 0 || elapsed >= s.DecayDuration {
		return cloneBigInt(s.RelPremiumFloor)
	}
	span := new(big.Int).Sub(s.RelPremiumStart, s.RelPremiumFloor)
	decayed := new(big.Int).Mul(span, big.NewInt(elapsed))
	decayed.Quo(decayed, big.NewInt(s.DecayDuration))
	return new(big.Int).Sub(s.RelPremiumStart, decayed)
}

// ConvertAmount converts an underlying amount into its settlement-token value
// at the given strike, i.e. strike * amount / 10^underlyingDecimals. Rounding
// direction is explicit: round up when the counterparty pays the escrow, round
// down when the escrow releases value.
func ConvertAmount(strike, amount *big.Int, underlyingDecimals uint8, roundUp bool) *big.Int {
	if strike == nil || amount == nil || strike.Sign() <= 0 || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	scale := pow10(underlyingDecimals)
	num := new(big.Int).Mul(strike, amount)
	if roundUp {
		num.Add(num, new(big.Int).Sub(scale, big.NewInt(1)))
	}
	return num.Quo(num, scale)
}

// StrikeFromSpot computes the absolute strike spot * relStrike / 1e18,
// truncating.
func StrikeFromSpot(spot, relStrike *big.Int) *big.Int {
	if spot == nil || relStrike == nil {
		return big.NewInt(0)
	}
	strike := new(big.Int).Mul(spot, relStrike)
	return strike.Quo(strike, wad)
}

// PremiumInUnderlying computes notional * relPremium / 1e18, truncating.
func PremiumInUnderlying(notional, relPremium *big.Int) *big.Int {
	if notional == nil || relPremium == nil {
		return big.NewInt(0)
	}
	premium := new(big.Int).Mul(notional, relPremium)
	return premium.Quo(premium, wad)
}

// PremiumInSettlement computes the premium denominated in the settlement
// token: notional * relPremium * spot / (1e18 * 10^underlyingDecimals),
// truncating.
func PremiumInSettlement(notional, relPremium, spot *big.Int, underlyingDecimals uint8) *big.Int {
	if notional == nil || relPremium == nil || spot == nil {
		return big.NewInt(0)
	}
	premium := new(big.Int).Mul(notional, relPremium)
	premium.Mul(premium, spot)
	denom := new(big.Int).Mul(wad, pow10(underlyingDecimals))
	return premium.Quo(premium, denom)
}

// ExerciseCostInUnderlying converts a settlement-denominated exercise cost
// back into the underlying at the oracle spot, rounding up so the escrow owner
// is never short-paid: cost * 10^underlyingDecimals / spot, ceiling.
func ExerciseCostInUnderlying(settlementCost, spot *big.Int, underlyingDecimals uint8) *big.Int {
	if settlementCost == nil || spot == nil || spot.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(settlementCost, pow10(underlyingDecimals))
	num.Add(num, new(big.Int).Sub(spot, big.NewInt(1)))
	return num.Quo(num, spot)
}

// FeeOn computes amount * rate / 1e18, truncating. Rates are WAD fractions.
func FeeOn(amount, rate *big.Int) *big.Int {
	if amount == nil || rate == nil || amount.Sign() <= 0 || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, rate)
	return fee.Quo(fee, wad)
}

// SplitMatchFee carves the match fee out of a premium and splits it between
// the protocol treasury and a distribution partner. The partner share is
// computed first and the protocol keeps the remainder, so
// protocol + partner always equals the total fee exactly.
func SplitMatchFee(premium, feeRate, partnerShare *big.Int) (protocol, partner *big.Int) {
	total := FeeOn(premium, feeRate)
	if partnerShare == nil || partnerShare.Sign() <= 0 {
		return total, big.NewInt(0)
	}
	partner = new(big.Int).Mul(total, partnerShare)
	partner.Quo(partner, wad)
	protocol = new(big.Int).Sub(total, partner)
	return protocol, partner
}

// BorrowCollateral returns the settlement collateral locked when borrowing,
// rounding up in the escrow's favour.
func BorrowCollateral(strike, amount *big.Int, underlyingDecimals uint8) *big.Int {
	return ConvertAmount(strike, amount, underlyingDecimals, true)
}

// RepayUnlock returns the settlement collateral released when repaying,
// rounding down in the escrow's favour.
func RepayUnlock(strike, amount *big.Int, underlyingDecimals uint8) *big.Int {
	return ConvertAmount(strike, amount, underlyingDecimals, false)
}
