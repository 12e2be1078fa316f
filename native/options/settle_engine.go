package options

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ExerciseResult reports the settlement legs an exercise produced. Cost is
// what the exerciser paid to the owner, in PayToken; Delivered is the
// underlying released to the receiver.
type ExerciseResult struct {
	PayToken  common.Address `json:"payToken"`
	Cost      *big.Int       `json:"cost"`
	Fee       *big.Int       `json:"fee"`
	Delivered *big.Int       `json:"delivered"`
}

// BorrowResult reports the collateral locked and the fee charged for a
// borrow, both denominated in the settlement token.
type BorrowResult struct {
	CollateralToken common.Address `json:"collateralToken"`
	Collateral      *big.Int       `json:"collateral"`
	Fee             *big.Int       `json:"fee"`
}

// RepayResult reports the settlement collateral unlocked by a repayment.
type RepayResult struct {
	UnlockedToken common.Address `json:"unlockedToken"`
	Unlocked      *big.Int       `json:"unlocked"`
}

// withinExerciseWindow checks the inclusive exercise window
// [earliestExercise, expiry].
func withinExerciseWindow(t *OptionTerms, now int64) bool {
	return now >= t.EarliestExercise && now <= t.Expiry
}

// HandleExercise exercises option tokens held by the caller, burning them and
// releasing underlying collateral. With payInSettlement the exerciser pays
// strike value in the settlement token; otherwise the strike value is
// converted at the oracle spot and withheld from the delivered underlying.
func (e *Engine) HandleExercise(id [32]byte, caller, receiver common.Address, amount *big.Int, payInSettlement bool, oracleData []byte) (*ExerciseResult, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.State != EscrowMatched {
		return nil, ErrNotMatched
	}
	now := e.now()
	if !withinExerciseWindow(&esc.Terms, now) {
		return nil, ErrInvalidExerciseTime
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(esc.Terms.Notional) > 0 {
		return nil, ErrInvalidExerciseAmount
	}
	held, err := e.positionBalance(id, caller)
	if err != nil {
		return nil, err
	}
	if held.Cmp(amount) < 0 {
		return nil, ErrInsufficientOptions
	}
	if receiver == (common.Address{}) {
		receiver = caller
	}
	decimals, err := e.underlyingDecimals(&esc.Terms)
	if err != nil {
		return nil, err
	}
	settlementCost := ConvertAmount(esc.Terms.Strike, amount, decimals, true)
	vault := VaultAddress(id)

	var result *ExerciseResult
	if payInSettlement {
		fee := FeeOn(settlementCost, e.exerciseFeeRate())
		due := new(big.Int).Add(settlementCost, fee)
		callerBal, err := e.state.TokenBalance(esc.Terms.Settlement, caller)
		if err != nil {
			return nil, err
		}
		if callerBal == nil || callerBal.Cmp(due) < 0 {
			return nil, ErrInsufficientFunds
		}
		if err := e.transferToken(esc.Terms.Settlement, caller, esc.Owner, settlementCost); err != nil {
			return nil, err
		}
		if err := e.payFee(esc.Terms.Settlement, caller, fee); err != nil {
			return nil, err
		}
		if err := e.transferToken(esc.Terms.Underlying, vault, receiver, amount); err != nil {
			return nil, err
		}
		result = &ExerciseResult{
			PayToken:  esc.Terms.Settlement,
			Cost:      settlementCost,
			Fee:       fee,
			Delivered: cloneBigInt(amount),
		}
	} else {
		spot, err := e.spotPrice(&esc.Terms, oracleData)
		if err != nil {
			return nil, err
		}
		cost := ExerciseCostInUnderlying(settlementCost, spot, decimals)
		if cost.Sign() <= 0 || cost.Cmp(amount) > 0 {
			return nil, ErrInvalidExerciseCost
		}
		fee := FeeOn(amount, e.exerciseFeeRate())
		remainder := new(big.Int).Sub(amount, cost)
		remainder.Sub(remainder, fee)
		if remainder.Sign() < 0 {
			return nil, ErrInvalidExerciseCost
		}
		if err := e.transferToken(esc.Terms.Underlying, vault, esc.Owner, cost); err != nil {
			return nil, err
		}
		if err := e.payFee(esc.Terms.Underlying, vault, fee); err != nil {
			return nil, err
		}
		if err := e.transferToken(esc.Terms.Underlying, vault, receiver, remainder); err != nil {
			return nil, err
		}
		result = &ExerciseResult{
			PayToken:  esc.Terms.Underlying,
			Cost:      cost,
			Fee:       fee,
			Delivered: remainder,
		}
	}

	if err := e.debitPosition(id, caller, amount); err != nil {
		return nil, err
	}
	esc.Supply = new(big.Int).Sub(esc.Supply, amount)
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewExercisedEvent(esc, caller, receiver, amount, result.Cost, result.Fee, !payInSettlement))
	mode := "cashless"
	if payInSettlement {
		mode = "cash"
	}
	e.telemetry.RecordExercise(mode, result.Cost)
	return result, nil
}

// HandleBorrow burns option tokens and lends the matching underlying out of
// the vault against settlement collateral valued at the strike, rounded up.
func (e *Engine) HandleBorrow(id [32]byte, borrower, receiver common.Address, amount *big.Int) (*BorrowResult, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.State != EscrowMatched {
		return nil, ErrNotMatched
	}
	now := e.now()
	if !withinExerciseWindow(&esc.Terms, now) {
		return nil, ErrInvalidBorrowTime
	}
	if !esc.Terms.Advanced.BorrowingAllowed() {
		return nil, ErrBorrowingNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidBorrowAmount
	}
	maxBorrow := new(big.Int).Mul(esc.Terms.Notional, esc.Terms.Advanced.BorrowCap)
	maxBorrow.Quo(maxBorrow, wad)
	borrowed := new(big.Int).Add(esc.TotalBorrowed, amount)
	if borrowed.Cmp(maxBorrow) > 0 {
		return nil, ErrBorrowCapExceeded
	}
	held, err := e.positionBalance(id, borrower)
	if err != nil {
		return nil, err
	}
	if held.Cmp(amount) < 0 {
		return nil, ErrInsufficientOptions
	}
	if receiver == (common.Address{}) {
		receiver = borrower
	}
	decimals, err := e.underlyingDecimals(&esc.Terms)
	if err != nil {
		return nil, err
	}
	collateral := BorrowCollateral(esc.Terms.Strike, amount, decimals)
	fee := FeeOn(collateral, e.exerciseFeeRate())
	due := new(big.Int).Add(collateral, fee)
	borrowerBal, err := e.state.TokenBalance(esc.Terms.Settlement, borrower)
	if err != nil {
		return nil, err
	}
	if borrowerBal == nil || borrowerBal.Cmp(due) < 0 {
		return nil, ErrInsufficientFunds
	}
	vault := VaultAddress(id)
	if err := e.transferToken(esc.Terms.Settlement, borrower, vault, collateral); err != nil {
		return nil, err
	}
	if err := e.payFee(esc.Terms.Settlement, borrower, fee); err != nil {
		return nil, err
	}
	if err := e.transferToken(esc.Terms.Underlying, vault, receiver, amount); err != nil {
		return nil, err
	}
	if err := e.debitPosition(id, borrower, amount); err != nil {
		return nil, err
	}
	esc.Supply = new(big.Int).Sub(esc.Supply, amount)
	esc.TotalBorrowed = borrowed
	if esc.BorrowedBy == nil {
		esc.BorrowedBy = make(map[common.Address]*big.Int)
	}
	esc.BorrowedBy[borrower] = new(big.Int).Add(esc.BorrowedBalance(borrower), amount)
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewBorrowedEvent(esc, borrower, receiver, amount, collateral, fee))
	e.telemetry.RecordBorrow()
	return &BorrowResult{
		CollateralToken: esc.Terms.Settlement,
		Collateral:      collateral,
		Fee:             fee,
	}, nil
}

// HandleRepay returns borrowed underlying before expiry, unlocking settlement
// collateral valued at the strike, rounded down, and re-minting the burned
// option tokens.
func (e *Engine) HandleRepay(id [32]byte, borrower, receiver common.Address, amount *big.Int) (*RepayResult, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.State != EscrowMatched {
		return nil, ErrNotMatched
	}
	if e.now() > esc.Terms.Expiry {
		return nil, ErrInvalidRepayTime
	}
	debt := esc.BorrowedBalance(borrower)
	if debt.Sign() == 0 {
		return nil, ErrNothingBorrowed
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(debt) > 0 {
		return nil, ErrInvalidRepayAmount
	}
	if receiver == (common.Address{}) {
		receiver = borrower
	}
	decimals, err := e.underlyingDecimals(&esc.Terms)
	if err != nil {
		return nil, err
	}
	unlocked := RepayUnlock(esc.Terms.Strike, amount, decimals)
	borrowerBal, err := e.state.TokenBalance(esc.Terms.Underlying, borrower)
	if err != nil {
		return nil, err
	}
	if borrowerBal == nil || borrowerBal.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	vault := VaultAddress(id)
	if err := e.transferToken(esc.Terms.Underlying, borrower, vault, amount); err != nil {
		return nil, err
	}
	if err := e.transferToken(esc.Terms.Settlement, vault, receiver, unlocked); err != nil {
		return nil, err
	}
	if err := e.creditPosition(id, borrower, cloneBigInt(amount)); err != nil {
		return nil, err
	}
	esc.Supply = new(big.Int).Add(esc.Supply, amount)
	esc.TotalBorrowed = new(big.Int).Sub(esc.TotalBorrowed, amount)
	remaining := debt.Sub(debt, amount)
	if remaining.Sign() == 0 {
		delete(esc.BorrowedBy, borrower)
	} else {
		esc.BorrowedBy[borrower] = remaining
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewRepaidEvent(esc, borrower, receiver, amount, unlocked))
	e.telemetry.RecordRepay()
	return &RepayResult{
		UnlockedToken: esc.Terms.Settlement,
		Unlocked:      unlocked,
	}, nil
}

// HandleWithdraw sweeps residual funds out of the vault. Only the owner or
// the router may call it, and only when the option was never minted or has
// expired. The escrow closes once both token balances reach zero.
func (e *Engine) HandleWithdraw(id [32]byte, caller, to, token common.Address, amount *big.Int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Owner && (e.router == (common.Address{}) || caller != e.router) {
		return ErrUnauthorized
	}
	if esc.Minted() && e.now() <= esc.Terms.Expiry {
		return ErrOptionActive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidWithdrawal
	}
	if to == (common.Address{}) {
		to = esc.Owner
	}
	vault := VaultAddress(id)
	bal, err := e.state.TokenBalance(token, vault)
	if err != nil {
		return err
	}
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInvalidWithdrawal
	}
	if err := e.transferToken(token, vault, to, amount); err != nil {
		return err
	}
	underlyingBal, err := e.state.TokenBalance(esc.Terms.Underlying, vault)
	if err != nil {
		return err
	}
	settlementBal, err := e.state.TokenBalance(esc.Terms.Settlement, vault)
	if err != nil {
		return err
	}
	if underlyingBal.Sign() == 0 && settlementBal.Sign() == 0 {
		esc.State = EscrowClosed
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(esc, caller, to, token, amount))
	e.telemetry.RecordWithdrawal()
	return nil
}

// HandleTransferOwnership reassigns the escrow owner. Future premium,
// exercise proceeds and withdrawals accrue to the new owner.
func (e *Engine) HandleTransferOwnership(id [32]byte, caller, newOwner common.Address) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Owner {
		return nil, ErrUnauthorized
	}
	if newOwner == (common.Address{}) {
		return nil, ErrInvalidNewOwner
	}
	if newOwner == esc.Owner {
		return nil, ErrSameOwner
	}
	previous := esc.Owner
	esc.Owner = newOwner
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewOwnershipTransferredEvent(esc, previous))
	return esc.Clone(), nil
}

// HandleTransferPosition moves option tokens between holders.
func (e *Engine) HandleTransferPosition(id [32]byte, from, to common.Address, amount *big.Int) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !esc.Minted() {
		return ErrInvalidTransfer
	}
	if amount == nil || amount.Sign() <= 0 || to == (common.Address{}) || from == to {
		return ErrInvalidTransfer
	}
	if err := e.debitPosition(id, from, amount); err != nil {
		return err
	}
	if err := e.creditPosition(id, to, cloneBigInt(amount)); err != nil {
		return err
	}
	e.emit(NewPositionTransferredEvent(esc, from, to, amount))
	return nil
}

// HandleDelegateVoting routes the voting power of the escrowed collateral to
// a delegate. The escrow terms must allow delegation and must name the
// registry the engine is wired to.
func (e *Engine) HandleDelegateVoting(id [32]byte, caller, delegate common.Address) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Owner {
		return ErrUnauthorized
	}
	if !esc.Terms.Advanced.VotingDelegationAllowed {
		return ErrDelegationNotAllowed
	}
	if e.delegates == nil {
		return ErrNoDelegateRegistry
	}
	if esc.Terms.Advanced.DelegateRegistry != e.delegates.Address() {
		return ErrDelegationNotAllowed
	}
	if delegate == (common.Address{}) {
		return fmt.Errorf("options: delegate must be non-zero")
	}
	if err := e.delegates.SetDelegate(id, delegate); err != nil {
		return err
	}
	e.emit(NewVotesDelegatedEvent(esc, delegate))
	return nil
}
