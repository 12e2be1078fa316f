// Package registry is the front door for option escrows. It creates escrows
// through the engine, tracks which ids it created and refuses to route
// lifecycle calls to anything else, mirroring how an on-chain router only
// serves instances deployed by its own factory.
package registry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/native/options"
	"optionchain/storage"
)

// ErrUnregistered is returned when a lifecycle call references an escrow the
// registry did not create.
var ErrUnregistered = errors.New("registry: escrow not registered")

var registeredKeyPrefix = []byte("registry/r/")

// Registry fronts the options engine. Address is the router identity the
// engine honours for owner-independent withdrawals.
type Registry struct {
	engine  *options.Engine
	state   *State
	address common.Address
}

// New wires a registry to its engine and state. The engine must already be
// configured with the same state backend.
func New(engine *options.Engine, state *State, address common.Address) (*Registry, error) {
	if engine == nil {
		return nil, fmt.Errorf("registry: engine required")
	}
	if state == nil {
		return nil, fmt.Errorf("registry: state required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("registry: router address required")
	}
	engine.SetRouter(address)
	return &Registry{engine: engine, state: state, address: address}, nil
}

// Address returns the router identity.
func (r *Registry) Address() common.Address { return r.address }

func registeredKey(id [32]byte) []byte {
	return append(append([]byte{}, registeredKeyPrefix...), id[:]...)
}

func (r *Registry) markRegistered(id [32]byte) error {
	return r.state.Escrows.DB().Put(registeredKey(id), []byte{1})
}

func (r *Registry) ensureRegistered(id [32]byte) error {
	raw, err := r.state.Escrows.DB().Get(registeredKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrUnregistered
		}
		return err
	}
	if len(raw) != 1 || raw[0] != 1 {
		return ErrUnregistered
	}
	return nil
}

// CreateAuction opens a Dutch auction escrow and registers it.
func (r *Registry) CreateAuction(owner, underlying, settlement common.Address, notional *big.Int, adv options.AdvancedSettings, sched *options.AuctionSchedule) (*options.Escrow, error) {
	esc, err := r.engine.CreateAuction(owner, underlying, settlement, notional, adv, sched)
	if err != nil {
		return nil, err
	}
	if err := r.markRegistered(esc.ID); err != nil {
		return nil, err
	}
	return esc, nil
}

// PreviewBid evaluates a bid against a registered auction.
func (r *Registry) PreviewBid(id [32]byte, relBid, refSpot *big.Int, oracleData []byte, distPartner common.Address) (*options.BidPreview, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.PreviewBid(id, relBid, refSpot, oracleData, distPartner)
}

// Bid matches a registered auction with the supplied bid.
func (r *Registry) Bid(id [32]byte, bidder, optionReceiver, distPartner common.Address, relBid, refSpot *big.Int, oracleData []byte) (*options.BidPreview, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.HandleAuctionBid(id, bidder, optionReceiver, distPartner, relBid, refSpot, oracleData)
}

// PreviewTakeQuote evaluates a signed quote for the prospective owner.
func (r *Registry) PreviewTakeQuote(owner common.Address, terms options.OptionTerms, quote *options.RFQQuote, distPartner common.Address) (*options.QuotePreview, error) {
	return r.engine.PreviewTakeQuote(owner, terms, quote, distPartner)
}

// TakeQuote matches a signed quote into a new registered escrow.
func (r *Registry) TakeQuote(owner, optionReceiver, distPartner common.Address, terms options.OptionTerms, quote *options.RFQQuote) (*options.Escrow, *options.QuotePreview, error) {
	esc, preview, err := r.engine.HandleTakeQuote(owner, optionReceiver, distPartner, terms, quote)
	if err != nil {
		return nil, preview, err
	}
	if err := r.markRegistered(esc.ID); err != nil {
		return nil, preview, err
	}
	return esc, preview, nil
}

// DirectMint creates a matched escrow without premium flow and registers it.
func (r *Registry) DirectMint(owner, optionReceiver common.Address, terms options.OptionTerms) (*options.Escrow, error) {
	esc, err := r.engine.HandleDirectMint(owner, optionReceiver, terms)
	if err != nil {
		return nil, err
	}
	if err := r.markRegistered(esc.ID); err != nil {
		return nil, err
	}
	return esc, nil
}

// Exercise exercises option tokens in a registered escrow.
func (r *Registry) Exercise(id [32]byte, caller, receiver common.Address, amount *big.Int, payInSettlement bool, oracleData []byte) (*options.ExerciseResult, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.HandleExercise(id, caller, receiver, amount, payInSettlement, oracleData)
}

// Borrow lends underlying out of a registered escrow against collateral.
func (r *Registry) Borrow(id [32]byte, borrower, receiver common.Address, amount *big.Int) (*options.BorrowResult, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.HandleBorrow(id, borrower, receiver, amount)
}

// Repay returns borrowed underlying to a registered escrow.
func (r *Registry) Repay(id [32]byte, borrower, receiver common.Address, amount *big.Int) (*options.RepayResult, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.HandleRepay(id, borrower, receiver, amount)
}

// Withdraw sweeps residual funds from a registered escrow.
func (r *Registry) Withdraw(id [32]byte, caller, to, token common.Address, amount *big.Int) error {
	if err := r.ensureRegistered(id); err != nil {
		return err
	}
	return r.engine.HandleWithdraw(id, caller, to, token, amount)
}

// SweepExpired withdraws the full residual underlying and settlement balances
// in one call.
func (r *Registry) SweepExpired(id [32]byte, caller, to common.Address) error {
	if err := r.ensureRegistered(id); err != nil {
		return err
	}
	esc, err := r.engine.EscrowByID(id)
	if err != nil {
		return err
	}
	vault := options.VaultAddress(id)
	for _, token := range []common.Address{esc.Terms.Underlying, esc.Terms.Settlement} {
		bal, err := r.state.TokenBalance(token, vault)
		if err != nil {
			return err
		}
		if bal.Sign() == 0 {
			continue
		}
		if err := r.engine.HandleWithdraw(id, caller, to, token, bal); err != nil {
			return err
		}
	}
	return nil
}

// TransferOwnership reassigns a registered escrow's owner.
func (r *Registry) TransferOwnership(id [32]byte, caller, newOwner common.Address) (*options.Escrow, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.HandleTransferOwnership(id, caller, newOwner)
}

// TransferPosition moves option tokens between holders of a registered
// escrow.
func (r *Registry) TransferPosition(id [32]byte, from, to common.Address, amount *big.Int) error {
	if err := r.ensureRegistered(id); err != nil {
		return err
	}
	return r.engine.HandleTransferPosition(id, from, to, amount)
}

// DelegateVoting routes collateral voting power for a registered escrow.
func (r *Registry) DelegateVoting(id [32]byte, caller, delegate common.Address) error {
	if err := r.ensureRegistered(id); err != nil {
		return err
	}
	return r.engine.HandleDelegateVoting(id, caller, delegate)
}

// SetQuotePause toggles the caller's own quoting pause.
func (r *Registry) SetQuotePause(caller common.Address, paused bool) error {
	return r.engine.SetQuotePause(caller, paused)
}

// Escrow returns a registered escrow by id.
func (r *Registry) Escrow(id [32]byte) (*options.Escrow, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.EscrowByID(id)
}

// List returns every escrow the registry created.
func (r *Registry) List() ([]*options.Escrow, error) {
	return r.state.Escrows.ListEscrows()
}

// PositionBalance returns a holder's option token balance.
func (r *Registry) PositionBalance(id [32]byte, holder common.Address) (*big.Int, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.PositionBalanceOf(id, holder)
}

// AuctionAsk returns the current relative premium asked by a registered
// auction.
func (r *Registry) AuctionAsk(id [32]byte) (*big.Int, error) {
	if err := r.ensureRegistered(id); err != nil {
		return nil, err
	}
	return r.engine.AuctionAsk(id)
}
