package options

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleName identifies the options module for pause guards and events.
const ModuleName = "options"

// EscrowState represents the lifecycle states of an option escrow.
type EscrowState uint8

const (
	// EscrowUnmatched is an open auction waiting for a winning bid.
	EscrowUnmatched EscrowState = iota
	// EscrowMatched holds a live option with minted position tokens.
	EscrowMatched
	// EscrowClosed is terminal: all residual funds have been withdrawn.
	EscrowClosed
)

// Valid reports whether the state value is within the supported range.
func (s EscrowState) Valid() bool {
	switch s {
	case EscrowUnmatched, EscrowMatched, EscrowClosed:
		return true
	default:
		return false
	}
}

func (s EscrowState) String() string {
	switch s {
	case EscrowUnmatched:
		return "unmatched"
	case EscrowMatched:
		return "matched"
	case EscrowClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Escrow is a single collateralized option position. The identifier is the
// keccak256 hash of the owner, token pair and a monotonically increasing
// index, ensuring deterministic IDs across replays.
type Escrow struct {
	ID    [32]byte       `json:"id"`
	Index uint64         `json:"index"`
	Owner common.Address `json:"owner"`
	State EscrowState    `json:"state"`
	Terms OptionTerms    `json:"terms"`
	// Schedule is nil for escrows created through the quote or direct
	// mint paths.
	Schedule *AuctionSchedule `json:"schedule,omitempty"`
	// Supply is the number of option tokens currently outstanding. Burns
	// from exercise and borrow reduce it, repays restore it.
	Supply *big.Int `json:"supply"`
	// PremiumPaid records the premium received when the option matched.
	PremiumPaid *big.Int `json:"premiumPaid"`
	// TotalBorrowed tracks the aggregate underlying lent out.
	TotalBorrowed *big.Int `json:"totalBorrowed"`
	// BorrowedBy tracks each borrower's outstanding debt in underlying.
	BorrowedBy map[common.Address]*big.Int `json:"borrowedBy,omitempty"`
	CreatedAt  int64                       `json:"createdAt"`
	MatchedAt  int64                       `json:"matchedAt"`
}

// Minted reports whether option tokens were ever created for this escrow.
func (e *Escrow) Minted() bool {
	return e != nil && e.MatchedAt != 0
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Terms = e.Terms.Clone()
	clone.Schedule = e.Schedule.Clone()
	clone.Supply = cloneBigInt(e.Supply)
	clone.PremiumPaid = cloneBigInt(e.PremiumPaid)
	clone.TotalBorrowed = cloneBigInt(e.TotalBorrowed)
	if e.BorrowedBy != nil {
		clone.BorrowedBy = make(map[common.Address]*big.Int, len(e.BorrowedBy))
		for addr, amt := range e.BorrowedBy {
			clone.BorrowedBy[addr] = cloneBigInt(amt)
		}
	}
	return &clone
}

// BorrowedBalance returns the outstanding debt for a borrower.
func (e *Escrow) BorrowedBalance(addr common.Address) *big.Int {
	if e == nil || e.BorrowedBy == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.BorrowedBy[addr])
}

// PositionName returns the display name of the escrow's option token.
func (e *Escrow) PositionName() string {
	return fmt.Sprintf("OptionChain Position %d", e.Index)
}

// PositionSymbol returns the ticker of the escrow's option token.
func (e *Escrow) PositionSymbol() string {
	return fmt.Sprintf("OCP-%d", e.Index)
}

// EscrowID derives the deterministic identifier for an escrow.
func EscrowID(owner, underlying, settlement common.Address, index uint64) [32]byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	var id [32]byte
	sum := ethcrypto.Keccak256(owner.Bytes(), underlying.Bytes(), settlement.Bytes(), idx[:])
	copy(id[:], sum)
	return id
}

// VaultAddress derives the account that holds an escrow's collateral. The
// address is the leading twenty bytes of the escrow id, which is itself a
// keccak256 hash, so vaults never collide with key-derived accounts in
// practice.
func VaultAddress(id [32]byte) common.Address {
	return common.BytesToAddress(id[:20])
}

// sanitizeEscrow normalises optional fields before persistence so reloaded
// escrows always carry non-nil amounts.
func sanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("options: nil escrow")
	}
	if !e.State.Valid() {
		return nil, fmt.Errorf("options: invalid escrow state: %d", e.State)
	}
	clone := e.Clone()
	if clone.Supply == nil {
		clone.Supply = big.NewInt(0)
	}
	if clone.PremiumPaid == nil {
		clone.PremiumPaid = big.NewInt(0)
	}
	if clone.TotalBorrowed == nil {
		clone.TotalBorrowed = big.NewInt(0)
	}
	return clone, nil
}
