// Package bank tracks fungible token balances for the node. It is the single
// source of truth the options engine moves value through: escrow vaults,
// premiums, fees and collateral all settle against this ledger.
package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"optionchain/storage"
)

var (
	ErrUnknownToken        = errors.New("bank: unknown token")
	ErrInvalidAmount       = errors.New("bank: amount must be non-negative")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrAmountOverflow      = errors.New("bank: balance exceeds uint256 range")
)

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Ledger is a persistent token balance store. Reads of unregistered tokens
// report zero balances; writes require the token to be registered so the
// decimals are always known.
type Ledger struct {
	mu sync.RWMutex
	db storage.Database
}

// NewLedger creates a ledger over the supplied database.
func NewLedger(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("bank: database required")
	}
	return &Ledger{db: db}, nil
}

func tokenKey(token common.Address) []byte {
	return append([]byte("bank/t/"), token.Bytes()...)
}

func balanceKey(token, holder common.Address) []byte {
	key := append([]byte("bank/b/"), token.Bytes()...)
	key = append(key, '/')
	return append(key, holder.Bytes()...)
}

// RegisterToken records a token's metadata. Re-registration overwrites the
// previous entry.
func (l *Ledger) RegisterToken(token common.Address, symbol string, decimals uint8) error {
	if token == (common.Address{}) {
		return fmt.Errorf("bank: token address required")
	}
	if symbol == "" {
		return fmt.Errorf("bank: token symbol required")
	}
	info := TokenInfo{Address: token, Symbol: symbol, Decimals: decimals}
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Put(tokenKey(token), raw)
}

// TokenInfo returns the metadata for a registered token.
func (l *Ledger) TokenInfo(token common.Address) (*TokenInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokenInfoLocked(token)
}

func (l *Ledger) tokenInfoLocked(token common.Address) (*TokenInfo, error) {
	raw, err := l.db.Get(tokenKey(token))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUnknownToken
		}
		return nil, err
	}
	var info TokenInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Decimals returns the decimals of a registered token.
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	info, err := l.TokenInfo(token)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

// BalanceOf returns the holder's balance. Unknown tokens and untouched
// accounts report zero.
func (l *Ledger) BalanceOf(token, holder common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(token, holder)
}

func (l *Ledger) balanceLocked(token, holder common.Address) (*big.Int, error) {
	raw, err := l.db.Get(balanceKey(token, holder))
	if err != nil {
		if storage.IsNotFound(err) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// setBalanceLocked persists a balance after checking it fits in a uint256,
// mirroring how account balances are bounded on chain.
func (l *Ledger) setBalanceLocked(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return l.db.Put(balanceKey(token, holder), amount.Bytes())
}

// Mint credits freshly issued tokens to a holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.tokenInfoLocked(token); err != nil {
		return err
	}
	bal, err := l.balanceLocked(token, to)
	if err != nil {
		return err
	}
	return l.setBalanceLocked(token, to, bal.Add(bal, amount))
}

// Transfer moves tokens between holders. Zero amounts are a no-op.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.tokenInfoLocked(token); err != nil {
		return err
	}
	fromBal, err := l.balanceLocked(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := l.balanceLocked(token, to)
	if err != nil {
		return err
	}
	if err := l.setBalanceLocked(token, from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.setBalanceLocked(token, to, toBal.Add(toBal, amount))
}
