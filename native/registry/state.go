package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/native/bank"
	"optionchain/native/options"
	"optionchain/storage"
)

// State glues the escrow store and the bank ledger into the single state
// interface the options engine consumes.
type State struct {
	Escrows *storage.EscrowStore
	Bank    *bank.Ledger
}

// NewState builds both stores over a shared database.
func NewState(db storage.Database) (*State, error) {
	escrows, err := storage.NewEscrowStore(db)
	if err != nil {
		return nil, err
	}
	ledger, err := bank.NewLedger(db)
	if err != nil {
		return nil, err
	}
	return &State{Escrows: escrows, Bank: ledger}, nil
}

func (s *State) EscrowPut(esc *options.Escrow) error { return s.Escrows.EscrowPut(esc) }

func (s *State) EscrowGet(id [32]byte) (*options.Escrow, bool) { return s.Escrows.EscrowGet(id) }

func (s *State) NextEscrowIndex() (uint64, error) { return s.Escrows.NextEscrowIndex() }

func (s *State) PositionBalance(id [32]byte, holder common.Address) (*big.Int, error) {
	return s.Escrows.PositionBalance(id, holder)
}

func (s *State) PositionSet(id [32]byte, holder common.Address, amount *big.Int) error {
	return s.Escrows.PositionSet(id, holder, amount)
}

func (s *State) QuoteConsumed(hash [32]byte) (bool, error) { return s.Escrows.QuoteConsumed(hash) }

func (s *State) ConsumeQuote(hash [32]byte) error { return s.Escrows.ConsumeQuote(hash) }

func (s *State) QuotePaused(quoter common.Address) (bool, error) {
	return s.Escrows.QuotePaused(quoter)
}

func (s *State) SetQuotePaused(quoter common.Address, paused bool) error {
	return s.Escrows.SetQuotePaused(quoter, paused)
}

func (s *State) TokenBalance(token, holder common.Address) (*big.Int, error) {
	return s.Bank.BalanceOf(token, holder)
}

func (s *State) TokenTransfer(token, from, to common.Address, amount *big.Int) error {
	return s.Bank.Transfer(token, from, to, amount)
}

func (s *State) TokenDecimals(token common.Address) (uint8, error) {
	return s.Bank.Decimals(token)
}
