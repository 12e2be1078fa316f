package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/native/options"
)

var (
	escrowKeyPrefix   = []byte("options/e/")
	escrowIndexKey    = []byte("options/index")
	escrowListKey     = []byte("options/ids")
	quoteKeyPrefix    = []byte("options/q/")
	pauseKeyPrefix    = []byte("options/p/")
	positionKeyPrefix = []byte("options/pos/")
)

// EscrowStore persists option escrows, position balances and the consumed
// quote set. It implements the state interface the options engine consumes,
// except for token balances which live in the bank ledger.
type EscrowStore struct {
	mu sync.Mutex
	db Database
}

// NewEscrowStore creates a store over the supplied database.
func NewEscrowStore(db Database) (*EscrowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database required")
	}
	return &EscrowStore{db: db}, nil
}

// DB exposes the underlying database so sibling stores can share it.
func (s *EscrowStore) DB() Database { return s.db }

func escrowKey(id [32]byte) []byte {
	return append(append([]byte{}, escrowKeyPrefix...), id[:]...)
}

func quoteKey(hash [32]byte) []byte {
	return append(append([]byte{}, quoteKeyPrefix...), hash[:]...)
}

func pauseKey(quoter common.Address) []byte {
	return append(append([]byte{}, pauseKeyPrefix...), quoter.Bytes()...)
}

func positionKey(id [32]byte, holder common.Address) []byte {
	key := append(append([]byte{}, positionKeyPrefix...), id[:]...)
	key = append(key, '/')
	return append(key, holder.Bytes()...)
}

// EscrowPut stores the escrow document, registering new ids in the listing
// index.
func (s *EscrowStore) EscrowPut(esc *options.Escrow) error {
	if esc == nil {
		return fmt.Errorf("storage: nil escrow")
	}
	raw, err := json.Marshal(esc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Get(escrowKey(esc.ID)); err != nil {
		if !IsNotFound(err) {
			return err
		}
		if err := s.appendIDLocked(esc.ID); err != nil {
			return err
		}
	}
	return s.db.Put(escrowKey(esc.ID), raw)
}

// EscrowGet loads an escrow document by id.
func (s *EscrowStore) EscrowGet(id [32]byte) (*options.Escrow, bool) {
	raw, err := s.db.Get(escrowKey(id))
	if err != nil {
		return nil, false
	}
	var esc options.Escrow
	if err := json.Unmarshal(raw, &esc); err != nil {
		return nil, false
	}
	return &esc, true
}

func (s *EscrowStore) appendIDLocked(id [32]byte) error {
	ids, err := s.listIDsLocked()
	if err != nil {
		return err
	}
	ids = append(ids, "0x"+common.Bytes2Hex(id[:]))
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.db.Put(escrowListKey, raw)
}

func (s *EscrowStore) listIDsLocked() ([]string, error) {
	raw, err := s.db.Get(escrowListKey)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListEscrows returns every stored escrow in creation order.
func (s *EscrowStore) ListEscrows() ([]*options.Escrow, error) {
	s.mu.Lock()
	ids, err := s.listIDsLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]*options.Escrow, 0, len(ids))
	for _, hexID := range ids {
		var id [32]byte
		copy(id[:], common.FromHex(hexID))
		esc, ok := s.EscrowGet(id)
		if !ok {
			continue
		}
		out = append(out, esc)
	}
	return out, nil
}

// NextEscrowIndex returns the next escrow index, starting at 1, and advances
// the persisted counter.
func (s *EscrowStore) NextEscrowIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	raw, err := s.db.Get(escrowIndexKey)
	if err != nil {
		if !IsNotFound(err) {
			return 0, err
		}
	} else if len(raw) == 8 {
		current = binary.BigEndian.Uint64(raw)
	}
	next := current + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.db.Put(escrowIndexKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// QuoteConsumed reports whether a quote hash has already been executed.
func (s *EscrowStore) QuoteConsumed(hash [32]byte) (bool, error) {
	raw, err := s.db.Get(quoteKey(hash))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// ConsumeQuote marks a quote hash as executed.
func (s *EscrowStore) ConsumeQuote(hash [32]byte) error {
	return s.db.Put(quoteKey(hash), []byte{1})
}

// QuotePaused reports whether a quoter has paused quoting.
func (s *EscrowStore) QuotePaused(quoter common.Address) (bool, error) {
	raw, err := s.db.Get(pauseKey(quoter))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// SetQuotePaused toggles a quoter's pause flag.
func (s *EscrowStore) SetQuotePaused(quoter common.Address, paused bool) error {
	flag := byte(0)
	if paused {
		flag = 1
	}
	return s.db.Put(pauseKey(quoter), []byte{flag})
}

// PositionBalance returns a holder's option token balance in an escrow.
func (s *EscrowStore) PositionBalance(id [32]byte, holder common.Address) (*big.Int, error) {
	raw, err := s.db.Get(positionKey(id, holder))
	if err != nil {
		if IsNotFound(err) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// PositionSet overwrites a holder's option token balance in an escrow.
func (s *EscrowStore) PositionSet(id [32]byte, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: position balance must be non-negative")
	}
	return s.db.Put(positionKey(id, holder), amount.Bytes())
}
