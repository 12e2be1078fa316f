package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/storage"
)

var delegateKeyPrefix = []byte("registry/d/")

// DelegateLedger is the reference delegate registry. It records one delegate
// per delegation space and satisfies the options engine's DelegateRegistry
// interface.
type DelegateLedger struct {
	mu      sync.Mutex
	db      storage.Database
	address common.Address
}

// NewDelegateLedger creates a delegate ledger identified by address. Escrow
// terms name this address to opt in to delegation through it.
func NewDelegateLedger(db storage.Database, address common.Address) (*DelegateLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("registry: database required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("registry: delegate ledger address required")
	}
	return &DelegateLedger{db: db, address: address}, nil
}

// Address returns the identity escrow terms must reference.
func (d *DelegateLedger) Address() common.Address { return d.address }

func delegateKey(space [32]byte) []byte {
	return append(append([]byte{}, delegateKeyPrefix...), space[:]...)
}

// SetDelegate records the delegate for a space, replacing any previous entry.
func (d *DelegateLedger) SetDelegate(space [32]byte, delegate common.Address) error {
	if delegate == (common.Address{}) {
		return fmt.Errorf("registry: delegate required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Put(delegateKey(space), delegate.Bytes())
}

// Delegate returns the recorded delegate for a space.
func (d *DelegateLedger) Delegate(space [32]byte) (common.Address, bool) {
	raw, err := d.db.Get(delegateKey(space))
	if err != nil || len(raw) != common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(raw), true
}
