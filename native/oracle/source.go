// Package oracle provides the spot price sources consumed by the options
// engine. Prices are denominated in the settlement token and scaled by
// 10^settlementDecimals.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoQuote    = errors.New("oracle: no quote available")
	ErrStaleQuote = errors.New("oracle: quote stale")
)

// Source answers spot price requests. The auxiliary data blob carries
// optional signed attestations; sources that do not understand it ignore it.
type Source interface {
	Price(base, quote common.Address, auxData []byte) (*big.Int, error)
}

func pairKey(base, quote common.Address) string {
	return strings.ToLower(base.Hex()) + "/" + strings.ToLower(quote.Hex())
}

type manualEntry struct {
	price     *big.Int
	updatedAt int64
}

// ManualSource is an operator-fed price table. It backs development networks
// and acts as the fallback behind attested feeds.
type ManualSource struct {
	mu     sync.RWMutex
	prices map[string]manualEntry
	maxAge int64
	nowFn  func() int64
}

// NewManualSource creates a manual source. Prices older than maxAge seconds
// are refused; a non-positive maxAge disables the staleness check.
func NewManualSource(maxAge int64) *ManualSource {
	return &ManualSource{
		prices: make(map[string]manualEntry),
		maxAge: maxAge,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for tests.
func (m *ManualSource) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

// SetPrice records the spot price for a pair.
func (m *ManualSource) SetPrice(base, quote common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[pairKey(base, quote)] = manualEntry{
		price:     new(big.Int).Set(price),
		updatedAt: m.nowFn(),
	}
	return nil
}

// Price implements the Source interface. The auxiliary data is ignored.
func (m *ManualSource) Price(base, quote common.Address, _ []byte) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.prices[pairKey(base, quote)]
	if !ok {
		return nil, ErrNoQuote
	}
	if m.maxAge > 0 && m.nowFn()-entry.updatedAt > m.maxAge {
		return nil, ErrStaleQuote
	}
	return new(big.Int).Set(entry.price), nil
}
