package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"optionchain/crypto"
)

const attestationDomain = "optionchain-oracle/v1"

// allowedClockSkew tolerates attester clocks slightly ahead of ours.
const allowedClockSkew int64 = 5

var (
	ErrAttestationMalformed = errors.New("oracle: attestation malformed")
	ErrAttestationPair      = errors.New("oracle: attestation pair mismatch")
	ErrAttestationStale     = errors.New("oracle: attestation stale")
	ErrAttestationSigner    = errors.New("oracle: attestation signer unknown")
	ErrAttestationDeviation = errors.New("oracle: attestation deviation too large")
)

// Attestation is a signed spot price statement produced off-chain by an
// authorized attester and relayed inside the oracle auxiliary data.
type Attestation struct {
	Base      common.Address `json:"base"`
	Quote     common.Address `json:"quote"`
	Price     *big.Int       `json:"price"`
	Timestamp int64          `json:"timestamp"`
	Signature []byte         `json:"signature"`
}

// canonicalMessage renders the fields signed by the attester. Any change to
// the layout invalidates existing signatures.
func (a *Attestation) canonicalMessage() string {
	price := "0"
	if a.Price != nil {
		price = a.Price.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		attestationDomain,
		strings.ToLower(a.Base.Hex()),
		strings.ToLower(a.Quote.Hex()),
		price,
		a.Timestamp,
	)
}

// Digest returns the keccak256 hash the attester signs.
func (a *Attestation) Digest() [32]byte {
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(a.canonicalMessage())))
	return digest
}

// Sign signs the attestation digest in place.
func (a *Attestation) Sign(key *crypto.PrivateKey) error {
	digest := a.Digest()
	sig, err := key.Sign(digest[:])
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}

// RecoverSigner recovers the attester address from the signature.
func (a *Attestation) RecoverSigner() (common.Address, error) {
	if len(a.Signature) != 65 {
		return common.Address{}, ErrAttestationMalformed
	}
	sig := append([]byte(nil), a.Signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := a.Digest()
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, ErrAttestationMalformed
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Encode serialises the attestation for transport in oracle auxiliary data.
func (a *Attestation) Encode() ([]byte, error) {
	if a == nil || a.Price == nil || a.Price.Sign() <= 0 {
		return nil, ErrAttestationMalformed
	}
	return json.Marshal(a)
}

// DecodeAttestation parses an attestation from oracle auxiliary data.
func DecodeAttestation(data []byte) (*Attestation, error) {
	var att Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, ErrAttestationMalformed
	}
	if att.Price == nil || att.Price.Sign() <= 0 || att.Timestamp <= 0 {
		return nil, ErrAttestationMalformed
	}
	return &att, nil
}

// AttestedSource validates signed attestations carried in the oracle
// auxiliary data. Requests without attestations fall through to the fallback
// source when one is configured.
type AttestedSource struct {
	mu              sync.RWMutex
	attester        common.Address
	maxAge          int64
	maxDeviationBps uint64
	last            map[string]*big.Int
	fallback        Source
	nowFn           func() int64
}

// NewAttestedSource creates an attested source accepting prices signed by
// attester. Attestations older than maxAge seconds are refused and price
// moves beyond maxDeviationBps basis points against the last accepted price
// are rejected; zero disables the deviation check.
func NewAttestedSource(attester common.Address, maxAge int64, maxDeviationBps uint64, fallback Source) *AttestedSource {
	return &AttestedSource{
		attester:        attester,
		maxAge:          maxAge,
		maxDeviationBps: maxDeviationBps,
		last:            make(map[string]*big.Int),
		fallback:        fallback,
		nowFn:           func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily for tests.
func (s *AttestedSource) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// Price implements the Source interface.
func (s *AttestedSource) Price(base, quote common.Address, auxData []byte) (*big.Int, error) {
	if len(auxData) == 0 {
		if s.fallback != nil {
			return s.fallback.Price(base, quote, nil)
		}
		return nil, ErrNoQuote
	}
	att, err := DecodeAttestation(auxData)
	if err != nil {
		return nil, err
	}
	if att.Base != base || att.Quote != quote {
		return nil, ErrAttestationPair
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	if att.Timestamp > now+allowedClockSkew {
		return nil, ErrAttestationStale
	}
	if s.maxAge > 0 && now-att.Timestamp > s.maxAge {
		return nil, ErrAttestationStale
	}
	signer, err := att.RecoverSigner()
	if err != nil {
		return nil, err
	}
	if signer != s.attester {
		return nil, ErrAttestationSigner
	}
	key := pairKey(base, quote)
	if prev, ok := s.last[key]; ok && s.maxDeviationBps > 0 {
		diff := new(big.Int).Sub(att.Price, prev)
		diff.Abs(diff)
		diff.Mul(diff, big.NewInt(10_000))
		limit := new(big.Int).Mul(prev, new(big.Int).SetUint64(s.maxDeviationBps))
		if diff.Cmp(limit) > 0 {
			return nil, ErrAttestationDeviation
		}
	}
	s.last[key] = new(big.Int).Set(att.Price)
	return new(big.Int).Set(att.Price), nil
}
