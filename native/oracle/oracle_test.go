package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/crypto"
)

var (
	baseToken  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	quoteToken = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func TestManualSource(t *testing.T) {
	now := int64(1_700_000_000)
	src := NewManualSource(300)
	src.SetNowFunc(func() int64 { return now })

	if _, err := src.Price(baseToken, quoteToken, nil); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("empty source: err = %v", err)
	}
	if err := src.SetPrice(baseToken, quoteToken, big.NewInt(0)); err == nil {
		t.Fatalf("zero price must be rejected")
	}
	if err := src.SetPrice(baseToken, quoteToken, usdc(2000)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	price, err := src.Price(baseToken, quoteToken, nil)
	if err != nil || price.Cmp(usdc(2000)) != 0 {
		t.Fatalf("price = %s err=%v", price, err)
	}
	// The reverse pair is a different quote entirely.
	if _, err := src.Price(quoteToken, baseToken, nil); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("reverse pair: err = %v", err)
	}

	now += 301
	if _, err := src.Price(baseToken, quoteToken, nil); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("stale quote: err = %v", err)
	}
}

func signedAttestation(t *testing.T, key *crypto.PrivateKey, price *big.Int, ts int64) []byte {
	t.Helper()
	att := &Attestation{
		Base:      baseToken,
		Quote:     quoteToken,
		Price:     price,
		Timestamp: ts,
	}
	if err := att.Sign(key); err != nil {
		t.Fatalf("sign attestation: %v", err)
	}
	encoded, err := att.Encode()
	if err != nil {
		t.Fatalf("encode attestation: %v", err)
	}
	return encoded
}

func TestAttestationRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	att := &Attestation{Base: baseToken, Quote: quoteToken, Price: usdc(2000), Timestamp: 1_700_000_000}
	if err := att.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := att.RecoverSigner()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.Address() {
		t.Fatalf("signer = %s, want %s", signer.Hex(), key.Address().Hex())
	}

	encoded, err := att.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAttestation(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Price.Cmp(att.Price) != 0 || decoded.Timestamp != att.Timestamp {
		t.Fatalf("decoded %s@%d", decoded.Price, decoded.Timestamp)
	}
	// Any field change breaks the signature.
	decoded.Price = usdc(2001)
	signer, err = decoded.RecoverSigner()
	if err == nil && signer == key.Address() {
		t.Fatalf("tampered attestation still verifies")
	}

	if _, err := DecodeAttestation([]byte("{not json")); !errors.Is(err, ErrAttestationMalformed) {
		t.Fatalf("garbage decode: err = %v", err)
	}
}

func TestAttestedSourceValidation(t *testing.T) {
	now := int64(1_700_000_000)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	intruder, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	fallback := NewManualSource(0)
	if err := fallback.SetPrice(baseToken, quoteToken, usdc(1990)); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	src := NewAttestedSource(key.Address(), 60, 500, fallback)
	src.SetNowFunc(func() int64 { return now })

	// No attestation falls through to the fallback table.
	price, err := src.Price(baseToken, quoteToken, nil)
	if err != nil || price.Cmp(usdc(1990)) != 0 {
		t.Fatalf("fallback price = %s err=%v", price, err)
	}

	price, err = src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2000), now))
	if err != nil || price.Cmp(usdc(2000)) != 0 {
		t.Fatalf("attested price = %s err=%v", price, err)
	}

	// Wrong pair, stale, future, foreign signer.
	wrongPair := &Attestation{Base: quoteToken, Quote: baseToken, Price: usdc(2000), Timestamp: now}
	if err := wrongPair.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, _ := wrongPair.Encode()
	if _, err := src.Price(baseToken, quoteToken, encoded); !errors.Is(err, ErrAttestationPair) {
		t.Fatalf("pair mismatch: err = %v", err)
	}
	if _, err := src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2000), now-61)); !errors.Is(err, ErrAttestationStale) {
		t.Fatalf("stale: err = %v", err)
	}
	if _, err := src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2000), now+10)); !errors.Is(err, ErrAttestationStale) {
		t.Fatalf("future: err = %v", err)
	}
	if _, err := src.Price(baseToken, quoteToken, signedAttestation(t, intruder, usdc(2000), now)); !errors.Is(err, ErrAttestationSigner) {
		t.Fatalf("foreign signer: err = %v", err)
	}

	// A 5% deviation cap rejects a 6% jump but admits a 4% one.
	if _, err := src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2120), now)); !errors.Is(err, ErrAttestationDeviation) {
		t.Fatalf("deviation: err = %v", err)
	}
	price, err = src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2080), now))
	if err != nil || price.Cmp(usdc(2080)) != 0 {
		t.Fatalf("within deviation: price = %s err=%v", price, err)
	}
}

func TestAttestedSourceSkewTolerance(t *testing.T) {
	now := int64(1_700_000_000)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	src := NewAttestedSource(key.Address(), 60, 0, nil)
	src.SetNowFunc(func() int64 { return now })

	// Attester clocks a few seconds ahead are tolerated.
	price, err := src.Price(baseToken, quoteToken, signedAttestation(t, key, usdc(2000), now+allowedClockSkew))
	if err != nil || price.Cmp(usdc(2000)) != 0 {
		t.Fatalf("skewed price = %s err=%v", price, err)
	}
	// Without a fallback, missing attestations are a hard error.
	if _, err := src.Price(baseToken, quoteToken, nil); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("no fallback: err = %v", err)
	}
}
