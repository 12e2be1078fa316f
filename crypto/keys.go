package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DecodeAddress parses a 0x-prefixed hex address. The prefix is optional and
// the check is case-insensitive; mixed-case checksums are not enforced.
func DecodeAddress(addrStr string) (common.Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("crypto: empty address")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("crypto: invalid address %q", addrStr)
	}
	return common.HexToAddress(trimmed), nil
}

// MustDecodeAddress is a convenience wrapper for static addresses in wiring
// code. It panics on malformed input.
func MustDecodeAddress(addrStr string) common.Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the 20-byte account address for the key.
func (k *PrivateKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

func (k *PublicKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(*k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 private key. A leading 0x
// prefix is tolerated.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Sign produces a 65-byte [R || S || V] secp256k1 signature over the supplied
// 32-byte digest. V is 0 or 1.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, fmt.Errorf("crypto: nil private key")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes (got %d)", len(digest))
	}
	return ethcrypto.Sign(digest, k.PrivateKey)
}
