package options

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain constants for the typed quote digest. Changing either invalidates
// every outstanding signature.
const (
	quoteDomainName    = "optionchain-rfq"
	quoteDomainVersion = "1"
)

var (
	quoteDomainTypeHash = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	quoteTypeHash       = ethcrypto.Keccak256([]byte("Quote(address underlying,address settlement,uint256 notional,uint256 strike,uint64 expiry,uint64 earliestExercise,uint256 borrowCap,address oracle,bool premiumTokenIsUnderlying,bool votingDelegationAllowed,address delegateRegistry,uint256 premium,uint64 validUntil)"))
)

// RFQQuote is an off-chain signed offer to buy a fully specified option for a
// fixed premium. Quoter is optional for raw ECDSA signatures and mandatory
// when the signature must be checked against a contract verifier.
type RFQQuote struct {
	Premium    *big.Int       `json:"premium"`
	ValidUntil int64          `json:"validUntil"`
	Quoter     common.Address `json:"quoter,omitempty"`
	Signature  []byte         `json:"signature"`
}

// Clone returns a deep copy of the quote.
func (q *RFQQuote) Clone() *RFQQuote {
	if q == nil {
		return nil
	}
	dup := *q
	dup.Premium = cloneBigInt(q.Premium)
	dup.Signature = append([]byte(nil), q.Signature...)
	return &dup
}

// ContractVerifier answers EIP-1271 style signature checks for quoters that
// are contracts rather than externally owned accounts.
type ContractVerifier interface {
	IsValidSignature(signer common.Address, digest [32]byte, signature []byte) bool
}

func wordFromBig(v *big.Int) []byte {
	var word [32]byte
	if v != nil && v.Sign() > 0 {
		b := v.Bytes()
		copy(word[32-len(b):], b)
	}
	return word[:]
}

func wordFromUint64(v uint64) []byte {
	return wordFromBig(new(big.Int).SetUint64(v))
}

func wordFromAddress(addr common.Address) []byte {
	var word [32]byte
	copy(word[12:], addr.Bytes())
	return word[:]
}

func wordFromBool(v bool) []byte {
	var word [32]byte
	if v {
		word[31] = 1
	}
	return word[:]
}

func quoteDomainSeparator(chainID uint64) []byte {
	return ethcrypto.Keccak256(
		quoteDomainTypeHash,
		ethcrypto.Keccak256([]byte(quoteDomainName)),
		ethcrypto.Keccak256([]byte(quoteDomainVersion)),
		wordFromUint64(chainID),
	)
}

// QuoteHash computes the typed digest a quoter signs: keccak256 of the 0x1901
// prefix, the domain separator bound to the chain id and the struct hash over
// the full terms plus premium and deadline. Identical quotes always hash to
// the same digest, which is what makes the consumed-hash replay set work.
func QuoteHash(chainID uint64, terms OptionTerms, premium *big.Int, validUntil int64) [32]byte {
	structHash := ethcrypto.Keccak256(
		quoteTypeHash,
		wordFromAddress(terms.Underlying),
		wordFromAddress(terms.Settlement),
		wordFromBig(terms.Notional),
		wordFromBig(terms.Strike),
		wordFromUint64(uint64(terms.Expiry)),
		wordFromUint64(uint64(terms.EarliestExercise)),
		wordFromBig(terms.Advanced.BorrowCap),
		wordFromAddress(terms.Advanced.Oracle),
		wordFromBool(terms.Advanced.PremiumTokenIsUnderlying),
		wordFromBool(terms.Advanced.VotingDelegationAllowed),
		wordFromAddress(terms.Advanced.DelegateRegistry),
		wordFromBig(premium),
		wordFromUint64(uint64(validUntil)),
	)
	var digest [32]byte
	sum := ethcrypto.Keccak256([]byte{0x19, 0x01}, quoteDomainSeparator(chainID), structHash)
	copy(digest[:], sum)
	return digest
}

// RecoverQuoter recovers the signer address from a 65-byte [R || S || V]
// signature over the quote digest. Both 0/1 and 27/28 recovery ids are
// accepted.
func RecoverQuoter(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, ErrInvalidSignature
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
