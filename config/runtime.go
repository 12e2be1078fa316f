package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/crypto"
)

// Token is a parsed tokens entry.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Balance is a parsed genesis balance.
type Balance struct {
	Address common.Address
	Token   common.Address
	Amount  *big.Int
}

// Price is a parsed genesis spot quote.
type Price struct {
	Base  common.Address
	Quote common.Address
	Value *big.Int
}

// FeePlan is the parsed protocol fee schedule.
type FeePlan struct {
	Treasury     common.Address
	MatchRate    *big.Int
	ExerciseRate *big.Int
	Partners     map[common.Address]*big.Int
}

// ParsedTokens resolves the tokens list into runtime values.
func (c *Config) ParsedTokens() ([]Token, error) {
	tokens := make([]Token, 0, len(c.Tokens))
	seen := make(map[string]struct{}, len(c.Tokens))
	for i, entry := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("tokens[%d]: symbol required", i)
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = struct{}{}
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if entry.Decimals > 36 {
			return nil, fmt.Errorf("tokens[%d]: decimals %d out of range", i, entry.Decimals)
		}
		tokens = append(tokens, Token{Symbol: symbol, Address: addr, Decimals: entry.Decimals})
	}
	return tokens, nil
}

func (c *Config) tokenIndex() (map[string]Token, error) {
	tokens, err := c.ParsedTokens()
	if err != nil {
		return nil, err
	}
	index := make(map[string]Token, len(tokens))
	for _, token := range tokens {
		index[token.Symbol] = token
	}
	return index, nil
}

// ParsedBalances resolves the genesis balances against the tokens list.
func (c *Config) ParsedBalances() ([]Balance, error) {
	index, err := c.tokenIndex()
	if err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(c.Balances))
	for i, entry := range c.Balances {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("balances[%d]: %w", i, err)
		}
		token, ok := index[strings.ToUpper(strings.TrimSpace(entry.Token))]
		if !ok {
			return nil, fmt.Errorf("balances[%d]: unknown token %q", i, entry.Token)
		}
		amount, err := parseUintAmount(entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("balances[%d]: %w", i, err)
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("balances[%d]: amount must be positive", i)
		}
		balances = append(balances, Balance{Address: addr, Token: token.Address, Amount: amount})
	}
	return balances, nil
}

// ParsedPrices resolves the genesis spot quotes against the tokens list.
func (c *Config) ParsedPrices() ([]Price, error) {
	index, err := c.tokenIndex()
	if err != nil {
		return nil, err
	}
	prices := make([]Price, 0, len(c.Prices))
	for i, entry := range c.Prices {
		base, ok := index[strings.ToUpper(strings.TrimSpace(entry.Base))]
		if !ok {
			return nil, fmt.Errorf("prices[%d]: unknown base token %q", i, entry.Base)
		}
		quote, ok := index[strings.ToUpper(strings.TrimSpace(entry.Quote))]
		if !ok {
			return nil, fmt.Errorf("prices[%d]: unknown quote token %q", i, entry.Quote)
		}
		value, err := parseUintAmount(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("prices[%d]: %w", i, err)
		}
		if value.Sign() <= 0 {
			return nil, fmt.Errorf("prices[%d]: price must be positive", i)
		}
		prices = append(prices, Price{Base: base.Address, Quote: quote.Address, Value: value})
	}
	return prices, nil
}

// ParsedFees parses the fee schedule section. Missing rates default to zero;
// the schedule caps are enforced when the values are applied.
func (c *Config) ParsedFees() (*FeePlan, error) {
	plan := &FeePlan{Partners: make(map[common.Address]*big.Int)}
	if treasury := strings.TrimSpace(c.Fees.Treasury); treasury != "" {
		addr, err := crypto.DecodeAddress(treasury)
		if err != nil {
			return nil, fmt.Errorf("fees.Treasury: %w", err)
		}
		plan.Treasury = addr
	}
	matchRate, err := parseUintAmount(c.Fees.MatchFeeRate)
	if err != nil {
		return nil, fmt.Errorf("fees.MatchFeeRate: %w", err)
	}
	plan.MatchRate = matchRate
	exerciseRate, err := parseUintAmount(c.Fees.ExerciseFeeRate)
	if err != nil {
		return nil, fmt.Errorf("fees.ExerciseFeeRate: %w", err)
	}
	plan.ExerciseRate = exerciseRate
	for i, partner := range c.Fees.Partners {
		addr, err := crypto.DecodeAddress(partner.Address)
		if err != nil {
			return nil, fmt.Errorf("fees.Partners[%d]: %w", i, err)
		}
		share, err := parseUintAmount(partner.Share)
		if err != nil {
			return nil, fmt.Errorf("fees.Partners[%d]: %w", i, err)
		}
		plan.Partners[addr] = share
	}
	return plan, nil
}

// AttesterAddress parses the oracle attester. The second return reports
// whether attestation checking is enabled at all.
func (c *Config) AttesterAddress() (common.Address, bool, error) {
	attester := strings.TrimSpace(c.Oracle.Attester)
	if attester == "" {
		return common.Address{}, false, nil
	}
	addr, err := crypto.DecodeAddress(attester)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("oracle.Attester: %w", err)
	}
	return addr, true, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
