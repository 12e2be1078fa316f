package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	testWETH     = "0x1111111111111111111111111111111111111111"
	testUSDC     = "0x2222222222222222222222222222222222222222"
	testTrader   = "0x4444444444444444444444444444444444444444"
	testTreasury = "0xFEFEFEFEFEFEFEFEFEFEFEFEFEFEFEFEFEFEFEFE"
	testPartner  = "0x7777777777777777777777777777777777777777"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fullConfig(keystorePath string) string {
	return fmt.Sprintf(`ListenAddress = "0.0.0.0:9000"
MetricsAddress = ":9465"
DataDir = "./data"
NetworkName = "testnet"
ChainID = 4242
EventBufferSize = 64
RouterKeystorePath = "%s"

[logging]
File = "./logs/optiond.log"
MaxSizeMB = 25
MaxBackups = 2
MaxAgeDays = 7
Compress = true

[fees]
Treasury = "%s"
MatchFeeRate = "100000000000000000"
ExerciseFeeRate = "5000000000000000"

[[fees.Partners]]
Address = "%s"
Share = "250000000000000000"

[oracle]
MaxQuoteAgeSeconds = 120
Attester = "%s"
MaxDeviationBps = 500

[[tokens]]
Symbol = "WETH"
Address = "%s"
Decimals = 18

[[tokens]]
Symbol = "USDC"
Address = "%s"
Decimals = 6

[[balances]]
Address = "%s"
Token = "WETH"
Amount = "100000000000000000000"

[[prices]]
Base = "WETH"
Quote = "USDC"
Price = "2000000000"
`, keystorePath, testTreasury, testPartner, testPartner, testWETH, testUSDC, testTrader)
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8645" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.ChainID != 1337 {
		t.Fatalf("unexpected chain id %d", cfg.ChainID)
	}
	if cfg.RouterKeystorePath == "" {
		t.Fatal("expected generated keystore path")
	}
	if _, err := os.Stat(cfg.RouterKeystorePath); err != nil {
		t.Fatalf("keystore missing: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RouterKeystorePath != cfg.RouterKeystorePath {
		t.Fatalf("keystore path changed across reload: %q vs %q", reloaded.RouterKeystorePath, cfg.RouterKeystorePath)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	dir := t.TempDir()
	keystorePath := filepath.Join(dir, "router.keystore")
	path := writeConfig(t, dir, fullConfig(keystorePath))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.ChainID != 4242 {
		t.Fatalf("chain id = %d", cfg.ChainID)
	}
	if cfg.EventBufferSize != 64 {
		t.Fatalf("event buffer = %d", cfg.EventBufferSize)
	}
	if cfg.Logging.File != "./logs/optiond.log" || cfg.Logging.MaxSizeMB != 25 {
		t.Fatalf("logging section mismatch: %+v", cfg.Logging)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tokens, err := cfg.ParsedTokens()
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Symbol != "WETH" || tokens[0].Decimals != 18 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}

	balances, err := cfg.ParsedBalances()
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	wantAmount, _ := new(big.Int).SetString("100000000000000000000", 10)
	if len(balances) != 1 || balances[0].Amount.Cmp(wantAmount) != 0 {
		t.Fatalf("unexpected balances %+v", balances)
	}
	if balances[0].Token != common.HexToAddress(testWETH) {
		t.Fatalf("balance token = %s", balances[0].Token.Hex())
	}

	prices, err := cfg.ParsedPrices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(prices) != 1 || prices[0].Value.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("unexpected prices %+v", prices)
	}
	if prices[0].Base != common.HexToAddress(testWETH) || prices[0].Quote != common.HexToAddress(testUSDC) {
		t.Fatalf("price pair mismatch: %+v", prices[0])
	}

	fees, err := cfg.ParsedFees()
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if fees.Treasury != common.HexToAddress(testTreasury) {
		t.Fatalf("treasury = %s", fees.Treasury.Hex())
	}
	if fees.MatchRate.Cmp(big.NewInt(100_000_000_000_000_000)) != 0 {
		t.Fatalf("match rate = %s", fees.MatchRate)
	}
	share, ok := fees.Partners[common.HexToAddress(testPartner)]
	if !ok || share.Cmp(big.NewInt(250_000_000_000_000_000)) != 0 {
		t.Fatalf("partner share missing or wrong: %v", fees.Partners)
	}

	attester, enabled, err := cfg.AttesterAddress()
	if err != nil {
		t.Fatalf("attester: %v", err)
	}
	if !enabled || attester != common.HexToAddress(testPartner) {
		t.Fatalf("attester = %s enabled=%v", attester.Hex(), enabled)
	}
}

func TestLoadBackfillsKeystorePath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "ListenAddress = \":9100\"\nChainID = 7\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RouterKeystorePath == "" {
		t.Fatal("expected backfilled keystore path")
	}
	if _, err := os.Stat(cfg.RouterKeystorePath); err != nil {
		t.Fatalf("keystore missing: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(raw), "RouterKeystorePath") {
		t.Fatalf("config not rewritten with keystore path: %s", raw)
	}
}

func TestValidateRejectsBrokenSections(t *testing.T) {
	base := func() *Config {
		return &Config{
			ListenAddress:   ":8645",
			ChainID:         1,
			EventBufferSize: 16,
			Tokens: []TokenConfig{
				{Symbol: "WETH", Address: testWETH, Decimals: 18},
			},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing listen address",
			mutate:  func(c *Config) { c.ListenAddress = " " },
			wantErr: "ListenAddress",
		},
		{
			name:    "zero chain id",
			mutate:  func(c *Config) { c.ChainID = 0 },
			wantErr: "ChainID",
		},
		{
			name: "duplicate token symbol",
			mutate: func(c *Config) {
				c.Tokens = append(c.Tokens, TokenConfig{Symbol: "weth", Address: testUSDC, Decimals: 6})
			},
			wantErr: "duplicate symbol",
		},
		{
			name: "balance references unknown token",
			mutate: func(c *Config) {
				c.Balances = []BalanceConfig{{Address: testTrader, Token: "USDC", Amount: "5"}}
			},
			wantErr: "unknown token",
		},
		{
			name: "malformed balance amount",
			mutate: func(c *Config) {
				c.Balances = []BalanceConfig{{Address: testTrader, Token: "WETH", Amount: "12.5"}}
			},
			wantErr: "invalid integer amount",
		},
		{
			name: "bad partner address",
			mutate: func(c *Config) {
				c.Fees.Partners = []PartnerConfig{{Address: "not-an-address", Share: "1"}}
			},
			wantErr: "fees.Partners[0]",
		},
		{
			name:    "bad attester",
			mutate:  func(c *Config) { c.Oracle.Attester = "0x123" },
			wantErr: "oracle.Attester",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
