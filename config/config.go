package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"optionchain/crypto"
)

type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	MetricsAddress  string `toml:"MetricsAddress"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	ChainID         uint64 `toml:"ChainID"`
	EventBufferSize int    `toml:"EventBufferSize"`

	// SweepIntervalSeconds controls how often the node sweeps residual
	// balances out of expired escrows. Zero disables the sweeper.
	SweepIntervalSeconds int64 `toml:"SweepIntervalSeconds"`

	// RouterKeystorePath holds the node key whose address acts as the sweep
	// router for expired escrows.
	RouterKeystorePath string `toml:"RouterKeystorePath"`

	Logging  LoggingConfig   `toml:"logging"`
	Fees     FeesConfig      `toml:"fees"`
	Oracle   OracleConfig    `toml:"oracle"`
	Tokens   []TokenConfig   `toml:"tokens"`
	Balances []BalanceConfig `toml:"balances"`
	Prices   []PriceConfig   `toml:"prices"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "optionchain-local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1337
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []TokenConfig{}
	}
	if cfg.Balances == nil {
		cfg.Balances = []BalanceConfig{}
	}
	if cfg.Prices == nil {
		cfg.Prices = []PriceConfig{}
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.RouterKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.RouterKeystorePath != keystorePath {
		cfg.RouterKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:        ":8645",
		MetricsAddress:       ":9464",
		DataDir:              "./optionchain-data",
		NetworkName:          "optionchain-local",
		ChainID:              1337,
		EventBufferSize:      256,
		SweepIntervalSeconds: 60,
		Fees: FeesConfig{
			MatchFeeRate:    "100000000000000000",
			ExerciseFeeRate: "5000000000000000",
		},
		Oracle: OracleConfig{
			MaxQuoteAgeSeconds: 300,
		},
		Tokens:   []TokenConfig{},
		Balances: []BalanceConfig{},
		Prices:   []PriceConfig{},
	}
	cfg.RouterKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "router.keystore")
}
