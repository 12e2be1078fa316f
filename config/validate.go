package config

import (
	"fmt"
	"strings"
)

// Validate checks the structural consistency of a loaded configuration.
// Fee schedule caps and bank registration conflicts surface later when the
// parsed values are applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("ChainID must be non-zero")
	}
	if cfg.EventBufferSize <= 0 {
		return fmt.Errorf("EventBufferSize must be positive")
	}
	if cfg.Oracle.MaxQuoteAgeSeconds < 0 {
		return fmt.Errorf("oracle.MaxQuoteAgeSeconds must not be negative")
	}
	if _, err := cfg.ParsedTokens(); err != nil {
		return err
	}
	if _, err := cfg.ParsedBalances(); err != nil {
		return err
	}
	if _, err := cfg.ParsedPrices(); err != nil {
		return err
	}
	if _, err := cfg.ParsedFees(); err != nil {
		return err
	}
	if _, _, err := cfg.AttesterAddress(); err != nil {
		return err
	}
	return nil
}
