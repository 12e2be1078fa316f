package config

// LoggingConfig controls the optional size-rotated log file. An empty File
// keeps logging on stdout only.
type LoggingConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// FeesConfig carries the protocol fee schedule. Rates are WAD fractions
// encoded as decimal strings; the schedule caps apply at wiring time.
type FeesConfig struct {
	Treasury        string          `toml:"Treasury"`
	MatchFeeRate    string          `toml:"MatchFeeRate"`
	ExerciseFeeRate string          `toml:"ExerciseFeeRate"`
	Partners        []PartnerConfig `toml:"Partners"`
}

// PartnerConfig grants a distribution partner its WAD share of the match fee.
type PartnerConfig struct {
	Address string `toml:"Address"`
	Share   string `toml:"Share"`
}

// OracleConfig selects the price source. An empty Attester keeps the
// operator-fed manual source; setting it requires signed attestations in the
// oracle auxiliary data, with the manual source as fallback.
type OracleConfig struct {
	MaxQuoteAgeSeconds int64  `toml:"MaxQuoteAgeSeconds"`
	Attester           string `toml:"Attester"`
	MaxDeviationBps    uint64 `toml:"MaxDeviationBps"`
}

// TokenConfig registers a token with the bank ledger at startup.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	Decimals uint8  `toml:"Decimals"`
}

// BalanceConfig mints a genesis balance. Token references a symbol from the
// tokens list; Amount is an integer in the token's base units.
type BalanceConfig struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// PriceConfig seeds the manual price source with a starting spot quote. Base
// and Quote reference symbols from the tokens list; Price is an integer in
// the quote token's base units.
type PriceConfig struct {
	Base  string `toml:"Base"`
	Quote string `toml:"Quote"`
	Price string `toml:"Price"`
}
