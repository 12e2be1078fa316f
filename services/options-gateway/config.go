package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIKeyConfig describes a single API key + secret pair accepted by the gateway.
type APIKeyConfig struct {
	Key     string         `json:"key"`
	Secret  string         `json:"secret"`
	Partner *PartnerConfig `json:"partner,omitempty"`
}

// PartnerConfig carries the fee-partner defaults for an integrator. When a
// bid or quote request omits the partner field the gateway fills in the
// configured address so the integrator's fee share routes correctly.
type PartnerConfig struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// Config captures runtime configuration for the options gateway service.
type Config struct {
	ListenAddress        string
	NodeURL              string
	NodeAuthToken        string
	DatabasePath         string
	NonceDBPath          string
	AllowedTimestampSkew time.Duration
	NonceTTL             time.Duration
	NonceCapacity        int
	APIKeys              []APIKeyConfig
	Partners             map[string]PartnerConfig
	WebhookQueueCapacity int
	WebhookHistorySize   int
	WebhookQueueTTL      time.Duration
	PollInterval         time.Duration
	IdempotencyTTL       time.Duration
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:        getenvDefault("OPTIONS_GATEWAY_LISTEN", ":8751"),
		NodeURL:              os.Getenv("OPTIONS_GATEWAY_NODE_URL"),
		NodeAuthToken:        os.Getenv("OPTIONS_GATEWAY_NODE_TOKEN"),
		DatabasePath:         getenvDefault("OPTIONS_GATEWAY_DB_PATH", "options-gateway.db"),
		NonceDBPath:          strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_NONCE_DB")),
		AllowedTimestampSkew: 2 * time.Minute,
		NonceCapacity:        1024,
		WebhookQueueCapacity: defaultTaskCapacity,
		WebhookHistorySize:   defaultHistoryCapacity,
		WebhookQueueTTL:      defaultQueueTTL,
		PollInterval:         5 * time.Second,
		IdempotencyTTL:       24 * time.Hour,
	}

	if skew := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_TIMESTAMP_SKEW")); skew != "" {
		dur, err := time.ParseDuration(skew)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_TIMESTAMP_SKEW: %w", err)
		}
		cfg.AllowedTimestampSkew = dur
	}

	cfg.NonceTTL = 2 * cfg.AllowedTimestampSkew
	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_NONCE_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_NONCE_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_NONCE_TTL must be positive")
		}
		cfg.NonceTTL = dur
	}
	if cfg.NonceTTL < cfg.AllowedTimestampSkew {
		cfg.NonceTTL = cfg.AllowedTimestampSkew
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_NONCE_CAP")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_NONCE_CAP: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_NONCE_CAP must be positive")
		}
		cfg.NonceCapacity = val
	}

	if cfg.NodeURL == "" {
		return Config{}, errors.New("OPTIONS_GATEWAY_NODE_URL is required")
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_QUEUE_CAP")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_QUEUE_CAP: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_QUEUE_CAP must be positive")
		}
		cfg.WebhookQueueCapacity = val
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_QUEUE_HISTORY")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_QUEUE_HISTORY: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_QUEUE_HISTORY must be positive")
		}
		cfg.WebhookHistorySize = val
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_QUEUE_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_QUEUE_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_QUEUE_TTL must be positive")
		}
		cfg.WebhookQueueTTL = dur
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_POLL_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_POLL_INTERVAL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_POLL_INTERVAL must be positive")
		}
		cfg.PollInterval = dur
	}

	if raw := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_IDEMPOTENCY_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse OPTIONS_GATEWAY_IDEMPOTENCY_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("OPTIONS_GATEWAY_IDEMPOTENCY_TTL must be positive")
		}
		cfg.IdempotencyTTL = dur
	}

	// API keys arrive as a JSON array: [{"key":"...","secret":"..."}, ...]
	apiJSON := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_API_KEYS"))
	if apiJSON == "" {
		return Config{}, errors.New("OPTIONS_GATEWAY_API_KEYS is required")
	}
	var entries []APIKeyConfig
	if err := json.Unmarshal([]byte(apiJSON), &entries); err != nil {
		return Config{}, err
	}
	cfg.Partners = make(map[string]PartnerConfig)
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		secret := strings.TrimSpace(entry.Secret)
		if key == "" || secret == "" {
			return Config{}, errors.New("api key entries must include key and secret")
		}
		sanitized := APIKeyConfig{Key: key, Secret: secret}
		if entry.Partner != nil {
			partner, err := sanitizePartnerConfig(*entry.Partner)
			if err != nil {
				return Config{}, err
			}
			cfg.Partners[key] = partner
			sanitized.Partner = &partner
		}
		cfg.APIKeys = append(cfg.APIKeys, sanitized)
	}

	if len(cfg.APIKeys) == 0 {
		return Config{}, errors.New("no API keys configured")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func sanitizePartnerConfig(input PartnerConfig) (PartnerConfig, error) {
	partner := PartnerConfig{
		Address: strings.TrimSpace(input.Address),
		Label:   strings.TrimSpace(input.Label),
	}
	if partner.Address == "" {
		return PartnerConfig{}, errors.New("partner entries must include an address")
	}
	if !strings.HasPrefix(partner.Address, "0x") || len(partner.Address) != 42 {
		return PartnerConfig{}, fmt.Errorf("partner address %q must be a 0x-prefixed 20-byte hex string", partner.Address)
	}
	if len(partner.Label) > 128 {
		return PartnerConfig{}, errors.New("partner label exceeds 128 characters")
	}
	return partner, nil
}
