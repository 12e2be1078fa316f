package main

import (
	"encoding/hex"
	"net/http"
	"time"

	gatewayauth "optionchain/gateway/auth"
)

// Authenticator verifies request signatures for configured API keys. The
// heavy lifting lives in gateway/auth; this wrapper adapts the service
// configuration shape.
type Authenticator = gatewayauth.Authenticator

// Principal identifies the API key that signed a request.
type Principal = gatewayauth.Principal

// NoncePersistence mirrors the shared persistence hook so main can wire the
// LevelDB store without importing gateway/auth directly.
type NoncePersistence = gatewayauth.NoncePersistence

const (
	headerAPIKey    = gatewayauth.HeaderAPIKey
	headerTimestamp = gatewayauth.HeaderTimestamp
	headerNonce     = gatewayauth.HeaderNonce
	headerSignature = gatewayauth.HeaderSignature
)

// NewAuthenticator constructs an Authenticator from API key configuration.
func NewAuthenticator(keys []APIKeyConfig, skew, nonceTTL time.Duration, capacity int, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	secrets := make(map[string]string, len(keys))
	for _, key := range keys {
		secrets[key.Key] = key.Secret
	}
	return gatewayauth.NewAuthenticator(secrets, skew, nonceTTL, capacity, nowFn, persistence)
}

func computeSignature(secret, timestamp, nonce, method, path string, body []byte) string {
	return hex.EncodeToString(gatewayauth.ComputeSignature(secret, timestamp, nonce, method, path, body))
}

func canonicalRequestPath(r *http.Request) string {
	return gatewayauth.CanonicalRequestPath(r)
}
