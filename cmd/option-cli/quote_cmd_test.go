package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"optionchain/crypto"
)

const (
	testUnderlying = "0x1111111111111111111111111111111111111111"
	testSettlement = "0x2222222222222222222222222222222222222222"
	testOracle     = "0x3333333333333333333333333333333333333333"
	testOwner      = "0x4444444444444444444444444444444444444444"
)

func writeTestKey(t *testing.T) (string, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.key")
	if err := os.WriteFile(path, key.Bytes(), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path, key
}

func signTestQuote(t *testing.T, keyPath, outPath string) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"sign",
		"--key", keyPath,
		"--chain-id", "1337",
		"--underlying", testUnderlying,
		"--settlement", testSettlement,
		"--notional", "100e18",
		"--strike", "2000e6",
		"--expiry", "+720h",
		"--oracle", testOracle,
		"--premium", "5e18",
		"--valid-until", "+1h",
		"--out", outPath,
	}
	if exitCode := runQuoteCommand(args, stdout, stderr); exitCode != 0 {
		t.Fatalf("sign failed with code %d: %s", exitCode, stderr.String())
	}
}

func TestQuoteSignVerifyRoundtrip(t *testing.T) {
	originalNow := quoteNow
	quoteNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { quoteNow = originalNow }()

	keyPath, key := writeTestKey(t)
	outPath := filepath.Join(t.TempDir(), "quote.json")
	signTestQuote(t, keyPath, outPath)

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read quote document: %v", err)
	}
	var doc signedQuoteDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse quote document: %v", err)
	}
	if doc.ChainID != 1337 {
		t.Fatalf("unexpected chain id: %d", doc.ChainID)
	}
	var quoteSection struct {
		Premium    string `json:"premium"`
		ValidUntil int64  `json:"validUntil"`
		Quoter     string `json:"quoter"`
	}
	if err := json.Unmarshal(doc.Quote, &quoteSection); err != nil {
		t.Fatalf("parse quote section: %v", err)
	}
	if quoteSection.Premium != "5000000000000000000" {
		t.Fatalf("unexpected premium: %s", quoteSection.Premium)
	}
	if quoteSection.ValidUntil != 1_700_000_000+3600 {
		t.Fatalf("unexpected deadline: %d", quoteSection.ValidUntil)
	}
	if !strings.EqualFold(quoteSection.Quoter, key.Address().Hex()) {
		t.Fatalf("unexpected quoter: %s", quoteSection.Quoter)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	exitCode := runQuoteCommand([]string{"verify", "--file", outPath}, stdout, stderr)
	if exitCode != 0 {
		t.Fatalf("verify failed with code %d: %s", exitCode, stderr.String())
	}
	if !strings.Contains(stdout.String(), key.Address().Hex()) {
		t.Fatalf("verify output %q does not name the signer %s", stdout.String(), key.Address().Hex())
	}
}

func TestQuoteVerifyDetectsTampering(t *testing.T) {
	originalNow := quoteNow
	quoteNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { quoteNow = originalNow }()

	keyPath, _ := writeTestKey(t)
	outPath := filepath.Join(t.TempDir(), "quote.json")
	signTestQuote(t, keyPath, outPath)

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read quote document: %v", err)
	}
	tampered := bytes.Replace(raw, []byte(`"5000000000000000000"`), []byte(`"1"`), 1)
	if bytes.Equal(tampered, raw) {
		t.Fatalf("tampering had no effect on the document")
	}
	if err := os.WriteFile(outPath, tampered, 0600); err != nil {
		t.Fatalf("write tampered document: %v", err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	exitCode := runQuoteCommand([]string{"verify", "--file", outPath}, stdout, stderr)
	if exitCode != 1 {
		t.Fatalf("tampered document verified: code %d, stdout %q", exitCode, stdout.String())
	}
	if !strings.Contains(stderr.String(), "altered after signing") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestQuoteTakeSubmitsDocument(t *testing.T) {
	originalNow := quoteNow
	quoteNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { quoteNow = originalNow }()

	keyPath, _ := writeTestKey(t)
	outPath := filepath.Join(t.TempDir(), "quote.json")
	signTestQuote(t, keyPath, outPath)

	originalCall := callOptionRPC
	callOptionRPC = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "options_takeQuote" {
			t.Fatalf("unexpected method: %s", method)
		}
		if !requireAuth {
			t.Fatalf("take must require auth")
		}
		paramMap, ok := params.(map[string]interface{})
		if !ok {
			t.Fatalf("params are not an object")
		}
		if paramMap["owner"] != testOwner {
			t.Fatalf("unexpected owner: %v", paramMap["owner"])
		}
		termsRaw, ok := paramMap["terms"].(json.RawMessage)
		if !ok || len(termsRaw) == 0 {
			t.Fatalf("terms were not forwarded")
		}
		quoteRaw, ok := paramMap["quote"].(json.RawMessage)
		if !ok || len(quoteRaw) == 0 {
			t.Fatalf("quote was not forwarded")
		}
		return json.RawMessage(`{"id":"0xabc"}`), nil, nil
	}
	defer func() { callOptionRPC = originalCall }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"take", "--file", outPath, "--owner", testOwner}
	exitCode := runQuoteCommand(args, stdout, stderr)
	if exitCode != 0 {
		t.Fatalf("take failed with code %d: %s", exitCode, stderr.String())
	}
	if stdout.String() != "{\"id\":\"0xabc\"}\n" {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestQuoteSignRejectsMissingPremium(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"sign",
		"--underlying", testUnderlying,
		"--settlement", testSettlement,
		"--notional", "1e18",
		"--strike", "1e6",
		"--expiry", "+720h",
		"--oracle", testOracle,
		"--valid-until", "+1h",
	}
	exitCode := runQuoteCommand(args, stdout, stderr)
	if exitCode != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "--premium is required") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}
