package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestMaskFieldRedactsQuoteSignatures(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	signature := "0x8a1f4bd3c9e2776d41ab5c0ffee91827364554637281910293847566718293a4"
	logger.Warn("rejecting stale quote",
		MaskField("signature", signature),
		slog.String("reason", "expired"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}

	if IsAllowlisted("signature") {
		t.Fatalf("signature should not be allowlisted for logging: %v", RedactionAllowlist())
	}
	if bytes.Contains(buf.Bytes(), []byte(signature)) {
		t.Fatalf("log output leaked quote signature: %s", buf.Bytes())
	}

	value, ok := entry["signature"].(string)
	if !ok {
		t.Fatalf("expected string signature attribute, got %T", entry["signature"])
	}
	if value != RedactedValue {
		t.Fatalf("expected redacted signature, got %q", value)
	}
	if reason, _ := entry["reason"].(string); reason != "expired" {
		t.Fatalf("allowlisted reason should pass through, got %q", reason)
	}
}

func TestMaskFieldPreservesAllowlistedKeys(t *testing.T) {
	attr := MaskField("escrow", "0x41b2")
	if attr.Value.String() != "0x41b2" {
		t.Fatalf("escrow id should not be masked, got %q", attr.Value.String())
	}
	attr = MaskField("authorization", "Bearer secret")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("authorization header should be masked, got %q", attr.Value.String())
	}
}

func TestMaskValueLeavesEmptyInput(t *testing.T) {
	if got := MaskValue("   "); got != "   " {
		t.Fatalf("whitespace value should pass through, got %q", got)
	}
	if got := MaskValue("hunter2"); got != RedactedValue {
		t.Fatalf("expected redacted value, got %q", got)
	}
}
