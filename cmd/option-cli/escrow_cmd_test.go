package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEscrowCommandArgValidation(t *testing.T) {
	originalCall := callOptionRPC
	callOptionRPC = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	defer func() { callOptionRPC = originalCall }()

	cases := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{
			name:       "missing_subcommand",
			args:       nil,
			wantStderr: "Usage:",
		},
		{
			name:       "unknown_subcommand",
			args:       []string{"unknown"},
			wantStderr: "Unknown escrow subcommand: unknown",
		},
		{
			name:       "get_invalid_id",
			args:       []string{"get", "--id", "0x1234"},
			wantStderr: "Error: --id must be a 0x-prefixed 32-byte hex string",
		},
		{
			name:       "exercise_missing_caller",
			args:       []string{"exercise", "--id", "0x" + strings.Repeat("00", 32), "--amount", "1e18"},
			wantStderr: "Error: --caller is required",
		},
		{
			name: "exercise_invalid_amount",
			args: []string{
				"exercise",
				"--id", "0x" + strings.Repeat("00", 32),
				"--caller", "0x1111111111111111111111111111111111111111",
				"--amount", "1.5",
			},
			wantStderr: "Error: --amount: amount must be an integer",
		},
		{
			name: "withdraw_missing_token",
			args: []string{
				"withdraw",
				"--id", "0x" + strings.Repeat("00", 32),
				"--caller", "0x1111111111111111111111111111111111111111",
				"--amount", "1",
			},
			wantStderr: "Error: --token is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			exitCode := runEscrowCommand(tc.args, stdout, stderr)
			if exitCode != 1 {
				t.Fatalf("unexpected exit code: got %d, want 1", exitCode)
			}
			if stdout.Len() != 0 {
				t.Fatalf("expected empty stdout, got %q", stdout.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderr) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.wantStderr)
			}
		})
	}
}

func TestEscrowRPCErrorsAndSuccess(t *testing.T) {
	id := "0x" + strings.Repeat("0", 64)

	t.Run("rpc_error", func(t *testing.T) {
		originalCall := callOptionRPC
		callOptionRPC = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			if method != "options_escrow" {
				t.Fatalf("unexpected method: %s", method)
			}
			return nil, &rpcError{Code: -32042, Message: "not_found"}, nil
		}
		defer func() { callOptionRPC = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		exitCode := runEscrowCommand([]string{"get", "--id", id}, stdout, stderr)
		if exitCode != 1 {
			t.Fatalf("unexpected exit code: got %d, want 1", exitCode)
		}
		want := "RPC error -32042: not_found\n"
		if stderr.String() != want {
			t.Fatalf("unexpected stderr: got %q, want %q", stderr.String(), want)
		}
	})

	t.Run("borrow_success", func(t *testing.T) {
		originalCall := callOptionRPC
		callOptionRPC = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			if method != "options_borrow" {
				t.Fatalf("unexpected method: %s", method)
			}
			if !requireAuth {
				t.Fatalf("borrow must require auth")
			}
			paramMap, ok := params.(map[string]interface{})
			if !ok {
				t.Fatalf("params are not an object")
			}
			if paramMap["amount"] != "2000000000000000000" {
				t.Fatalf("unexpected amount: %v", paramMap["amount"])
			}
			if _, exists := paramMap["receiver"]; exists {
				t.Fatalf("receiver should be omitted when empty")
			}
			return json.RawMessage(`{"collateral":"1"}`), nil, nil
		}
		defer func() { callOptionRPC = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		args := []string{
			"borrow",
			"--id", id,
			"--borrower", "0x1111111111111111111111111111111111111111",
			"--amount", "2e18",
		}
		exitCode := runEscrowCommand(args, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, stderr %q", exitCode, stderr.String())
		}
		want := "{\"collateral\":\"1\"}\n"
		if stdout.String() != want {
			t.Fatalf("unexpected stdout: got %q, want %q", stdout.String(), want)
		}
	})

	t.Run("list_success", func(t *testing.T) {
		originalCall := callOptionRPC
		callOptionRPC = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			if method != "options_list" {
				t.Fatalf("unexpected method: %s", method)
			}
			if requireAuth {
				t.Fatalf("list must not require auth")
			}
			return json.RawMessage(`[]`), nil, nil
		}
		defer func() { callOptionRPC = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		exitCode := runEscrowCommand([]string{"list"}, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, stderr %q", exitCode, stderr.String())
		}
		if stdout.String() != "[]\n" {
			t.Fatalf("unexpected stdout: %q", stdout.String())
		}
	})
}
