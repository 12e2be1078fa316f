package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"optionchain/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("OPTIOND_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "auction":
		code := runAuctionCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "escrow":
		code := runEscrowCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "quote":
		code := runQuoteCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "oracle":
		code := runOracleCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "export":
		code := runExportCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "events":
		afterSeq := uint64(0)
		if len(args) > 1 {
			parsed, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				fmt.Println("Error: after-sequence must be a non-negative integer.")
				return
			}
			afterSeq = parsed
		}
		fetchEvents(afterSeq)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your address is: %s\n", key.Address().Hex())
	fmt.Println("Store this file securely. Signing commands refuse to run without a local key.")
}

func fetchEvents(afterSeq uint64) {
	params := map[string]interface{}{}
	if afterSeq > 0 {
		params["afterSeq"] = afterSeq
	}
	result, rpcErr, err := callOptionRPC("options_events", params, false)
	if err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return
	}
	printJSONResult(result)
}

// --- RPC HELPER FUNCTIONS ---

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires OPTIOND_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func callOptionRPCHTTP(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"id":     1,
		"method": method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// callOptionRPC is swapped out by tests to avoid real network calls.
var callOptionRPC = callOptionRPCHTTP

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run ./option-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty. run ./option-cli generate-key first", path)
	}
	privKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return privKey, nil
}

// --- SHARED SUBCOMMAND HELPERS ---

func printCmdError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if len(result) == 0 || result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

// normalizeAmount converts human amount notation into a decimal integer
// string. Underscore separators and 100e18-style shorthand are accepted;
// fractional results are rejected.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expPart := strings.TrimSpace(trimmed[idx+1:])
		if expPart == "" {
			return "", fmt.Errorf("invalid scientific notation in amount")
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in amount")
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("amount must be positive")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid amount format")
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" {
		return "", fmt.Errorf("invalid amount format")
	}
	if !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format")
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractionalPart)
	if fracLen > 0 {
		for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
			digits = digits[:len(digits)-1]
			fracLen--
		}
	}
	totalExponent := exponent - fracLen
	if totalExponent < 0 {
		return "", fmt.Errorf("amount must be an integer")
	}
	if digits == "" {
		return "", fmt.Errorf("amount must be positive")
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", totalExponent)
	}
	return digits, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func validateEscrowIDArg(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("--id is required")
	}
	cleaned := trimmed
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		cleaned = trimmed[2:]
	} else {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if len(cleaned) != 64 {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if !isHex(cleaned) {
		return fmt.Errorf("--id must contain only hexadecimal characters")
	}
	return nil
}

// parseTimeArg accepts +duration offsets (including a day suffix) or RFC3339
// timestamps and returns a unix timestamp.
func parseTimeArg(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("timestamp is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		durationStr := strings.TrimSpace(trimmed[1:])
		if durationStr == "" {
			return 0, fmt.Errorf("invalid duration offset")
		}
		dur, err := parseDayDuration(durationStr)
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("duration offset must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 timestamp")
	}
	return ts.Unix(), nil
}

func parseDayDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		if daysStr == "" {
			return 0, fmt.Errorf("invalid duration")
		}
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	return dur, nil
}

func printUsage() {
	fmt.Println("Usage: option-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Signing commands require a locally generated key. Run ./option-cli generate-key first;")
	fmt.Println("state-changing RPC calls additionally need OPTIOND_RPC_TOKEN in the environment.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key            - Generates a new key and saves to wallet.key")
	fmt.Println("  auction                 - Dutch auction creation and bidding subcommands")
	fmt.Println("  escrow                  - Escrow queries and settlement subcommands")
	fmt.Println("  quote                   - RFQ signing, verification and submission subcommands")
	fmt.Println("  oracle                  - Price queries, updates and attestation subcommands")
	fmt.Println("  export                  - Settlement ledger export subcommands")
	fmt.Println("  events [after-seq]      - Fetches buffered module events")
	fmt.Println()
	fmt.Println("Global flags:")
	fmt.Println("  --rpc <url>             - JSON-RPC endpoint (default http://localhost:8645 or RPC_URL)")
}
