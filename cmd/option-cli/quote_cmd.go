package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"optionchain/crypto"
	"optionchain/native/options"
)

var quoteNow = time.Now

// signedQuoteDocument is the file format produced by "quote sign" and consumed
// by "quote take". The terms and quote sections mirror the RPC parameter
// layout so they can be submitted without transformation.
type signedQuoteDocument struct {
	ChainID uint64          `json:"chainId"`
	Terms   json.RawMessage `json:"terms"`
	Quote   json.RawMessage `json:"quote"`
}

func runQuoteCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, quoteUsage())
		return 1
	}

	switch args[0] {
	case "sign":
		return runQuoteSign(args[1:], stdout, stderr)
	case "verify":
		return runQuoteVerify(args[1:], stdout, stderr)
	case "take":
		return runQuoteTake("options_takeQuote", args[1:], stdout, stderr)
	case "preview":
		return runQuoteTake("options_previewTakeQuote", args[1:], stdout, stderr)
	case "pause":
		return runQuotePause(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown quote subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, quoteUsage())
		return 1
	}
}

type quoteTermsFlags struct {
	underlying       string
	settlement       string
	notional         string
	strike           string
	expiry           string
	earliestExercise string
	oracle           string
	borrowCap        string
	premiumInUnder   bool
	delegateRegistry string
}

func registerTermsFlags(fs *flag.FlagSet, f *quoteTermsFlags) {
	fs.StringVar(&f.underlying, "underlying", "", "underlying token address")
	fs.StringVar(&f.settlement, "settlement", "", "settlement token address")
	fs.StringVar(&f.notional, "notional", "", "collateral amount (supports 100e18 shorthand)")
	fs.StringVar(&f.strike, "strike", "", "strike in settlement units per WAD of notional")
	fs.StringVar(&f.expiry, "expiry", "", "option expiry as +duration or RFC3339")
	fs.StringVar(&f.earliestExercise, "earliest-exercise", "", "optional exercise lockout as +duration or RFC3339")
	fs.StringVar(&f.oracle, "oracle", "", "price oracle address")
	fs.StringVar(&f.borrowCap, "borrow-cap", "", "optional WAD borrow cap")
	fs.BoolVar(&f.premiumInUnder, "premium-in-underlying", false, "denominate the premium in the underlying token")
	fs.StringVar(&f.delegateRegistry, "delegate-registry", "", "optional voting delegate registry address")
}

// buildTerms validates the flag inputs and produces both the canonical terms
// used for hashing and the JSON parameter form used on the wire.
func buildTerms(f *quoteTermsFlags, now time.Time) (options.OptionTerms, map[string]interface{}, error) {
	var zero options.OptionTerms
	underlying, err := crypto.DecodeAddress(f.underlying)
	if err != nil {
		return zero, nil, fmt.Errorf("--underlying: %w", err)
	}
	settlement, err := crypto.DecodeAddress(f.settlement)
	if err != nil {
		return zero, nil, fmt.Errorf("--settlement: %w", err)
	}
	notionalStr, err := normalizeAmount(f.notional)
	if err != nil {
		return zero, nil, fmt.Errorf("--notional: %w", err)
	}
	notional, _ := new(big.Int).SetString(notionalStr, 10)
	strikeStr, err := normalizeAmount(f.strike)
	if err != nil {
		return zero, nil, fmt.Errorf("--strike: %w", err)
	}
	strike, _ := new(big.Int).SetString(strikeStr, 10)
	if f.expiry == "" {
		return zero, nil, fmt.Errorf("--expiry is required")
	}
	expiry, err := parseTimeArg(f.expiry, now)
	if err != nil {
		return zero, nil, fmt.Errorf("--expiry: %w", err)
	}
	var earliest int64
	if strings.TrimSpace(f.earliestExercise) != "" {
		earliest, err = parseTimeArg(f.earliestExercise, now)
		if err != nil {
			return zero, nil, fmt.Errorf("--earliest-exercise: %w", err)
		}
	}
	oracleAddr, err := crypto.DecodeAddress(f.oracle)
	if err != nil {
		return zero, nil, fmt.Errorf("--oracle: %w", err)
	}

	advanced := options.AdvancedSettings{
		Oracle:                   oracleAddr,
		PremiumTokenIsUnderlying: f.premiumInUnder,
	}
	advancedJSON := map[string]interface{}{"oracle": oracleAddr.Hex()}
	if f.premiumInUnder {
		advancedJSON["premiumTokenIsUnderlying"] = true
	}
	if strings.TrimSpace(f.borrowCap) != "" {
		capStr, err := normalizeAmount(f.borrowCap)
		if err != nil {
			return zero, nil, fmt.Errorf("--borrow-cap: %w", err)
		}
		advanced.BorrowCap, _ = new(big.Int).SetString(capStr, 10)
		advancedJSON["borrowCap"] = capStr
	}
	if strings.TrimSpace(f.delegateRegistry) != "" {
		registryAddr, err := crypto.DecodeAddress(f.delegateRegistry)
		if err != nil {
			return zero, nil, fmt.Errorf("--delegate-registry: %w", err)
		}
		advanced.VotingDelegationAllowed = true
		advanced.DelegateRegistry = registryAddr
		advancedJSON["votingDelegationAllowed"] = true
		advancedJSON["delegateRegistry"] = registryAddr.Hex()
	}

	terms := options.OptionTerms{
		Underlying:       underlying,
		Settlement:       settlement,
		Notional:         notional,
		Strike:           strike,
		Expiry:           expiry,
		EarliestExercise: earliest,
		Advanced:         advanced,
	}
	termsJSON := map[string]interface{}{
		"underlying":       underlying.Hex(),
		"settlement":       settlement.Hex(),
		"notional":         notionalStr,
		"strike":           strikeStr,
		"expiry":           expiry,
		"earliestExercise": earliest,
		"advanced":         advancedJSON,
	}
	return terms, termsJSON, nil
}

func runQuoteSign(args []string, stdout, stderr io.Writer) int {
	fs := newQuoteFlagSet("quote sign", stderr)
	var (
		keyFile    string
		chainID    uint64
		premium    string
		validUntil string
		outFile    string
		termsFlags quoteTermsFlags
	)
	fs.StringVar(&keyFile, "key", "wallet.key", "path to the quoter's key file")
	fs.Uint64Var(&chainID, "chain-id", 1337, "chain id the quote is bound to")
	fs.StringVar(&premium, "premium", "", "premium the quoter pays (supports 100e18 shorthand)")
	fs.StringVar(&validUntil, "valid-until", "", "quote deadline as +duration or RFC3339")
	fs.StringVar(&outFile, "out", "", "optional output file (defaults to stdout)")
	registerTermsFlags(fs, &termsFlags)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if premium == "" {
		return printCmdError(stderr, "--premium is required")
	}
	premiumStr, err := normalizeAmount(premium)
	if err != nil {
		return printCmdError(stderr, "--premium: "+err.Error())
	}
	premiumValue, _ := new(big.Int).SetString(premiumStr, 10)
	if validUntil == "" {
		return printCmdError(stderr, "--valid-until is required")
	}
	now := quoteNow()
	deadline, err := parseTimeArg(validUntil, now)
	if err != nil {
		return printCmdError(stderr, "--valid-until: "+err.Error())
	}

	terms, termsJSON, err := buildTerms(&termsFlags, now)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	digest := options.QuoteHash(chainID, terms, premiumValue, deadline)
	signature, err := key.Sign(digest[:])
	if err != nil {
		return printCmdError(stderr, "signing failed: "+err.Error())
	}

	quoteJSON := map[string]interface{}{
		"premium":    premiumStr,
		"validUntil": deadline,
		"quoter":     key.Address().Hex(),
		"signature":  "0x" + hex.EncodeToString(signature),
	}
	termsRaw, err := json.Marshal(termsJSON)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}
	quoteRaw, err := json.Marshal(quoteJSON)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}
	doc, err := json.MarshalIndent(signedQuoteDocument{
		ChainID: chainID,
		Terms:   termsRaw,
		Quote:   quoteRaw,
	}, "", "  ")
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, append(doc, '\n'), 0600); err != nil {
			return printCmdError(stderr, "failed to write "+outFile+": "+err.Error())
		}
		fmt.Fprintf(stdout, "Signed quote written to %s (quoter %s)\n", outFile, key.Address().Hex())
		return 0
	}
	fmt.Fprintln(stdout, string(doc))
	return 0
}

func runQuoteVerify(args []string, stdout, stderr io.Writer) int {
	fs := newQuoteFlagSet("quote verify", stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to a signed quote document")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if file == "" {
		return printCmdError(stderr, "--file is required")
	}
	doc, err := readQuoteDocument(file)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	terms, premium, deadline, signature, err := decodeQuoteDocument(doc)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}
	digest := options.QuoteHash(doc.ChainID, terms, premium, deadline)
	signer, err := options.RecoverQuoter(digest, signature)
	if err != nil {
		return printCmdError(stderr, "signature invalid: "+err.Error())
	}
	var quoterField struct {
		Quoter string `json:"quoter"`
	}
	if err := json.Unmarshal(doc.Quote, &quoterField); err == nil && strings.TrimSpace(quoterField.Quoter) != "" {
		declared, err := crypto.DecodeAddress(quoterField.Quoter)
		if err != nil {
			return printCmdError(stderr, "quote quoter: "+err.Error())
		}
		if declared != signer {
			return printCmdError(stderr, fmt.Sprintf("signature recovers %s but the document names %s; the terms or quote were altered after signing", signer.Hex(), declared.Hex()))
		}
	}
	fmt.Fprintf(stdout, "Signature valid. Quoter: %s\n", signer.Hex())
	if deadline <= quoteNow().Unix() {
		fmt.Fprintln(stdout, "Warning: the quote deadline has already passed.")
	}
	return 0
}

func runQuoteTake(method string, args []string, stdout, stderr io.Writer) int {
	fs := newQuoteFlagSet(method, stderr)
	var (
		file     string
		owner    string
		receiver string
		partner  string
	)
	fs.StringVar(&file, "file", "", "path to a signed quote document")
	fs.StringVar(&owner, "owner", "", "writer address escrowing the collateral")
	fs.StringVar(&receiver, "receiver", "", "optional position receiver address")
	fs.StringVar(&partner, "partner", "", "optional fee partner address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if file == "" {
		return printCmdError(stderr, "--file is required")
	}
	if owner == "" {
		return printCmdError(stderr, "--owner is required")
	}
	doc, err := readQuoteDocument(file)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	params := map[string]interface{}{
		"owner": owner,
		"terms": doc.Terms,
		"quote": doc.Quote,
	}
	mutating := method == "options_takeQuote"
	if mutating && strings.TrimSpace(receiver) != "" {
		params["receiver"] = receiver
	}
	if strings.TrimSpace(partner) != "" {
		params["partner"] = partner
	}
	result, rpcErr, err := callOptionRPC(method, params, mutating)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runQuotePause(args []string, stdout, stderr io.Writer) int {
	fs := newQuoteFlagSet("quote pause", stderr)
	var (
		caller string
		resume bool
	)
	fs.StringVar(&caller, "caller", "", "quoter address toggling its own pause")
	fs.BoolVar(&resume, "resume", false, "clear the pause instead of setting it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	params := map[string]interface{}{"caller": caller, "paused": !resume}
	result, rpcErr, err := callOptionRPC("options_setQuotePause", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func readQuoteDocument(path string) (*signedQuoteDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote document %s: %w", path, err)
	}
	var doc signedQuoteDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid quote document: %w", err)
	}
	if len(doc.Terms) == 0 || len(doc.Quote) == 0 {
		return nil, fmt.Errorf("quote document must contain terms and quote sections")
	}
	return &doc, nil
}

// decodeQuoteDocument reconstructs the canonical terms from the wire form so
// the digest can be recomputed locally.
func decodeQuoteDocument(doc *signedQuoteDocument) (options.OptionTerms, *big.Int, int64, []byte, error) {
	var zero options.OptionTerms
	var termsWire struct {
		Underlying       string `json:"underlying"`
		Settlement       string `json:"settlement"`
		Notional         string `json:"notional"`
		Strike           string `json:"strike"`
		Expiry           int64  `json:"expiry"`
		EarliestExercise int64  `json:"earliestExercise"`
		Advanced         struct {
			BorrowCap                string `json:"borrowCap"`
			Oracle                   string `json:"oracle"`
			PremiumTokenIsUnderlying bool   `json:"premiumTokenIsUnderlying"`
			VotingDelegationAllowed  bool   `json:"votingDelegationAllowed"`
			DelegateRegistry         string `json:"delegateRegistry"`
		} `json:"advanced"`
	}
	if err := json.Unmarshal(doc.Terms, &termsWire); err != nil {
		return zero, nil, 0, nil, fmt.Errorf("invalid terms section: %w", err)
	}
	var quoteWire struct {
		Premium    string `json:"premium"`
		ValidUntil int64  `json:"validUntil"`
		Signature  string `json:"signature"`
	}
	if err := json.Unmarshal(doc.Quote, &quoteWire); err != nil {
		return zero, nil, 0, nil, fmt.Errorf("invalid quote section: %w", err)
	}

	underlying, err := crypto.DecodeAddress(termsWire.Underlying)
	if err != nil {
		return zero, nil, 0, nil, fmt.Errorf("terms underlying: %w", err)
	}
	settlement, err := crypto.DecodeAddress(termsWire.Settlement)
	if err != nil {
		return zero, nil, 0, nil, fmt.Errorf("terms settlement: %w", err)
	}
	notional, ok := new(big.Int).SetString(strings.TrimSpace(termsWire.Notional), 10)
	if !ok {
		return zero, nil, 0, nil, fmt.Errorf("terms notional is not an integer")
	}
	strike, ok := new(big.Int).SetString(strings.TrimSpace(termsWire.Strike), 10)
	if !ok {
		return zero, nil, 0, nil, fmt.Errorf("terms strike is not an integer")
	}
	oracleAddr, err := crypto.DecodeAddress(termsWire.Advanced.Oracle)
	if err != nil {
		return zero, nil, 0, nil, fmt.Errorf("terms oracle: %w", err)
	}
	advanced := options.AdvancedSettings{
		Oracle:                   oracleAddr,
		PremiumTokenIsUnderlying: termsWire.Advanced.PremiumTokenIsUnderlying,
		VotingDelegationAllowed:  termsWire.Advanced.VotingDelegationAllowed,
	}
	if strings.TrimSpace(termsWire.Advanced.BorrowCap) != "" {
		advanced.BorrowCap, ok = new(big.Int).SetString(strings.TrimSpace(termsWire.Advanced.BorrowCap), 10)
		if !ok {
			return zero, nil, 0, nil, fmt.Errorf("terms borrowCap is not an integer")
		}
	}
	if strings.TrimSpace(termsWire.Advanced.DelegateRegistry) != "" {
		advanced.DelegateRegistry, err = crypto.DecodeAddress(termsWire.Advanced.DelegateRegistry)
		if err != nil {
			return zero, nil, 0, nil, fmt.Errorf("terms delegateRegistry: %w", err)
		}
	}

	premium, ok := new(big.Int).SetString(strings.TrimSpace(quoteWire.Premium), 10)
	if !ok {
		return zero, nil, 0, nil, fmt.Errorf("quote premium is not an integer")
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(quoteWire.Signature), "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return zero, nil, 0, nil, fmt.Errorf("quote signature is not valid hex")
	}

	terms := options.OptionTerms{
		Underlying:       underlying,
		Settlement:       settlement,
		Notional:         notional,
		Strike:           strike,
		Expiry:           termsWire.Expiry,
		EarliestExercise: termsWire.EarliestExercise,
		Advanced:         advanced,
	}
	return terms, premium, quoteWire.ValidUntil, signature, nil
}

func newQuoteFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, quoteUsage())
	}
	return fs
}

func quoteUsage() string {
	return strings.TrimSpace(`Usage:
  option-cli quote <command> [flags]

Commands:
  sign     Sign an RFQ quote over fully specified option terms
  verify   Recover and print the signer of a quote document
  preview  Preview taking a signed quote without executing it
  take     Escrow collateral against a signed quote and mint the option
  pause    Toggle the caller's quoting pause
`)
}
