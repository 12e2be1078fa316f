package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"optionchain/crypto"
	"optionchain/native/oracle"
)

var oracleNow = time.Now

func runOracleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, oracleUsage())
		return 1
	}

	switch args[0] {
	case "set-price":
		return runOracleSetPrice(args[1:], stdout, stderr)
	case "price":
		return runOraclePrice(args[1:], stdout, stderr)
	case "attest":
		return runOracleAttest(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown oracle subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, oracleUsage())
		return 1
	}
}

func runOracleSetPrice(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle set-price", stderr)
	var (
		base     string
		quote    string
		priceStr string
	)
	fs.StringVar(&base, "base", "", "base token address")
	fs.StringVar(&quote, "quote", "", "quote token address")
	fs.StringVar(&priceStr, "price", "", "spot price in quote units (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if base == "" {
		return printCmdError(stderr, "--base is required")
	}
	if quote == "" {
		return printCmdError(stderr, "--quote is required")
	}
	if priceStr == "" {
		return printCmdError(stderr, "--price is required")
	}
	price, err := normalizeAmount(priceStr)
	if err != nil {
		return printCmdError(stderr, "--price: "+err.Error())
	}
	params := map[string]interface{}{"base": base, "quote": quote, "price": price}
	result, rpcErr, err := callOptionRPC("oracle_setPrice", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runOraclePrice(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle price", stderr)
	var (
		base       string
		quote      string
		oracleData string
	)
	fs.StringVar(&base, "base", "", "base token address")
	fs.StringVar(&quote, "quote", "", "quote token address")
	fs.StringVar(&oracleData, "oracle-data", "", "optional hex attestation payload")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if base == "" {
		return printCmdError(stderr, "--base is required")
	}
	if quote == "" {
		return printCmdError(stderr, "--quote is required")
	}
	params := map[string]interface{}{"base": base, "quote": quote}
	if strings.TrimSpace(oracleData) != "" {
		params["oracleData"] = oracleData
	}
	result, rpcErr, err := callOptionRPC("oracle_price", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

// runOracleAttest signs a spot price statement and prints the hex payload
// accepted by the oracleData parameter of bid and exercise calls.
func runOracleAttest(args []string, stdout, stderr io.Writer) int {
	fs := newOracleFlagSet("oracle attest", stderr)
	var (
		keyFile   string
		base      string
		quote     string
		priceStr  string
		timestamp string
	)
	fs.StringVar(&keyFile, "key", "wallet.key", "path to the attester's key file")
	fs.StringVar(&base, "base", "", "base token address")
	fs.StringVar(&quote, "quote", "", "quote token address")
	fs.StringVar(&priceStr, "price", "", "spot price in quote units (supports 100e18 shorthand)")
	fs.StringVar(&timestamp, "timestamp", "", "optional attestation time as +duration or RFC3339 (defaults to now)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	baseAddr, err := crypto.DecodeAddress(base)
	if err != nil {
		return printCmdError(stderr, "--base: "+err.Error())
	}
	quoteAddr, err := crypto.DecodeAddress(quote)
	if err != nil {
		return printCmdError(stderr, "--quote: "+err.Error())
	}
	if priceStr == "" {
		return printCmdError(stderr, "--price is required")
	}
	normalized, err := normalizeAmount(priceStr)
	if err != nil {
		return printCmdError(stderr, "--price: "+err.Error())
	}
	price, _ := new(big.Int).SetString(normalized, 10)
	now := oracleNow()
	at := now.Unix()
	if strings.TrimSpace(timestamp) != "" {
		at, err = parseTimeArg(timestamp, now)
		if err != nil {
			return printCmdError(stderr, "--timestamp: "+err.Error())
		}
	}
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return printCmdError(stderr, err.Error())
	}

	att := &oracle.Attestation{
		Base:      baseAddr,
		Quote:     quoteAddr,
		Price:     price,
		Timestamp: at,
	}
	if err := att.Sign(key); err != nil {
		return printCmdError(stderr, "signing failed: "+err.Error())
	}
	payload, err := att.Encode()
	if err != nil {
		return printCmdError(stderr, "encoding failed: "+err.Error())
	}
	fmt.Fprintf(stdout, "0x%s\n", hex.EncodeToString(payload))
	return 0
}

func newOracleFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, oracleUsage())
	}
	return fs
}

func oracleUsage() string {
	return strings.TrimSpace(`Usage:
  option-cli oracle <command> [flags]

Commands:
  set-price  Push a manual spot price to the node
  price      Query the current spot price for a pair
  attest     Sign a spot price statement for use as oracleData
`)
}
