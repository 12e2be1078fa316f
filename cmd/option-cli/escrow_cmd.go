package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "balance":
		return runEscrowBalance(args[1:], stdout, stderr)
	case "exercise":
		return runEscrowExercise(args[1:], stdout, stderr)
	case "borrow":
		return runEscrowLoan("options_borrow", args[1:], stdout, stderr)
	case "repay":
		return runEscrowLoan("options_repay", args[1:], stdout, stderr)
	case "withdraw":
		return runEscrowWithdraw(args[1:], stdout, stderr)
	case "sweep":
		return runEscrowSweep(args[1:], stdout, stderr)
	case "transfer-ownership":
		return runEscrowTransferOwnership(args[1:], stdout, stderr)
	case "transfer-position":
		return runEscrowTransferPosition(args[1:], stdout, stderr)
	case "delegate":
		return runEscrowDelegate(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	params := map[string]interface{}{"id": id}
	result, rpcErr, err := callOptionRPC("options_escrow", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow list", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := callOptionRPC("options_list", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowBalance(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow balance", stderr)
	var (
		id     string
		holder string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&holder, "holder", "", "position holder address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if holder == "" {
		return printCmdError(stderr, "--holder is required")
	}
	params := map[string]interface{}{"id": id, "holder": holder}
	result, rpcErr, err := callOptionRPC("options_positionBalance", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowExercise(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow exercise", stderr)
	var (
		id         string
		caller     string
		receiver   string
		amountStr  string
		settle     bool
		oracleData string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&caller, "caller", "", "position holder exercising")
	fs.StringVar(&receiver, "receiver", "", "optional receiver of the exercised underlying")
	fs.StringVar(&amountStr, "amount", "", "position tokens to exercise (supports 100e18 shorthand)")
	fs.BoolVar(&settle, "settle", false, "pay the strike in settlement tokens instead of cashless")
	fs.StringVar(&oracleData, "oracle-data", "", "optional hex attestation payload for cashless exercise")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	if amountStr == "" {
		return printCmdError(stderr, "--amount is required")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printCmdError(stderr, "--amount: "+err.Error())
	}
	params := map[string]interface{}{
		"id":              id,
		"caller":          caller,
		"amount":          amount,
		"payInSettlement": settle,
	}
	if strings.TrimSpace(receiver) != "" {
		params["receiver"] = receiver
	}
	if strings.TrimSpace(oracleData) != "" {
		params["oracleData"] = oracleData
	}
	result, rpcErr, err := callOptionRPC("options_exercise", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowLoan(method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(method, stderr)
	var (
		id        string
		borrower  string
		receiver  string
		amountStr string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&borrower, "borrower", "", "borrower address")
	fs.StringVar(&receiver, "receiver", "", "optional receiver address")
	fs.StringVar(&amountStr, "amount", "", "underlying amount (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if borrower == "" {
		return printCmdError(stderr, "--borrower is required")
	}
	if amountStr == "" {
		return printCmdError(stderr, "--amount is required")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printCmdError(stderr, "--amount: "+err.Error())
	}
	params := map[string]interface{}{
		"id":       id,
		"borrower": borrower,
		"amount":   amount,
	}
	if strings.TrimSpace(receiver) != "" {
		params["receiver"] = receiver
	}
	result, rpcErr, err := callOptionRPC(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow withdraw", stderr)
	var (
		id        string
		caller    string
		to        string
		token     string
		amountStr string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&caller, "caller", "", "escrow owner or router address")
	fs.StringVar(&to, "to", "", "optional destination address")
	fs.StringVar(&token, "token", "", "token address to withdraw")
	fs.StringVar(&amountStr, "amount", "", "amount to withdraw (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	if token == "" {
		return printCmdError(stderr, "--token is required")
	}
	if amountStr == "" {
		return printCmdError(stderr, "--amount is required")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printCmdError(stderr, "--amount: "+err.Error())
	}
	params := map[string]interface{}{
		"id":     id,
		"caller": caller,
		"token":  token,
		"amount": amount,
	}
	if strings.TrimSpace(to) != "" {
		params["to"] = to
	}
	result, rpcErr, err := callOptionRPC("options_withdraw", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowSweep(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow sweep", stderr)
	var (
		id     string
		caller string
		to     string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&caller, "caller", "", "escrow owner or router address")
	fs.StringVar(&to, "to", "", "optional destination address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	params := map[string]interface{}{"id": id, "caller": caller}
	if strings.TrimSpace(to) != "" {
		params["to"] = to
	}
	result, rpcErr, err := callOptionRPC("options_sweepExpired", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowTransferOwnership(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow transfer-ownership", stderr)
	var (
		id       string
		caller   string
		newOwner string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&caller, "caller", "", "current owner address")
	fs.StringVar(&newOwner, "new-owner", "", "new owner address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	if newOwner == "" {
		return printCmdError(stderr, "--new-owner is required")
	}
	params := map[string]interface{}{"id": id, "caller": caller, "newOwner": newOwner}
	result, rpcErr, err := callOptionRPC("options_transferOwnership", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowTransferPosition(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow transfer-position", stderr)
	var (
		id        string
		from      string
		to        string
		amountStr string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&from, "from", "", "current holder address")
	fs.StringVar(&to, "to", "", "destination holder address")
	fs.StringVar(&amountStr, "amount", "", "position tokens to move (supports 100e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if from == "" {
		return printCmdError(stderr, "--from is required")
	}
	if to == "" {
		return printCmdError(stderr, "--to is required")
	}
	if amountStr == "" {
		return printCmdError(stderr, "--amount is required")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printCmdError(stderr, "--amount: "+err.Error())
	}
	params := map[string]interface{}{"id": id, "from": from, "to": to, "amount": amount}
	result, rpcErr, err := callOptionRPC("options_transferPosition", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowDelegate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow delegate", stderr)
	var (
		id       string
		caller   string
		delegate string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&caller, "caller", "", "escrow owner address")
	fs.StringVar(&delegate, "delegate", "", "delegatee address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if err := validateEscrowIDArg(id); err != nil {
		return printCmdError(stderr, err.Error())
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	if delegate == "" {
		return printCmdError(stderr, "--delegate is required")
	}
	params := map[string]interface{}{"id": id, "caller": caller, "delegate": delegate}
	result, rpcErr, err := callOptionRPC("options_delegateVoting", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  option-cli escrow <command> [flags]

Commands:
  get                 Fetch escrow details by id
  list                List all known escrows
  balance             Show a holder's position token balance
  exercise            Exercise position tokens for escrowed underlying
  borrow              Borrow underlying against held positions
  repay               Repay borrowed underlying
  withdraw            Withdraw residual vault balances
  sweep               Sweep all residual balances back to the owner
  transfer-ownership  Transfer writer-side ownership of an escrow
  transfer-position   Move position tokens between holders
  delegate            Delegate votes held by the escrowed collateral
`)
}
