package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

var auctionNow = time.Now

func runAuctionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runAuctionCreate(args[1:], stdout, stderr)
	case "ask":
		return runAuctionAsk(args[1:], stdout, stderr)
	case "preview-bid":
		return runAuctionBid("options_previewBid", args[1:], stdout, stderr)
	case "bid":
		return runAuctionBid("options_bid", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown auction subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}
}

func runAuctionCreate(args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction create", stderr)
	var (
		owner            string
		underlying       string
		settlement       string
		notionalStr      string
		oracleAddr       string
		borrowCapStr     string
		premiumInUnder   bool
		delegateRegistry string
		relStrikeStr     string
		tenor            string
		exerciseTenor    string
		decayStart       string
		decayDuration    string
		premiumStartStr  string
		premiumFloorStr  string
		minSpotStr       string
		maxSpotStr       string
	)
	fs.StringVar(&owner, "owner", "", "escrow owner address")
	fs.StringVar(&underlying, "underlying", "", "underlying token address")
	fs.StringVar(&settlement, "settlement", "", "settlement token address")
	fs.StringVar(&notionalStr, "notional", "", "collateral amount (supports 100e18 shorthand)")
	fs.StringVar(&oracleAddr, "oracle", "", "price oracle address")
	fs.StringVar(&borrowCapStr, "borrow-cap", "", "optional WAD borrow cap")
	fs.BoolVar(&premiumInUnder, "premium-in-underlying", false, "denominate the premium in the underlying token")
	fs.StringVar(&delegateRegistry, "delegate-registry", "", "optional voting delegate registry address")
	fs.StringVar(&relStrikeStr, "rel-strike", "", "WAD strike as a fraction of spot")
	fs.StringVar(&tenor, "tenor", "", "option lifetime after match (duration, e.g. 720h or 30d)")
	fs.StringVar(&exerciseTenor, "exercise-tenor", "0s", "exercise lockout after match (duration)")
	fs.StringVar(&decayStart, "decay-start", "", "premium decay start as +duration or RFC3339")
	fs.StringVar(&decayDuration, "decay-duration", "", "premium decay length (duration)")
	fs.StringVar(&premiumStartStr, "premium-start", "", "WAD relative premium at decay start")
	fs.StringVar(&premiumFloorStr, "premium-floor", "", "WAD relative premium floor")
	fs.StringVar(&minSpotStr, "min-spot", "", "minimum acceptable oracle spot at match")
	fs.StringVar(&maxSpotStr, "max-spot", "", "maximum acceptable oracle spot at match")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if owner == "" {
		return printCmdError(stderr, "--owner is required")
	}
	if underlying == "" {
		return printCmdError(stderr, "--underlying is required")
	}
	if settlement == "" {
		return printCmdError(stderr, "--settlement is required")
	}
	if notionalStr == "" {
		return printCmdError(stderr, "--notional is required")
	}
	notional, err := normalizeAmount(notionalStr)
	if err != nil {
		return printCmdError(stderr, "--notional: "+err.Error())
	}
	if oracleAddr == "" {
		return printCmdError(stderr, "--oracle is required")
	}
	if relStrikeStr == "" {
		return printCmdError(stderr, "--rel-strike is required")
	}
	relStrike, err := normalizeAmount(relStrikeStr)
	if err != nil {
		return printCmdError(stderr, "--rel-strike: "+err.Error())
	}
	if tenor == "" {
		return printCmdError(stderr, "--tenor is required")
	}
	tenorSecs, err := parseDayDuration(tenor)
	if err != nil || tenorSecs <= 0 {
		return printCmdError(stderr, "--tenor must be a positive duration")
	}
	exerciseSecs, err := parseDayDuration(exerciseTenor)
	if err != nil || exerciseSecs < 0 {
		return printCmdError(stderr, "--exercise-tenor must be a duration")
	}
	if decayStart == "" {
		return printCmdError(stderr, "--decay-start is required")
	}
	decayStartUnix, err := parseTimeArg(decayStart, auctionNow())
	if err != nil {
		return printCmdError(stderr, "--decay-start: "+err.Error())
	}
	if decayDuration == "" {
		return printCmdError(stderr, "--decay-duration is required")
	}
	decaySecs, err := parseDayDuration(decayDuration)
	if err != nil || decaySecs < 0 {
		return printCmdError(stderr, "--decay-duration must be a duration")
	}
	if premiumStartStr == "" {
		return printCmdError(stderr, "--premium-start is required")
	}
	premiumStart, err := normalizeAmount(premiumStartStr)
	if err != nil {
		return printCmdError(stderr, "--premium-start: "+err.Error())
	}
	if premiumFloorStr == "" {
		return printCmdError(stderr, "--premium-floor is required")
	}
	premiumFloor, err := normalizeAmount(premiumFloorStr)
	if err != nil {
		return printCmdError(stderr, "--premium-floor: "+err.Error())
	}
	if minSpotStr == "" {
		return printCmdError(stderr, "--min-spot is required")
	}
	minSpot, err := normalizeAmount(minSpotStr)
	if err != nil {
		return printCmdError(stderr, "--min-spot: "+err.Error())
	}
	if maxSpotStr == "" {
		return printCmdError(stderr, "--max-spot is required")
	}
	maxSpot, err := normalizeAmount(maxSpotStr)
	if err != nil {
		return printCmdError(stderr, "--max-spot: "+err.Error())
	}

	advanced := map[string]interface{}{"oracle": oracleAddr}
	if strings.TrimSpace(borrowCapStr) != "" {
		borrowCap, err := normalizeAmount(borrowCapStr)
		if err != nil {
			return printCmdError(stderr, "--borrow-cap: "+err.Error())
		}
		advanced["borrowCap"] = borrowCap
	}
	if premiumInUnder {
		advanced["premiumTokenIsUnderlying"] = true
	}
	if strings.TrimSpace(delegateRegistry) != "" {
		advanced["votingDelegationAllowed"] = true
		advanced["delegateRegistry"] = delegateRegistry
	}

	params := map[string]interface{}{
		"owner":      owner,
		"underlying": underlying,
		"settlement": settlement,
		"notional":   notional,
		"advanced":   advanced,
		"schedule": map[string]interface{}{
			"relStrike":             relStrike,
			"tenor":                 int64(tenorSecs / time.Second),
			"earliestExerciseTenor": int64(exerciseSecs / time.Second),
			"decayStartTime":        decayStartUnix,
			"decayDuration":         int64(decaySecs / time.Second),
			"relPremiumStart":       premiumStart,
			"relPremiumFloor":       premiumFloor,
			"minSpot":               minSpot,
			"maxSpot":               maxSpot,
		},
	}

	result, rpcErr, err := callOptionRPC("options_createAuction", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runAuctionAsk(args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction ask", stderr)
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
	result, rpcErr, err := callOptionRPC("options_auctionAsk", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runAuctionBid(method string, args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet(method, stderr)
	var (
		id         string
		bidder     string
		receiver   string
		partner    string
		relBidStr  string
		refSpotStr string
		oracleData string
	)
	fs.StringVar(&id, "id", "", "escrow identifier")
	fs.StringVar(&bidder, "bidder", "", "bidder address paying the premium")
	fs.StringVar(&receiver, "receiver", "", "optional position receiver address")
	fs.StringVar(&partner, "partner", "", "optional fee partner address")
	fs.StringVar(&relBidStr, "rel-bid", "", "WAD relative premium the bidder accepts")
	fs.StringVar(&refSpotStr, "ref-spot", "", "reference spot the bid was computed against")
	fs.StringVar(&oracleData, "oracle-data", "", "optional hex attestation payload")
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
	mutating := method == "options_bid"
	if mutating && bidder == "" {
		return printCmdError(stderr, "--bidder is required")
	}
	if relBidStr == "" {
		return printCmdError(stderr, "--rel-bid is required")
	}
	relBid, err := normalizeAmount(relBidStr)
	if err != nil {
		return printCmdError(stderr, "--rel-bid: "+err.Error())
	}
	if refSpotStr == "" {
		return printCmdError(stderr, "--ref-spot is required")
	}
	refSpot, err := normalizeAmount(refSpotStr)
	if err != nil {
		return printCmdError(stderr, "--ref-spot: "+err.Error())
	}

	params := map[string]interface{}{
		"id":      id,
		"relBid":  relBid,
		"refSpot": refSpot,
	}
	if mutating {
		params["bidder"] = bidder
		if strings.TrimSpace(receiver) != "" {
			params["receiver"] = receiver
		}
	}
	if strings.TrimSpace(partner) != "" {
		params["partner"] = partner
	}
	if strings.TrimSpace(oracleData) != "" {
		params["oracleData"] = oracleData
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

func newAuctionFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, auctionUsage())
	}
	return fs
}

func auctionUsage() string {
	return strings.TrimSpace(`Usage:
  option-cli auction <command> [flags]

Commands:
  create       Escrow collateral and open a Dutch premium auction
  ask          Show the current decayed premium ask for an auction
  preview-bid  Preview the outcome of a bid without executing it
  bid          Match an auction by accepting the current premium
`)
}
