package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"optionchain/native/options"
)

func createAuctionViaRPC(t *testing.T, env *testEnv) string {
	t.Helper()
	result, rpcErr := env.call(t, "options_createAuction", true, map[string]interface{}{
		"owner":      hexOwner,
		"underlying": hexWETH,
		"settlement": hexUSDC,
		"notional":   "100000000000000000000",
		"advanced": map[string]interface{}{
			"oracle":    hexOracle,
			"borrowCap": "0",
		},
		"schedule": map[string]interface{}{
			"relStrike":             "1000000000000000000",
			"tenor":                 30 * 86400,
			"earliestExerciseTenor": 86400,
			"decayStartTime":        env.now,
			"decayDuration":         7 * 86400,
			"relPremiumStart":       "10000000000000000",
			"relPremiumFloor":       "5000000000000000",
			"minSpot":               "1000000000",
			"maxSpot":               "3000000000",
		},
	})
	if rpcErr != nil {
		t.Fatalf("create auction: %+v", rpcErr)
	}
	var esc escrowJSON
	unmarshalResult(t, result, &esc)
	return esc.ID
}

func TestCreateAuctionViaRPC(t *testing.T) {
	env := newTestEnv(t)
	result, rpcErr := env.call(t, "options_createAuction", true, map[string]interface{}{
		"owner":      hexOwner,
		"underlying": hexWETH,
		"settlement": hexUSDC,
		"notional":   "100000000000000000000",
		"advanced":   map[string]interface{}{"oracle": hexOracle},
		"schedule": map[string]interface{}{
			"relStrike":             "1000000000000000000",
			"tenor":                 30 * 86400,
			"earliestExerciseTenor": 86400,
			"decayStartTime":        env.now,
			"decayDuration":         7 * 86400,
			"relPremiumStart":       "10000000000000000",
			"relPremiumFloor":       "5000000000000000",
			"minSpot":               "1000000000",
			"maxSpot":               "3000000000",
		},
	})
	if rpcErr != nil {
		t.Fatalf("create auction: %+v", rpcErr)
	}
	var esc escrowJSON
	unmarshalResult(t, result, &esc)
	if esc.Index != 1 || esc.State != "unmatched" {
		t.Fatalf("escrow = %+v", esc)
	}
	if esc.Name != "OptionChain Position 1" || esc.Symbol != "OCP-1" {
		t.Fatalf("naming = %s / %s", esc.Name, esc.Symbol)
	}
	if !strings.HasPrefix(esc.ID, "0x") || len(esc.ID) != 66 {
		t.Fatalf("id = %s", esc.ID)
	}
	if esc.Schedule == nil || esc.Schedule.RelPremiumStart != "10000000000000000" {
		t.Fatalf("schedule = %+v", esc.Schedule)
	}

	askResult, rpcErr := env.call(t, "options_auctionAsk", false, map[string]string{"id": esc.ID})
	if rpcErr != nil {
		t.Fatalf("ask: %+v", rpcErr)
	}
	var ask map[string]string
	unmarshalResult(t, askResult, &ask)
	if ask["ask"] != "10000000000000000" {
		t.Fatalf("ask = %s", ask["ask"])
	}
}

func TestCreateAuctionInvalidAddress(t *testing.T) {
	env := newTestEnv(t)
	_, rpcErr := env.call(t, "options_createAuction", true, map[string]interface{}{
		"owner":      "not-an-address",
		"underlying": hexWETH,
		"settlement": hexUSDC,
		"notional":   "1",
		"advanced":   map[string]interface{}{"oracle": hexOracle},
		"schedule":   map[string]interface{}{},
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsInvalidParams {
		t.Fatalf("expected invalid params, got %+v", rpcErr)
	}
	if rpcErr.Message != "invalid_params" {
		t.Fatalf("message = %s", rpcErr.Message)
	}
}

func TestAuctionBidViaRPC(t *testing.T) {
	env := newTestEnv(t)
	id := createAuctionViaRPC(t, env)

	result, rpcErr := env.call(t, "options_bid", true, map[string]interface{}{
		"id":       id,
		"bidder":   hexBidder,
		"receiver": hexHolder,
		"partner":  hexPartner,
		"relBid":   "10000000000000000",
		"refSpot":  "2000000000",
	})
	if rpcErr != nil {
		t.Fatalf("bid: %+v", rpcErr)
	}
	var pv bidPreviewJSON
	unmarshalResult(t, result, &pv)
	if pv.Status != "success" {
		t.Fatalf("status = %s", pv.Status)
	}
	if pv.Premium != "2000000000" || pv.Strike != "2000000000" {
		t.Fatalf("preview = %+v", pv)
	}
	if pv.ProtocolFee != "150000000" || pv.PartnerFee != "50000000" {
		t.Fatalf("fees = %s / %s", pv.ProtocolFee, pv.PartnerFee)
	}

	escResult, rpcErr := env.call(t, "options_escrow", false, map[string]string{"id": id})
	if rpcErr != nil {
		t.Fatalf("escrow: %+v", rpcErr)
	}
	var esc escrowJSON
	unmarshalResult(t, escResult, &esc)
	if esc.State != "matched" || esc.PremiumPaid != "2000000000" {
		t.Fatalf("escrow = %+v", esc)
	}
	if esc.MatchedAt != env.now {
		t.Fatalf("matchedAt = %d", esc.MatchedAt)
	}

	balResult, rpcErr := env.call(t, "options_positionBalance", false, map[string]string{"id": id, "holder": hexHolder})
	if rpcErr != nil {
		t.Fatalf("balance: %+v", rpcErr)
	}
	var bal map[string]string
	unmarshalResult(t, balResult, &bal)
	if bal["balance"] != "100000000000000000000" {
		t.Fatalf("balance = %s", bal["balance"])
	}

	// The option is minted; a second bid conflicts.
	_, rpcErr = env.call(t, "options_bid", true, map[string]interface{}{
		"id":      id,
		"bidder":  hexBidder,
		"relBid":  "10000000000000000",
		"refSpot": "2000000000",
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsConflict {
		t.Fatalf("expected conflict, got %+v", rpcErr)
	}
}

func TestBidParamValidation(t *testing.T) {
	env := newTestEnv(t)
	id := createAuctionViaRPC(t, env)

	_, rpcErr := env.call(t, "options_bid", true, map[string]interface{}{
		"id":      id,
		"bidder":  hexBidder,
		"relBid":  "0",
		"refSpot": "2000000000",
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsInvalidParams {
		t.Fatalf("zero bid: %+v", rpcErr)
	}

	_, rpcErr = env.call(t, "options_bid", true, map[string]interface{}{
		"id":      "0x1234",
		"bidder":  hexBidder,
		"relBid":  "1",
		"refSpot": "2000000000",
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsInvalidParams {
		t.Fatalf("short id: %+v", rpcErr)
	}

	unknown := "0x" + strings.Repeat("ee", 32)
	_, rpcErr = env.call(t, "options_bid", true, map[string]interface{}{
		"id":      unknown,
		"bidder":  hexBidder,
		"relBid":  "1",
		"refSpot": "2000000000",
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsNotFound {
		t.Fatalf("unknown id: %+v", rpcErr)
	}
}

func TestDirectMintAndExerciseViaRPC(t *testing.T) {
	env := newTestEnv(t)
	expiry := env.now + 30*86400
	earliest := env.now + 86400
	terms := map[string]interface{}{
		"underlying":       hexWETH,
		"settlement":       hexUSDC,
		"notional":         "10000000000000000000",
		"strike":           "2000000000",
		"expiry":           expiry,
		"earliestExercise": earliest,
		"advanced":         map[string]interface{}{"oracle": hexOracle},
	}
	result, rpcErr := env.call(t, "options_directMint", true, map[string]interface{}{
		"owner":    hexOwner,
		"receiver": hexHolder,
		"terms":    terms,
	})
	if rpcErr != nil {
		t.Fatalf("direct mint: %+v", rpcErr)
	}
	var esc escrowJSON
	unmarshalResult(t, result, &esc)
	if esc.State != "matched" || esc.PremiumPaid != "0" {
		t.Fatalf("escrow = %+v", esc)
	}

	// Before the window opens the exercise conflicts.
	_, rpcErr = env.call(t, "options_exercise", true, map[string]interface{}{
		"id":              esc.ID,
		"caller":          hexHolder,
		"amount":          "1000000000000000000",
		"payInSettlement": true,
	})
	if rpcErr == nil || rpcErr.Code != codeOptionsConflict {
		t.Fatalf("early exercise: %+v", rpcErr)
	}

	env.now = earliest
	exResult, rpcErr := env.call(t, "options_exercise", true, map[string]interface{}{
		"id":              esc.ID,
		"caller":          hexHolder,
		"amount":          "1000000000000000000",
		"payInSettlement": true,
	})
	if rpcErr != nil {
		t.Fatalf("exercise: %+v", rpcErr)
	}
	var ex exerciseResultJSON
	unmarshalResult(t, exResult, &ex)
	if ex.Cost != "2000000000" || ex.Fee != "10000000" || ex.Delivered != "1000000000000000000" {
		t.Fatalf("exercise result = %+v", ex)
	}
	if !strings.EqualFold(ex.PayToken, hexUSDC) {
		t.Fatalf("pay token = %s", ex.PayToken)
	}
}

func TestTakeQuoteViaRPC(t *testing.T) {
	env := newTestEnv(t)
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	quoter := ethcrypto.PubkeyToAddress(key.PublicKey)
	if err := env.state.Bank.Mint(common.HexToAddress(hexUSDC), quoter, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("fund quoter: %v", err)
	}

	expiry := env.now + 30*86400
	earliest := env.now + 86400
	terms := options.OptionTerms{
		Underlying:       common.HexToAddress(hexWETH),
		Settlement:       common.HexToAddress(hexUSDC),
		Notional:         new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000)),
		Strike:           big.NewInt(2_000_000_000),
		Expiry:           expiry,
		EarliestExercise: earliest,
		Advanced: options.AdvancedSettings{
			BorrowCap: big.NewInt(0),
			Oracle:    common.HexToAddress(hexOracle),
		},
	}
	premium := big.NewInt(1_600_000_000)
	validUntil := env.now + 3600
	digest := options.QuoteHash(1337, terms, premium, validUntil)
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	params := map[string]interface{}{
		"owner":   hexOwner,
		"partner": hexPartner,
		"terms": map[string]interface{}{
			"underlying":       hexWETH,
			"settlement":       hexUSDC,
			"notional":         "100000000000000000000",
			"strike":           "2000000000",
			"expiry":           expiry,
			"earliestExercise": earliest,
			"advanced":         map[string]interface{}{"oracle": hexOracle, "borrowCap": "0"},
		},
		"quote": map[string]interface{}{
			"premium":    "1600000000",
			"validUntil": validUntil,
			"signature":  "0x" + hex.EncodeToString(sig),
		},
	}
	result, rpcErr := env.call(t, "options_takeQuote", true, params)
	if rpcErr != nil {
		t.Fatalf("take quote: %+v", rpcErr)
	}
	var out struct {
		Escrow  escrowJSON       `json:"escrow"`
		Preview quotePreviewJSON `json:"preview"`
	}
	unmarshalResult(t, result, &out)
	if out.Escrow.State != "matched" {
		t.Fatalf("state = %s", out.Escrow.State)
	}
	if out.Preview.Status != "success" {
		t.Fatalf("preview = %+v", out.Preview)
	}
	if !strings.EqualFold(out.Preview.Quoter, quoter.Hex()) {
		t.Fatalf("quoter = %s want %s", out.Preview.Quoter, quoter.Hex())
	}
	if out.Preview.ProtocolFee != "120000000" || out.Preview.PartnerFee != "40000000" {
		t.Fatalf("fees = %s / %s", out.Preview.ProtocolFee, out.Preview.PartnerFee)
	}

	// The consumed hash rejects a replay.
	_, rpcErr = env.call(t, "options_takeQuote", true, params)
	if rpcErr == nil || rpcErr.Code != codeOptionsConflict {
		t.Fatalf("replay: %+v", rpcErr)
	}
}

func TestWithdrawParamValidation(t *testing.T) {
	env := newTestEnv(t)
	id := createAuctionViaRPC(t, env)
	payload := map[string]interface{}{
		"id":     id,
		"caller": hexOwner,
		"token":  hexWETH,
		"amount": "0",
	}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, payload)}}
	recorder := httptest.NewRecorder()
	env.server.handleWithdraw(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeOptionsInvalidParams {
		t.Fatalf("zero amount: %+v", rpcErr)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id := createAuctionViaRPC(t, env)

	result, rpcErr := env.call(t, "options_events", false, nil)
	if rpcErr != nil {
		t.Fatalf("events: %+v", rpcErr)
	}
	var entries []eventJSON
	unmarshalResult(t, result, &entries)
	if len(entries) == 0 {
		t.Fatalf("expected events")
	}
	first := entries[0]
	if first.Seq != 1 || first.Type != options.EventTypeAuctionCreated {
		t.Fatalf("first event = %+v", first)
	}
	if first.Attributes["escrowId"] != id {
		t.Fatalf("escrowId attr = %s want %s", first.Attributes["escrowId"], id)
	}

	last := entries[len(entries)-1].Seq
	result, rpcErr = env.call(t, "options_events", false, map[string]uint64{"afterSeq": last})
	if rpcErr != nil {
		t.Fatalf("events after: %+v", rpcErr)
	}
	var rest []eventJSON
	unmarshalResult(t, result, &rest)
	if len(rest) != 0 {
		t.Fatalf("expected no newer events, got %d", len(rest))
	}

	second := createAuctionViaRPC(t, env)
	if second == id {
		t.Fatalf("expected distinct escrow ids")
	}
	result, rpcErr = env.call(t, "options_events", false, map[string]string{"escrowId": second})
	if rpcErr != nil {
		t.Fatalf("filtered events: %+v", rpcErr)
	}
	var filtered []eventJSON
	unmarshalResult(t, result, &filtered)
	if len(filtered) == 0 {
		t.Fatalf("expected events for second escrow")
	}
	for _, entry := range filtered {
		if entry.Attributes["escrowId"] != second {
			t.Fatalf("filter leaked escrow %s", entry.Attributes["escrowId"])
		}
	}

	_, rpcErr = env.call(t, "options_events", false, map[string]string{"escrowId": "not-an-id"})
	if rpcErr == nil || rpcErr.Code != codeOptionsInvalidParams {
		t.Fatalf("invalid filter: %+v", rpcErr)
	}
}

func TestOracleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	result, rpcErr := env.call(t, "oracle_price", false, map[string]string{"base": hexWETH, "quote": hexUSDC})
	if rpcErr != nil {
		t.Fatalf("price: %+v", rpcErr)
	}
	var price map[string]string
	unmarshalResult(t, result, &price)
	if price["price"] != "2000000000" {
		t.Fatalf("price = %s", price["price"])
	}

	_, rpcErr = env.call(t, "oracle_price", false, map[string]string{"base": hexUSDC, "quote": hexWETH})
	if rpcErr == nil || rpcErr.Code != codeOptionsNotFound {
		t.Fatalf("reverse pair: %+v", rpcErr)
	}

	_, rpcErr = env.call(t, "oracle_setPrice", true, map[string]string{"base": hexWETH, "quote": hexUSDC, "price": "2100000000"})
	if rpcErr != nil {
		t.Fatalf("set price: %+v", rpcErr)
	}
	result, rpcErr = env.call(t, "oracle_price", false, map[string]string{"base": hexWETH, "quote": hexUSDC})
	if rpcErr != nil {
		t.Fatalf("price after set: %+v", rpcErr)
	}
	unmarshalResult(t, result, &price)
	if price["price"] != "2100000000" {
		t.Fatalf("updated price = %s", price["price"])
	}
}
