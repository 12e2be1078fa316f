package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/core/events"
	"optionchain/native/fees"
	"optionchain/native/options"
	"optionchain/native/oracle"
	"optionchain/native/registry"
	"optionchain/storage"
)

const testAuthToken = "rpc-test-token"

const (
	hexWETH     = "0x1111111111111111111111111111111111111111"
	hexUSDC     = "0x2222222222222222222222222222222222222222"
	hexOracle   = "0x3333333333333333333333333333333333333333"
	hexOwner    = "0x4444444444444444444444444444444444444444"
	hexBidder   = "0x5555555555555555555555555555555555555555"
	hexHolder   = "0x6666666666666666666666666666666666666666"
	hexPartner  = "0x7777777777777777777777777777777777777777"
	hexTreasury = "0xFEfEFefeFEFeFefEfEfefefeFEfefEFeFEFeFEfe"
	hexRouter   = "0x8888888888888888888888888888888888888888"
)

type testEnv struct {
	server   *Server
	registry *registry.Registry
	engine   *options.Engine
	state    *registry.State
	prices   *oracle.ManualSource
	feed     *events.Buffer
	now      int64
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	t.Setenv("OPTIOND_RPC_TOKEN", testAuthToken)

	db := storage.NewMemDB()
	state, err := registry.NewState(db)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	weth := common.HexToAddress(hexWETH)
	usdc := common.HexToAddress(hexUSDC)
	if err := state.Bank.RegisterToken(weth, "WETH", 18); err != nil {
		t.Fatalf("register weth: %v", err)
	}
	if err := state.Bank.RegisterToken(usdc, "USDC", 6); err != nil {
		t.Fatalf("register usdc: %v", err)
	}
	mint := func(token, holder common.Address, amount *big.Int) {
		if err := state.Bank.Mint(token, holder, amount); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	wad := big.NewInt(1_000_000_000_000_000_000)
	mint(weth, common.HexToAddress(hexOwner), new(big.Int).Mul(big.NewInt(1000), wad))
	mint(usdc, common.HexToAddress(hexBidder), big.NewInt(1_000_000_000_000))
	mint(usdc, common.HexToAddress(hexHolder), big.NewInt(1_000_000_000_000))

	schedule := fees.NewSchedule()
	if err := schedule.SetMatchFeeRate(big.NewInt(100_000_000_000_000_000)); err != nil {
		t.Fatalf("match rate: %v", err)
	}
	if err := schedule.SetExerciseFeeRate(big.NewInt(5_000_000_000_000_000)); err != nil {
		t.Fatalf("exercise rate: %v", err)
	}
	if err := schedule.SetPartnerShare(common.HexToAddress(hexPartner), big.NewInt(250_000_000_000_000_000)); err != nil {
		t.Fatalf("partner share: %v", err)
	}

	prices := oracle.NewManualSource(0)
	if err := prices.SetPrice(weth, usdc, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("seed price: %v", err)
	}

	env := &testEnv{state: state, prices: prices, now: 1_700_000_000}
	env.feed = events.NewBuffer(128)

	engine := options.NewEngine()
	engine.SetState(state)
	engine.SetOracle(prices)
	engine.SetFeeProvider(schedule)
	engine.SetFeeTreasury(common.HexToAddress(hexTreasury))
	engine.SetChainID(1337)
	engine.SetEmitter(env.feed)
	engine.SetNowFunc(func() int64 { return env.now })
	env.engine = engine

	reg, err := registry.New(engine, state, common.HexToAddress(hexRouter))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	env.registry = reg
	env.server = NewServer(reg, prices, env.feed)
	return env
}

// newRequest returns a pre-authenticated POST request suitable for direct
// handler invocation.
func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

// post drives the full dispatch path with a raw body.
func (env *testEnv) post(t testing.TB, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)
	return recorder
}

// call invokes a method through the dispatcher with a single params object.
func (env *testEnv) call(t testing.TB, method string, authed bool, params interface{}) (json.RawMessage, *RPCError) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		req.Params = []json.RawMessage{marshalParam(t, params)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	recorder := env.post(t, string(body), authed)
	return decodeRPCResponse(t, recorder)
}

func marshalParam(t testing.TB, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t testing.TB, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, recorder.Body.String())
	}
	return resp.Result, resp.Error
}

func unmarshalResult(t testing.TB, raw json.RawMessage, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decode result: %v (raw %s)", err, raw)
	}
}
