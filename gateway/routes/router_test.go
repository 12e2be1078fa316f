package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"optionchain/gateway/middleware"
)

const routerTestSecret = "router-test-secret"

type capturedCall struct {
	Method string
	Params map[string]any
	Calls  int
}

// newNodeStub runs an httptest server that records the last JSON-RPC call
// and replies with the configured result or error.
func newNodeStub(t *testing.T, result any, rpcErr *NodeError) (*httptest.Server, *capturedCall) {
	t.Helper()
	captured := &capturedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode node request: %v", err)
			return
		}
		captured.Method = req.Method
		captured.Calls++
		if len(req.Params) > 0 {
			params := map[string]any{}
			if err := json.Unmarshal(req.Params[0], &params); err != nil {
				t.Errorf("decode params object: %v", err)
			}
			captured.Params = params
		}
		w.Header().Set("Content-Type", "application/json")
		if rpcErr != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": rpcErr.Code, "message": rpcErr.Message},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestRouter(t *testing.T, node *httptest.Server) http.Handler {
	t.Helper()
	target, err := url.Parse(node.URL)
	if err != nil {
		t.Fatalf("parse node url: %v", err)
	}
	client, err := NewNodeClient(target, "node-token")
	if err != nil {
		t.Fatalf("new node client: %v", err)
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: routerTestSecret,
	}, nil)
	router, err := New(Config{
		Client:        client,
		Authenticator: auth,
		Idempotency:   middleware.NewIdempotency(middleware.IdempotencyConfig{}, nil),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router
}

func mintToken(t *testing.T, scopes ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "0x2222222222222222222222222222222222222222",
		"scope": strings.Join(scopes, " "),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(routerTestSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterFoldsPathIDIntoParams(t *testing.T) {
	node, captured := newNodeStub(t, map[string]string{"payToken": "0xabc"}, nil)
	router := newTestRouter(t, node)

	body := strings.NewReader(`{"caller":"0x1234","amount":"10","payInSettlement":false}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/options/escrows/0xdeadbeef/exercise", body)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, middleware.ScopeTrade))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if captured.Method != "options_exercise" {
		t.Fatalf("expected options_exercise, got %q", captured.Method)
	}
	if captured.Params["id"] != "0xdeadbeef" {
		t.Fatalf("expected path id folded into params, got %v", captured.Params["id"])
	}
	if captured.Params["caller"] != "0x1234" {
		t.Fatalf("expected body fields preserved, got %v", captured.Params)
	}
	var decoded map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["payToken"] != "0xabc" {
		t.Fatalf("expected node result passthrough, got %v", decoded)
	}
}

func TestRouterRequiresTradeScope(t *testing.T) {
	node, _ := newNodeStub(t, map[string]string{}, nil)
	router := newTestRouter(t, node)

	req := httptest.NewRequest(http.MethodPost, "/v1/options/auctions", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/options/auctions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+mintToken(t))
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without trade scope, got %d", res.Code)
	}
}

func TestRouterAdminRoutesRejectTradeScope(t *testing.T) {
	node, _ := newNodeStub(t, map[string]bool{"ok": true}, nil)
	router := newTestRouter(t, node)

	req := httptest.NewRequest(http.MethodPost, "/v1/options/admin/pause", strings.NewReader(`{"caller":"0x1","paused":true}`))
	req.Header.Set("Authorization", "Bearer "+mintToken(t, middleware.ScopeTrade))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for trade-only token on admin route, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/options/admin/pause", strings.NewReader(`{"caller":"0x1","paused":true}`))
	req.Header.Set("Authorization", "Bearer "+mintToken(t, middleware.ScopeTrade, middleware.ScopeAdmin))
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin scope, got %d: %s", res.Code, res.Body.String())
	}
}

func TestRouterReadsSkipAuth(t *testing.T) {
	node, captured := newNodeStub(t, []map[string]string{}, nil)
	router := newTestRouter(t, node)

	req := httptest.NewRequest(http.MethodGet, "/v1/options/escrows/0xfeed", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected unauthenticated read to pass, got %d: %s", res.Code, res.Body.String())
	}
	if captured.Method != "options_escrow" {
		t.Fatalf("expected options_escrow, got %q", captured.Method)
	}
	if captured.Params["id"] != "0xfeed" {
		t.Fatalf("expected id from path, got %v", captured.Params)
	}
}

func TestRouterMapsNodeErrorCodes(t *testing.T) {
	cases := []struct {
		code   int
		status int
	}{
		{-32041, http.StatusBadRequest},
		{-32042, http.StatusNotFound},
		{-32043, http.StatusForbidden},
		{-32044, http.StatusConflict},
		{-32045, http.StatusInternalServerError},
		{-31999, http.StatusBadGateway},
	}
	for _, tc := range cases {
		node, _ := newNodeStub(t, nil, &NodeError{Code: tc.code, Message: "boom"})
		router := newTestRouter(t, node)

		req := httptest.NewRequest(http.MethodGet, "/v1/options/escrows/0xfeed", nil)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		if res.Code != tc.status {
			t.Fatalf("code %d: expected status %d, got %d", tc.code, tc.status, res.Code)
		}
		var decoded restError
		if err := json.Unmarshal(res.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if decoded.Error != "boom" {
			t.Fatalf("expected node message in error body, got %q", decoded.Error)
		}
	}
}

func TestRouterEventsQuery(t *testing.T) {
	node, captured := newNodeStub(t, []map[string]any{}, nil)
	router := newTestRouter(t, node)

	req := httptest.NewRequest(http.MethodGet, "/v1/options/events?afterSeq=17", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if captured.Method != "options_events" {
		t.Fatalf("expected options_events, got %q", captured.Method)
	}
	if seq, ok := captured.Params["afterSeq"].(float64); !ok || seq != 17 {
		t.Fatalf("expected afterSeq 17, got %v", captured.Params["afterSeq"])
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/options/events?afterSeq=bogus", nil)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid afterSeq, got %d", res.Code)
	}
}

func TestRouterReplaysIdempotentTrades(t *testing.T) {
	node, captured := newNodeStub(t, map[string]string{"id": "0xabc"}, nil)
	router := newTestRouter(t, node)
	token := mintToken(t, middleware.ScopeTrade)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/options/auctions", strings.NewReader(`{"underlyingToken":"0x1"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(middleware.HeaderIdempotencyKey, "create-once")
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		return res
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := send()
	if captured.Calls != 1 {
		t.Fatalf("expected the retry to be served from cache, node saw %d calls", captured.Calls)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replayed body, got %q vs %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(middleware.HeaderIdempotentReplay) != "true" {
		t.Fatal("expected replay marker on the second response")
	}
}

func TestRouterHealthz(t *testing.T) {
	node, _ := newNodeStub(t, nil, nil)
	router := newTestRouter(t, node)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", res.Code)
	}
}
