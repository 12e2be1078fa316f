package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"optionchain/core/events"
	nativecommon "optionchain/native/common"
	"optionchain/native/oracle"
	"optionchain/native/registry"
	"optionchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute

	// maxWritesPerWindow bounds the state-changing calls accepted from a
	// single source address per window.
	maxWritesPerWindow = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type Server struct {
	registry *registry.Registry
	prices   *oracle.ManualSource
	feed     *events.Buffer

	mu         sync.Mutex
	writeQuota nativecommon.Quota
	writeUsage map[string]nativecommon.QuotaNow
	authToken  string
}

// NewServer wires the JSON-RPC server over a registry. The price source and
// event feed are optional; methods depending on them report a server error
// when absent. The auth token guarding mutating methods comes from the
// OPTIOND_RPC_TOKEN environment variable.
func NewServer(reg *registry.Registry, prices *oracle.ManualSource, feed *events.Buffer) *Server {
	token := strings.TrimSpace(os.Getenv("OPTIOND_RPC_TOKEN"))
	return &Server{
		registry: reg,
		prices:   prices,
		feed:     feed,
		writeQuota: nativecommon.Quota{
			MaxRequestsPerMin: maxWritesPerWindow,
			EpochSeconds:      uint32(rateLimitWindow / time.Second),
		},
		writeUsage: make(map[string]nativecommon.QuotaNow),
		authToken:  token,
	}
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint and the
// websocket event stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(rec, r, req)
	observability.ModuleMetrics().Observe(req.Method, rec.status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "options_createAuction":
		s.mutating(w, r, req, s.handleCreateAuction)
	case "options_previewBid":
		s.handlePreviewBid(w, r, req)
	case "options_bid":
		s.mutating(w, r, req, s.handleBid)
	case "options_previewTakeQuote":
		s.handlePreviewTakeQuote(w, r, req)
	case "options_takeQuote":
		s.mutating(w, r, req, s.handleTakeQuote)
	case "options_directMint":
		s.mutating(w, r, req, s.handleDirectMint)
	case "options_exercise":
		s.mutating(w, r, req, s.handleExercise)
	case "options_borrow":
		s.mutating(w, r, req, s.handleBorrow)
	case "options_repay":
		s.mutating(w, r, req, s.handleRepay)
	case "options_withdraw":
		s.mutating(w, r, req, s.handleWithdraw)
	case "options_sweepExpired":
		s.mutating(w, r, req, s.handleSweepExpired)
	case "options_transferOwnership":
		s.mutating(w, r, req, s.handleTransferOwnership)
	case "options_transferPosition":
		s.mutating(w, r, req, s.handleTransferPosition)
	case "options_delegateVoting":
		s.mutating(w, r, req, s.handleDelegateVoting)
	case "options_setQuotePause":
		s.mutating(w, r, req, s.handleSetQuotePause)
	case "options_escrow":
		s.handleEscrowGet(w, r, req)
	case "options_list":
		s.handleEscrowList(w, r, req)
	case "options_positionBalance":
		s.handlePositionBalance(w, r, req)
	case "options_auctionAsk":
		s.handleAuctionAsk(w, r, req)
	case "options_events":
		s.handleEvents(w, r, req)
	case "oracle_setPrice":
		s.mutating(w, r, req, s.handleOracleSetPrice)
	case "oracle_price":
		s.handleOraclePrice(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

// mutating enforces authentication and per-source rate limiting before
// dispatching a state-changing handler.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(clientSource(r), time.Now()) {
		observability.ModuleMetrics().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := uint64(now.Unix()) / uint64(s.writeQuota.EpochSeconds)
	next, err := nativecommon.CheckQuota(s.writeQuota, epoch, s.writeUsage[source], 1, 0)
	if err != nil {
		return false
	}
	s.writeUsage[source] = next
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			forwarded = strings.TrimSpace(forwarded[:comma])
		}
		if parsed := net.ParseIP(forwarded); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
