// Package compat keeps the node's JSON-RPC dialect reachable through the
// gateway for clients that have not moved to the REST routes. The forwarder
// terminates auth at the gateway: callers authenticate with gateway bearer
// tokens while the node credential stays server-side.
package compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"optionchain/gateway/middleware"
)

const (
	maxRequestBytes  = 1 << 20 // 1 MiB
	maxBatchRequests = 25
)

// Mode represents the JSON-RPC endpoint switch state.
type Mode string

const (
	// ModeEnabled serves the JSON-RPC endpoint.
	ModeEnabled Mode = "enabled"
	// ModeDisabled turns the JSON-RPC endpoint off, leaving REST only.
	ModeDisabled Mode = "disabled"
)

// ParseMode validates CLI/env-provided values.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeEnabled):
		return ModeEnabled, nil
	case string(ModeDisabled):
		return ModeDisabled, nil
	default:
		return ModeEnabled, fmt.Errorf("unknown compatibility mode %q (expected enabled or disabled)", value)
	}
}

// MethodPolicy describes how the forwarder treats a node method. Mutating
// methods require the named scope on the caller and are forwarded with the
// node credential attached.
type MethodPolicy struct {
	Mutating bool
	Scope    string
}

// Forwarder relays allowlisted JSON-RPC requests to the options node.
type Forwarder struct {
	node    *url.URL
	client  *http.Client
	token   string
	methods map[string]MethodPolicy
	nextID  atomic.Int64
}

// NewForwarder builds a forwarder targeting the node endpoint. nodeToken is
// the node's RPC bearer credential, attached only to mutating calls.
func NewForwarder(node *url.URL, nodeToken string, methods map[string]MethodPolicy) *Forwarder {
	if methods == nil {
		methods = DefaultMethods
	}
	return &Forwarder{
		node:    node,
		client:  &http.Client{Timeout: 15 * time.Second},
		token:   strings.TrimSpace(nodeToken),
		methods: methods,
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handler serves the JSON-RPC endpoint, accepting single requests and
// batches. Batch entries are fanned out to the node one at a time.
func (f *Forwarder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeError(w, nil, -32700, fmt.Sprintf("read body: %v", err))
			return
		}
		payload := bytes.TrimSpace(body)
		if len(payload) == 0 {
			writeError(w, nil, -32600, "empty request body")
			return
		}
		if bytes.HasPrefix(payload, []byte("[")) {
			var requests []rpcRequest
			if err := json.Unmarshal(payload, &requests); err != nil {
				writeError(w, nil, -32700, fmt.Sprintf("decode batch: %v", err))
				return
			}
			if len(requests) > maxBatchRequests {
				writeError(w, nil, -32600, fmt.Sprintf("batch exceeds %d requests", maxBatchRequests))
				return
			}
			responses := make([]rpcResponse, 0, len(requests))
			for _, req := range requests {
				responses = append(responses, f.forward(r.Context(), req))
			}
			writeJSON(w, responses)
			return
		}
		var request rpcRequest
		if err := json.Unmarshal(payload, &request); err != nil {
			writeError(w, nil, -32700, fmt.Sprintf("decode request: %v", err))
			return
		}
		writeJSON(w, f.forward(r.Context(), request))
	})
}

// forward checks the method policy and relays a single request, repackaging
// the node's reply under the caller's original id.
func (f *Forwarder) forward(ctx context.Context, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	policy, ok := f.methods[req.Method]
	if !ok {
		resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		return resp
	}
	if policy.Mutating {
		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok || !principal.HasScope(policy.Scope) {
			resp.Error = &rpcError{Code: -32001, Message: fmt.Sprintf("scope %s required", policy.Scope)}
			return resp
		}
	}

	upstream := rpcRequest{
		JSONRPC: "2.0",
		Method:  req.Method,
		Params:  req.Params,
		ID:      f.nextID.Add(1),
	}
	buf, err := json.Marshal(upstream)
	if err != nil {
		resp.Error = &rpcError{Code: -32603, Message: fmt.Sprintf("encode upstream request: %v", err)}
		return resp
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.node.String(), bytes.NewReader(buf))
	if err != nil {
		resp.Error = &rpcError{Code: -32603, Message: fmt.Sprintf("build upstream request: %v", err)}
		return resp
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if policy.Mutating && f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		resp.Error = &rpcError{Code: -32002, Message: fmt.Sprintf("upstream error: %v", err)}
		return resp
	}
	defer httpResp.Body.Close()
	nodeBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxRequestBytes))
	if err != nil {
		resp.Error = &rpcError{Code: -32003, Message: fmt.Sprintf("read upstream response: %v", err)}
		return resp
	}

	var nodeResp rpcResponse
	if err := json.Unmarshal(nodeBody, &nodeResp); err != nil {
		data, _ := json.Marshal(string(nodeBody))
		resp.Error = &rpcError{Code: -32002, Message: "upstream error", Data: data}
		return resp
	}
	resp.Result = nodeResp.Result
	resp.Error = nodeResp.Error
	return resp
}

func writeError(w http.ResponseWriter, id any, code int, msg string) {
	writeJSON(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: msg},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
