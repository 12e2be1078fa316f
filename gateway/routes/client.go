package routes

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const nodeResponseLimit = 1 << 20 // 1 MiB

// NodeClient speaks the node's JSON-RPC dialect on behalf of the REST
// bridge. Every call wraps a single parameter object in the positional
// params array the node expects.
type NodeClient struct {
	target *url.URL
	token  string
	client *http.Client
	nextID atomic.Int64
}

func NewNodeClient(target *url.URL, token string) (*NodeClient, error) {
	if target == nil {
		return nil, fmt.Errorf("nil node target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("node target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("node target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	return &NodeClient{
		target: &cloned,
		token:  strings.TrimSpace(token),
		client: &http.Client{
			Timeout: 15 * time.Second,
			// The traced transport propagates the gateway span into the
			// node call and is a no-op when tracing is not installed.
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// NodeError carries the JSON-RPC error envelope returned by the node.
type NodeError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// Detail returns the string payload of the error data field when present.
// The node puts the human-readable failure reason there.
func (e *NodeError) Detail() string {
	if len(e.Data) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(e.Data, &detail); err != nil {
		return ""
	}
	return detail
}

type nodeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type nodeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// Call posts a JSON-RPC request and returns the raw result payload. A nil
// params value sends an empty positional array.
func (nc *NodeClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	positional := []any{}
	if params != nil {
		positional = append(positional, params)
	}
	payload, err := json.Marshal(nodeRequest{
		JSONRPC: "2.0",
		ID:      nc.nextID.Add(1),
		Method:  method,
		Params:  positional,
	})
	if err != nil {
		return nil, fmt.Errorf("encode node request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nc.target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build node request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if nc.token != "" {
		req.Header.Set("Authorization", "Bearer "+nc.token)
	}

	resp, err := nc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call node: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, nodeResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("read node response: %w", err)
	}

	var decoded nodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("node returned status %d with undecodable body: %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return nil, &NodeError{
			Code:    decoded.Error.Code,
			Message: decoded.Error.Message,
			Data:    decoded.Error.Data,
		}
	}
	return decoded.Result, nil
}

// httpStatusForNodeError translates the node's error codes into REST
// statuses. Codes the bridge cannot attribute to caller input surface as a
// bad gateway so operators can tell node faults from client mistakes.
func httpStatusForNodeError(code int) int {
	switch code {
	case -32041:
		return http.StatusBadRequest
	case -32042:
		return http.StatusNotFound
	case -32043:
		return http.StatusForbidden
	case -32044:
		return http.StatusConflict
	case -32045:
		return http.StatusInternalServerError
	case -32020:
		return http.StatusTooManyRequests
	case -32700, -32600, -32602:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
