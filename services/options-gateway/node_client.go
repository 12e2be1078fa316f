package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NodeClient abstracts the options chain RPC interface used by the gateway.
type NodeClient interface {
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (json.RawMessage, error)
	Bid(ctx context.Context, req BidRequest) (json.RawMessage, error)
	TakeQuote(ctx context.Context, req TakeQuoteRequest) (json.RawMessage, error)
	Exercise(ctx context.Context, req ExerciseRequest) (json.RawMessage, error)
	Borrow(ctx context.Context, req BorrowRequest) (json.RawMessage, error)
	Repay(ctx context.Context, req BorrowRequest) (json.RawMessage, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (json.RawMessage, error)
	EscrowByID(ctx context.Context, id string) (json.RawMessage, error)
	FetchEvents(ctx context.Context, afterSeq uint64) ([]NodeEvent, error)
}

// CreateAuctionRequest mirrors the options_createAuction parameter object.
// The advanced and schedule documents pass through opaquely; the node owns
// their validation.
type CreateAuctionRequest struct {
	Owner      string          `json:"owner"`
	Underlying string          `json:"underlying"`
	Settlement string          `json:"settlement"`
	Notional   string          `json:"notional"`
	Advanced   json.RawMessage `json:"advanced"`
	Schedule   json.RawMessage `json:"schedule"`
}

// BidRequest mirrors the options_bid parameter object.
type BidRequest struct {
	ID         string `json:"id"`
	Bidder     string `json:"bidder"`
	Receiver   string `json:"receiver,omitempty"`
	Partner    string `json:"partner,omitempty"`
	RelBid     string `json:"relBid"`
	RefSpot    string `json:"refSpot"`
	OracleData string `json:"oracleData,omitempty"`
}

// TakeQuoteRequest mirrors the options_takeQuote parameter object.
type TakeQuoteRequest struct {
	Owner    string          `json:"owner"`
	Receiver string          `json:"receiver,omitempty"`
	Partner  string          `json:"partner,omitempty"`
	Terms    json.RawMessage `json:"terms"`
	Quote    json.RawMessage `json:"quote"`
}

// ExerciseRequest mirrors the options_exercise parameter object.
type ExerciseRequest struct {
	ID              string `json:"id"`
	Caller          string `json:"caller"`
	Receiver        string `json:"receiver,omitempty"`
	Amount          string `json:"amount"`
	PayInSettlement bool   `json:"payInSettlement"`
	OracleData      string `json:"oracleData,omitempty"`
}

// BorrowRequest mirrors the options_borrow and options_repay parameter
// objects, which share a shape.
type BorrowRequest struct {
	ID       string `json:"id"`
	Borrower string `json:"borrower"`
	Receiver string `json:"receiver,omitempty"`
	Amount   string `json:"amount"`
}

// WithdrawRequest mirrors the options_withdraw parameter object.
type WithdrawRequest struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	To     string `json:"to,omitempty"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// NodeEvent is a module event drained from the node's in-memory feed.
type NodeEvent struct {
	Sequence   uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NodeError carries a JSON-RPC error returned by the node.
type NodeError struct {
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node error %d: %s", e.Code, e.Message)
}

// RPCNodeClient talks to the chain node over JSON-RPC.
type RPCNodeClient struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewRPCNodeClient builds a client for the given RPC endpoint. The auth
// token, when set, is attached as a bearer credential on every call.
func NewRPCNodeClient(endpoint, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqBody := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{params},
		ID:      1,
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return nil, &NodeError{Code: decoded.Error.Code, Message: decoded.Error.Message}
	}
	return decoded.Result, nil
}

func (c *RPCNodeClient) CreateAuction(ctx context.Context, req CreateAuctionRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_createAuction", req)
}

func (c *RPCNodeClient) Bid(ctx context.Context, req BidRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_bid", req)
}

func (c *RPCNodeClient) TakeQuote(ctx context.Context, req TakeQuoteRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_takeQuote", req)
}

func (c *RPCNodeClient) Exercise(ctx context.Context, req ExerciseRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_exercise", req)
}

func (c *RPCNodeClient) Borrow(ctx context.Context, req BorrowRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_borrow", req)
}

func (c *RPCNodeClient) Repay(ctx context.Context, req BorrowRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_repay", req)
}

func (c *RPCNodeClient) Withdraw(ctx context.Context, req WithdrawRequest) (json.RawMessage, error) {
	return c.call(ctx, "options_withdraw", req)
}

func (c *RPCNodeClient) EscrowByID(ctx context.Context, id string) (json.RawMessage, error) {
	return c.call(ctx, "options_escrow", map[string]string{"id": id})
}

func (c *RPCNodeClient) FetchEvents(ctx context.Context, afterSeq uint64) ([]NodeEvent, error) {
	raw, err := c.call(ctx, "options_events", map[string]uint64{"afterSeq": afterSeq})
	if err != nil {
		return nil, err
	}
	var events []NodeEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
