package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const requestLimit = 1 << 20 // 1 MiB

// optionsRoutes bridges the REST surface to the node's options JSON-RPC
// methods. Request bodies pass through as the single params object; path
// segments are folded into the object before forwarding so clients never
// repeat the escrow id in the payload.
type optionsRoutes struct {
	client *NodeClient
}

func newOptionsRoutes(client *NodeClient) *optionsRoutes {
	return &optionsRoutes{client: client}
}

// mountReads attaches the unauthenticated read surface.
func (or *optionsRoutes) mountReads(r chi.Router) {
	r.Get("/escrows", or.listEscrows)
	r.Get("/escrows/{id}", or.getEscrow)
	r.Get("/escrows/{id}/positions/{holder}", or.positionBalance)
	r.Get("/auctions/{id}/ask", or.auctionAsk)
	r.Get("/events", or.listEvents)
	r.Post("/auctions/{id}/bids/preview", or.forward("options_previewBid", pathField{"id", "id"}))
	r.Post("/quotes/preview", or.forward("options_previewTakeQuote"))
}

// mountTrading attaches the mutating trade surface. Callers reach these
// routes through the trade-scope middleware.
func (or *optionsRoutes) mountTrading(r chi.Router) {
	r.Post("/auctions", or.forward("options_createAuction"))
	r.Post("/auctions/{id}/bids", or.forward("options_bid", pathField{"id", "id"}))
	r.Post("/quotes/take", or.forward("options_takeQuote"))
	r.Post("/mints", or.forward("options_directMint"))
	r.Post("/escrows/{id}/exercise", or.forward("options_exercise", pathField{"id", "id"}))
	r.Post("/escrows/{id}/borrow", or.forward("options_borrow", pathField{"id", "id"}))
	r.Post("/escrows/{id}/repay", or.forward("options_repay", pathField{"id", "id"}))
	r.Post("/escrows/{id}/withdraw", or.forward("options_withdraw", pathField{"id", "id"}))
	r.Post("/escrows/{id}/sweep", or.forward("options_sweepExpired", pathField{"id", "id"}))
	r.Post("/escrows/{id}/owner", or.forward("options_transferOwnership", pathField{"id", "id"}))
	r.Post("/escrows/{id}/positions/transfer", or.forward("options_transferPosition", pathField{"id", "id"}))
	r.Post("/escrows/{id}/delegate", or.forward("options_delegateVoting", pathField{"id", "id"}))
}

// mountAdmin attaches operator routes guarded by the admin scope.
func (or *optionsRoutes) mountAdmin(r chi.Router) {
	r.Post("/pause", or.forward("options_setQuotePause"))
	r.Post("/oracle/price", or.forward("oracle_setPrice"))
}

type pathField struct {
	jsonField string
	urlParam  string
}

// forward returns a handler that decodes the JSON body into a generic
// object, folds in the listed path segments and relays the call. The node's
// result is returned verbatim so REST and JSON-RPC clients see identical
// payloads.
func (or *optionsRoutes) forward(method string, fields ...pathField) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := map[string]any{}
		body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
		if err != nil {
			writeRESTError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
			if err := json.Unmarshal(trimmed, &params); err != nil {
				writeRESTError(w, http.StatusBadRequest, "decode body: "+err.Error())
				return
			}
		}
		for _, f := range fields {
			if value := chi.URLParam(r, f.urlParam); value != "" {
				params[f.jsonField] = value
			}
		}
		result, err := or.client.Call(r.Context(), method, params)
		if err != nil {
			writeNodeError(w, err)
			return
		}
		writeRawResult(w, result)
	}
}

func (or *optionsRoutes) listEscrows(w http.ResponseWriter, r *http.Request) {
	result, err := or.client.Call(r.Context(), "options_list", nil)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

func (or *optionsRoutes) getEscrow(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{"id": chi.URLParam(r, "id")}
	result, err := or.client.Call(r.Context(), "options_escrow", params)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

func (or *optionsRoutes) positionBalance(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{
		"id":     chi.URLParam(r, "id"),
		"holder": chi.URLParam(r, "holder"),
	}
	result, err := or.client.Call(r.Context(), "options_positionBalance", params)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

func (or *optionsRoutes) auctionAsk(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{"id": chi.URLParam(r, "id")}
	result, err := or.client.Call(r.Context(), "options_auctionAsk", params)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

func (or *optionsRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	var afterSeq uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("afterSeq")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeRESTError(w, http.StatusBadRequest, "invalid afterSeq")
			return
		}
		afterSeq = parsed
	}
	result, err := or.client.Call(r.Context(), "options_events", map[string]any{"afterSeq": afterSeq})
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

// oracleRoutes exposes the read-only oracle price lookup.
type oracleRoutes struct {
	client *NodeClient
}

func newOracleRoutes(client *NodeClient) *oracleRoutes {
	return &oracleRoutes{client: client}
}

func (ro *oracleRoutes) mount(r chi.Router) {
	r.Get("/price", ro.price)
}

func (ro *oracleRoutes) price(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSpace(r.URL.Query().Get("base"))
	quote := strings.TrimSpace(r.URL.Query().Get("quote"))
	if base == "" || quote == "" {
		writeRESTError(w, http.StatusBadRequest, "base and quote query parameters required")
		return
	}
	params := map[string]any{"base": base, "quote": quote}
	if data := strings.TrimSpace(r.URL.Query().Get("oracleData")); data != "" {
		params["oracleData"] = data
	}
	result, err := ro.client.Call(r.Context(), "oracle_price", params)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	writeRawResult(w, result)
}

type restError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeRESTError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(restError{Error: message})
}

// writeNodeError maps node RPC failures onto REST statuses. Anything that is
// not a structured node error surfaces as a bad gateway.
func writeNodeError(w http.ResponseWriter, err error) {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatusForNodeError(nodeErr.Code))
		_ = json.NewEncoder(w).Encode(restError{Error: nodeErr.Message, Detail: nodeErr.Detail()})
		return
	}
	writeRESTError(w, http.StatusBadGateway, err.Error())
}

func writeRawResult(w http.ResponseWriter, result json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	if len(result) == 0 {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(result)
}
