package rpc

import (
	"errors"
	"net/http"

	"optionchain/native/oracle"
)

type oracleSetPriceParams struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Price string `json:"price"`
}

type oraclePriceParams struct {
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	OracleData string `json:"oracleData,omitempty"`
}

func (s *Server) handleOracleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.prices == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeOptionsInternal, "internal_error", "manual price source not configured")
		return
	}
	var params oracleSetPriceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	base, err := parseAddress(params.Base)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	quote, err := parseAddress(params.Quote)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.prices.SetPrice(base, quote, price); err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleOraclePrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.prices == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeOptionsInternal, "internal_error", "manual price source not configured")
		return
	}
	var params oraclePriceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	base, err := parseAddress(params.Base)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	quote, err := parseAddress(params.Quote)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	auxData, err := parseHexBytes(params.OracleData)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	price, err := s.prices.Price(base, quote, auxData)
	if err != nil {
		status := http.StatusInternalServerError
		code := codeOptionsInternal
		message := "internal_error"
		switch {
		case errors.Is(err, oracle.ErrNoQuote):
			status = http.StatusNotFound
			code = codeOptionsNotFound
			message = "not_found"
		case errors.Is(err, oracle.ErrStaleQuote):
			status = http.StatusConflict
			code = codeOptionsConflict
			message = "conflict"
		}
		writeError(w, status, req.ID, code, message, err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"price": price.String()})
}
