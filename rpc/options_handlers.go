package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"optionchain/core/events"
	"optionchain/core/types"
	nativecommon "optionchain/native/common"
	"optionchain/native/options"
	"optionchain/native/registry"
)

const (
	codeOptionsInvalidParams = -32041
	codeOptionsNotFound      = -32042
	codeOptionsForbidden     = -32043
	codeOptionsConflict      = -32044
	codeOptionsInternal      = -32045
)

type advancedParams struct {
	BorrowCap                string `json:"borrowCap,omitempty"`
	Oracle                   string `json:"oracle"`
	PremiumTokenIsUnderlying bool   `json:"premiumTokenIsUnderlying,omitempty"`
	VotingDelegationAllowed  bool   `json:"votingDelegationAllowed,omitempty"`
	DelegateRegistry         string `json:"delegateRegistry,omitempty"`
}

type scheduleParams struct {
	RelStrike             string `json:"relStrike"`
	Tenor                 int64  `json:"tenor"`
	EarliestExerciseTenor int64  `json:"earliestExerciseTenor"`
	DecayStartTime        int64  `json:"decayStartTime"`
	DecayDuration         int64  `json:"decayDuration"`
	RelPremiumStart       string `json:"relPremiumStart"`
	RelPremiumFloor       string `json:"relPremiumFloor"`
	MinSpot               string `json:"minSpot"`
	MaxSpot               string `json:"maxSpot"`
}

type termsParams struct {
	Underlying       string         `json:"underlying"`
	Settlement       string         `json:"settlement"`
	Notional         string         `json:"notional"`
	Strike           string         `json:"strike"`
	Expiry           int64          `json:"expiry"`
	EarliestExercise int64          `json:"earliestExercise"`
	Advanced         advancedParams `json:"advanced"`
}

type quoteParams struct {
	Premium    string `json:"premium"`
	ValidUntil int64  `json:"validUntil"`
	Quoter     string `json:"quoter,omitempty"`
	Signature  string `json:"signature"`
}

type createAuctionParams struct {
	Owner      string         `json:"owner"`
	Underlying string         `json:"underlying"`
	Settlement string         `json:"settlement"`
	Notional   string         `json:"notional"`
	Advanced   advancedParams `json:"advanced"`
	Schedule   scheduleParams `json:"schedule"`
}

type previewBidParams struct {
	ID         string `json:"id"`
	RelBid     string `json:"relBid"`
	RefSpot    string `json:"refSpot"`
	Partner    string `json:"partner,omitempty"`
	OracleData string `json:"oracleData,omitempty"`
}

type bidParams struct {
	ID         string `json:"id"`
	Bidder     string `json:"bidder"`
	Receiver   string `json:"receiver,omitempty"`
	Partner    string `json:"partner,omitempty"`
	RelBid     string `json:"relBid"`
	RefSpot    string `json:"refSpot"`
	OracleData string `json:"oracleData,omitempty"`
}

type previewTakeQuoteParams struct {
	Owner   string      `json:"owner"`
	Partner string      `json:"partner,omitempty"`
	Terms   termsParams `json:"terms"`
	Quote   quoteParams `json:"quote"`
}

type takeQuoteParams struct {
	Owner    string      `json:"owner"`
	Receiver string      `json:"receiver,omitempty"`
	Partner  string      `json:"partner,omitempty"`
	Terms    termsParams `json:"terms"`
	Quote    quoteParams `json:"quote"`
}

type directMintParams struct {
	Owner    string      `json:"owner"`
	Receiver string      `json:"receiver,omitempty"`
	Terms    termsParams `json:"terms"`
}

type exerciseParams struct {
	ID              string `json:"id"`
	Caller          string `json:"caller"`
	Receiver        string `json:"receiver,omitempty"`
	Amount          string `json:"amount"`
	PayInSettlement bool   `json:"payInSettlement"`
	OracleData      string `json:"oracleData,omitempty"`
}

type borrowParams struct {
	ID       string `json:"id"`
	Borrower string `json:"borrower"`
	Receiver string `json:"receiver,omitempty"`
	Amount   string `json:"amount"`
}

type withdrawParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	To     string `json:"to,omitempty"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type sweepParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	To     string `json:"to,omitempty"`
}

type transferOwnershipParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type transferPositionParams struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type delegateVotingParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	Delegate string `json:"delegate"`
}

type quotePauseParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type positionBalanceParams struct {
	ID     string `json:"id"`
	Holder string `json:"holder"`
}

type eventsParams struct {
	AfterSeq uint64 `json:"afterSeq,omitempty"`
	EscrowID string `json:"escrowId,omitempty"`
}

type scheduleJSON struct {
	RelStrike             string `json:"relStrike"`
	Tenor                 int64  `json:"tenor"`
	EarliestExerciseTenor int64  `json:"earliestExerciseTenor"`
	DecayStartTime        int64  `json:"decayStartTime"`
	DecayDuration         int64  `json:"decayDuration"`
	RelPremiumStart       string `json:"relPremiumStart"`
	RelPremiumFloor       string `json:"relPremiumFloor"`
	MinSpot               string `json:"minSpot"`
	MaxSpot               string `json:"maxSpot"`
}

type escrowJSON struct {
	ID                       string            `json:"id"`
	Index                    uint64            `json:"index"`
	Name                     string            `json:"name"`
	Symbol                   string            `json:"symbol"`
	Owner                    string            `json:"owner"`
	State                    string            `json:"state"`
	Vault                    string            `json:"vault"`
	Underlying               string            `json:"underlying"`
	Settlement               string            `json:"settlement"`
	Notional                 string            `json:"notional"`
	Strike                   string            `json:"strike,omitempty"`
	Expiry                   int64             `json:"expiry,omitempty"`
	EarliestExercise         int64             `json:"earliestExercise,omitempty"`
	BorrowCap                string            `json:"borrowCap"`
	Oracle                   string            `json:"oracle"`
	PremiumTokenIsUnderlying bool              `json:"premiumTokenIsUnderlying,omitempty"`
	VotingDelegationAllowed  bool              `json:"votingDelegationAllowed,omitempty"`
	DelegateRegistry         string            `json:"delegateRegistry,omitempty"`
	Schedule                 *scheduleJSON     `json:"schedule,omitempty"`
	Supply                   string            `json:"supply"`
	PremiumPaid              string            `json:"premiumPaid"`
	TotalBorrowed            string            `json:"totalBorrowed"`
	BorrowedBy               map[string]string `json:"borrowedBy,omitempty"`
	CreatedAt                int64             `json:"createdAt"`
	MatchedAt                int64             `json:"matchedAt,omitempty"`
}

type bidPreviewJSON struct {
	Status           string `json:"status"`
	Strike           string `json:"strike,omitempty"`
	Expiry           int64  `json:"expiry,omitempty"`
	EarliestExercise int64  `json:"earliestExercise,omitempty"`
	Premium          string `json:"premium,omitempty"`
	PremiumToken     string `json:"premiumToken,omitempty"`
	OracleSpot       string `json:"oracleSpot,omitempty"`
	ProtocolFee      string `json:"protocolFee,omitempty"`
	PartnerFee       string `json:"partnerFee,omitempty"`
}

type quotePreviewJSON struct {
	Status       string `json:"status"`
	Hash         string `json:"hash"`
	Quoter       string `json:"quoter,omitempty"`
	Premium      string `json:"premium,omitempty"`
	PremiumToken string `json:"premiumToken,omitempty"`
	ProtocolFee  string `json:"protocolFee,omitempty"`
	PartnerFee   string `json:"partnerFee,omitempty"`
}

type exerciseResultJSON struct {
	PayToken  string `json:"payToken"`
	Cost      string `json:"cost"`
	Fee       string `json:"fee"`
	Delivered string `json:"delivered"`
}

type borrowResultJSON struct {
	CollateralToken string `json:"collateralToken"`
	Collateral      string `json:"collateral"`
	Fee             string `json:"fee"`
}

type repayResultJSON struct {
	UnlockedToken string `json:"unlockedToken"`
	Unlocked      string `json:"unlocked"`
}

type eventJSON struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createAuctionParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	underlying, err := parseAddress(params.Underlying)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	settlement, err := parseAddress(params.Settlement)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	notional, err := parsePositiveBigInt(params.Notional)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	adv, err := parseAdvanced(params.Advanced)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	sched, err := parseSchedule(params.Schedule)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	esc, err := s.registry.CreateAuction(owner, underlying, settlement, notional, adv, sched)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

func (s *Server) handlePreviewBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params previewBidParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	relBid, err := parsePositiveBigInt(params.RelBid)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	refSpot, err := parsePositiveBigInt(params.RefSpot)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	partner, err := parseOptionalAddress(params.Partner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	oracleData, err := parseHexBytes(params.OracleData)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	pv, err := s.registry.PreviewBid(id, relBid, refSpot, oracleData, partner)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bidPreviewToJSON(pv))
}

func (s *Server) handleBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bidParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	partner, err := parseOptionalAddress(params.Partner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	relBid, err := parsePositiveBigInt(params.RelBid)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	refSpot, err := parsePositiveBigInt(params.RefSpot)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	oracleData, err := parseHexBytes(params.OracleData)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	pv, err := s.registry.Bid(id, bidder, receiver, partner, relBid, refSpot, oracleData)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bidPreviewToJSON(pv))
}

func (s *Server) handlePreviewTakeQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params previewTakeQuoteParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	partner, err := parseOptionalAddress(params.Partner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	terms, err := parseTerms(params.Terms)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	quote, err := parseQuote(params.Quote)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	pv, err := s.registry.PreviewTakeQuote(owner, terms, quote, partner)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, quotePreviewToJSON(pv))
}

func (s *Server) handleTakeQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params takeQuoteParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	partner, err := parseOptionalAddress(params.Partner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	terms, err := parseTerms(params.Terms)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	quote, err := parseQuote(params.Quote)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	esc, pv, err := s.registry.TakeQuote(owner, receiver, partner, terms, quote)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, struct {
		Escrow  *escrowJSON       `json:"escrow"`
		Preview *quotePreviewJSON `json:"preview"`
	}{escrowToJSON(esc), quotePreviewToJSON(pv)})
}

func (s *Server) handleDirectMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params directMintParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	terms, err := parseTerms(params.Terms)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	esc, err := s.registry.DirectMint(owner, receiver, terms)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

func (s *Server) handleExercise(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params exerciseParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	oracleData, err := parseHexBytes(params.OracleData)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	res, err := s.registry.Exercise(id, caller, receiver, amount, params.PayInSettlement, oracleData)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, exerciseResultJSON{
		PayToken:  res.PayToken.Hex(),
		Cost:      bigString(res.Cost),
		Fee:       bigString(res.Fee),
		Delivered: bigString(res.Delivered),
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params borrowParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	res, err := s.registry.Borrow(id, borrower, receiver, amount)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, borrowResultJSON{
		CollateralToken: res.CollateralToken.Hex(),
		Collateral:      bigString(res.Collateral),
		Fee:             bigString(res.Fee),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params borrowParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	receiver, err := parseOptionalAddress(params.Receiver)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	res, err := s.registry.Repay(id, borrower, receiver, amount)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, repayResultJSON{
		UnlockedToken: res.UnlockedToken.Hex(),
		Unlocked:      bigString(res.Unlocked),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	to, err := parseOptionalAddress(params.To)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.registry.Withdraw(id, caller, to, token, amount); err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleSweepExpired(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params sweepParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	to, err := parseOptionalAddress(params.To)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.registry.SweepExpired(id, caller, to); err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferOwnershipParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	newOwner, err := parseAddress(params.NewOwner)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	esc, err := s.registry.TransferOwnership(id, caller, newOwner)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

func (s *Server) handleTransferPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferPositionParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.registry.TransferPosition(id, from, to, amount); err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleDelegateVoting(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params delegateVotingParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	delegate, err := parseAddress(params.Delegate)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.registry.DelegateVoting(id, caller, delegate); err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleSetQuotePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quotePauseParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	if err := s.registry.SetQuotePause(caller, params.Paused); err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": params.Paused})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	esc, err := s.registry.Escrow(id)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(esc))
}

func (s *Server) handleEscrowList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	escrows, err := s.registry.List()
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	out := make([]*escrowJSON, 0, len(escrows))
	for _, esc := range escrows {
		out = append(out, escrowToJSON(esc))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handlePositionBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionBalanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	holder, err := parseAddress(params.Holder)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	balance, err := s.registry.PositionBalance(id, holder)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": bigString(balance)})
}

func (s *Server) handleAuctionAsk(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeOptionsParamError(w, req.ID, err)
		return
	}
	ask, err := s.registry.AuctionAsk(id)
	if err != nil {
		writeOptionsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"ask": bigString(ask)})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.feed == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeOptionsInternal, "internal_error", "event feed not configured")
		return
	}
	var params eventsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeOptionsParamError(w, req.ID, err)
			return
		}
	}
	filter := ""
	if raw := strings.TrimSpace(params.EscrowID); raw != "" {
		id, err := parseEscrowID(raw)
		if err != nil {
			writeOptionsParamError(w, req.ID, err)
			return
		}
		filter = formatEscrowID(id)
	}
	entries := s.feed.Since(params.AfterSeq)
	out := make([]eventJSON, 0, len(entries))
	for _, entry := range entries {
		if filter != "" {
			payload := eventPayload(entry.Event)
			if payload == nil {
				continue
			}
			if id, ok := payload.Attribute("escrowId"); !ok || id != filter {
				continue
			}
		}
		out = append(out, bufferedEventToJSON(entry))
	}
	writeResult(w, req.ID, out)
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, into interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeOptionsInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], into); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOptionsInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func writeOptionsParamError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeOptionsInvalidParams, "invalid_params", err.Error())
}

// writeOptionsError maps engine and registry sentinels onto the JSON-RPC
// error surface.
func writeOptionsError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeOptionsInternal
	message := "internal_error"
	switch {
	case errors.Is(err, registry.ErrUnregistered), errors.Is(err, options.ErrEscrowNotFound):
		status = http.StatusNotFound
		code = codeOptionsNotFound
		message = "not_found"
	case errors.Is(err, options.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeOptionsForbidden
		message = "forbidden"
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, options.ErrEscrowExists),
		errors.Is(err, options.ErrNotMatched),
		errors.Is(err, options.ErrOptionMinted),
		errors.Is(err, options.ErrPremiumTooLow),
		errors.Is(err, options.ErrSpotPriceTooLow),
		errors.Is(err, options.ErrSpotOutOfRange),
		errors.Is(err, options.ErrInsufficientFunds),
		errors.Is(err, options.ErrPremiumUnpayable),
		errors.Is(err, options.ErrQuoteExpired),
		errors.Is(err, options.ErrQuoteAlreadyExecuted),
		errors.Is(err, options.ErrQuotesPaused),
		errors.Is(err, options.ErrInvalidExerciseTime),
		errors.Is(err, options.ErrInvalidExerciseCost),
		errors.Is(err, options.ErrInsufficientOptions),
		errors.Is(err, options.ErrBorrowingNotAllowed),
		errors.Is(err, options.ErrInvalidBorrowTime),
		errors.Is(err, options.ErrBorrowCapExceeded),
		errors.Is(err, options.ErrInvalidRepayTime),
		errors.Is(err, options.ErrNothingBorrowed),
		errors.Is(err, options.ErrOptionActive):
		status = http.StatusConflict
		code = codeOptionsConflict
		message = "conflict"
	case errors.Is(err, options.ErrNotAnAuction),
		errors.Is(err, options.ErrInvalidQuote),
		errors.Is(err, options.ErrInvalidSignature),
		errors.Is(err, options.ErrSameToken),
		errors.Is(err, options.ErrZeroAddressToken),
		errors.Is(err, options.ErrZeroNotional),
		errors.Is(err, options.ErrZeroStrike),
		errors.Is(err, options.ErrZeroOracle),
		errors.Is(err, options.ErrExerciseWindow),
		errors.Is(err, options.ErrExpiryInPast),
		errors.Is(err, options.ErrPremiumBounds),
		errors.Is(err, options.ErrSpotBounds),
		errors.Is(err, options.ErrBorrowCapTooHigh),
		errors.Is(err, options.ErrTenorInvalid),
		errors.Is(err, options.ErrDecayInvalid),
		errors.Is(err, options.ErrDelegateeRequired),
		errors.Is(err, options.ErrInvalidExerciseAmount),
		errors.Is(err, options.ErrInvalidBorrowAmount),
		errors.Is(err, options.ErrInvalidRepayAmount),
		errors.Is(err, options.ErrInvalidWithdrawal),
		errors.Is(err, options.ErrInvalidNewOwner),
		errors.Is(err, options.ErrSameOwner),
		errors.Is(err, options.ErrDelegationNotAllowed),
		errors.Is(err, options.ErrInvalidTransfer):
		status = http.StatusBadRequest
		code = codeOptionsInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}

func escrowToJSON(esc *options.Escrow) *escrowJSON {
	if esc == nil {
		return nil
	}
	out := &escrowJSON{
		ID:                       formatEscrowID(esc.ID),
		Index:                    esc.Index,
		Name:                     esc.PositionName(),
		Symbol:                   esc.PositionSymbol(),
		Owner:                    esc.Owner.Hex(),
		State:                    esc.State.String(),
		Vault:                    options.VaultAddress(esc.ID).Hex(),
		Underlying:               esc.Terms.Underlying.Hex(),
		Settlement:               esc.Terms.Settlement.Hex(),
		Notional:                 bigString(esc.Terms.Notional),
		Expiry:                   esc.Terms.Expiry,
		EarliestExercise:         esc.Terms.EarliestExercise,
		BorrowCap:                bigString(esc.Terms.Advanced.BorrowCap),
		Oracle:                   esc.Terms.Advanced.Oracle.Hex(),
		PremiumTokenIsUnderlying: esc.Terms.Advanced.PremiumTokenIsUnderlying,
		VotingDelegationAllowed:  esc.Terms.Advanced.VotingDelegationAllowed,
		Supply:                   bigString(esc.Supply),
		PremiumPaid:              bigString(esc.PremiumPaid),
		TotalBorrowed:            bigString(esc.TotalBorrowed),
		CreatedAt:                esc.CreatedAt,
		MatchedAt:                esc.MatchedAt,
	}
	if esc.Terms.Strike != nil {
		out.Strike = esc.Terms.Strike.String()
	}
	if esc.Terms.Advanced.DelegateRegistry != (common.Address{}) {
		out.DelegateRegistry = esc.Terms.Advanced.DelegateRegistry.Hex()
	}
	if esc.Schedule != nil {
		out.Schedule = &scheduleJSON{
			RelStrike:             bigString(esc.Schedule.RelStrike),
			Tenor:                 esc.Schedule.Tenor,
			EarliestExerciseTenor: esc.Schedule.EarliestExerciseTenor,
			DecayStartTime:        esc.Schedule.DecayStartTime,
			DecayDuration:         esc.Schedule.DecayDuration,
			RelPremiumStart:       bigString(esc.Schedule.RelPremiumStart),
			RelPremiumFloor:       bigString(esc.Schedule.RelPremiumFloor),
			MinSpot:               bigString(esc.Schedule.MinSpot),
			MaxSpot:               bigString(esc.Schedule.MaxSpot),
		}
	}
	if len(esc.BorrowedBy) > 0 {
		out.BorrowedBy = make(map[string]string, len(esc.BorrowedBy))
		for borrower, debt := range esc.BorrowedBy {
			out.BorrowedBy[borrower.Hex()] = bigString(debt)
		}
	}
	return out
}

func bidPreviewToJSON(pv *options.BidPreview) *bidPreviewJSON {
	if pv == nil {
		return nil
	}
	out := &bidPreviewJSON{
		Status:           pv.Status.String(),
		Expiry:           pv.Expiry,
		EarliestExercise: pv.EarliestExercise,
	}
	if pv.Strike != nil {
		out.Strike = pv.Strike.String()
	}
	if pv.Premium != nil {
		out.Premium = pv.Premium.String()
	}
	if pv.PremiumToken != (common.Address{}) {
		out.PremiumToken = pv.PremiumToken.Hex()
	}
	if pv.OracleSpot != nil {
		out.OracleSpot = pv.OracleSpot.String()
	}
	if pv.ProtocolFee != nil {
		out.ProtocolFee = pv.ProtocolFee.String()
	}
	if pv.PartnerFee != nil {
		out.PartnerFee = pv.PartnerFee.String()
	}
	return out
}

func quotePreviewToJSON(pv *options.QuotePreview) *quotePreviewJSON {
	if pv == nil {
		return nil
	}
	out := &quotePreviewJSON{
		Status: pv.Status.String(),
		Hash:   formatEscrowID(pv.Hash),
	}
	if pv.Quoter != (common.Address{}) {
		out.Quoter = pv.Quoter.Hex()
	}
	if pv.Premium != nil {
		out.Premium = pv.Premium.String()
	}
	if pv.PremiumToken != (common.Address{}) {
		out.PremiumToken = pv.PremiumToken.Hex()
	}
	if pv.ProtocolFee != nil {
		out.ProtocolFee = pv.ProtocolFee.String()
	}
	if pv.PartnerFee != nil {
		out.PartnerFee = pv.PartnerFee.String()
	}
	return out
}

func bufferedEventToJSON(entry events.BufferedEvent) eventJSON {
	out := eventJSON{Seq: entry.Seq}
	if entry.Event == nil {
		return out
	}
	out.Type = entry.Event.EventType()
	if payload := eventPayload(entry.Event); payload != nil {
		out.Type = payload.Type
		out.Attributes = payload.Attributes
	}
	return out
}

func parseAdvanced(params advancedParams) (options.AdvancedSettings, error) {
	adv := options.AdvancedSettings{
		PremiumTokenIsUnderlying: params.PremiumTokenIsUnderlying,
		VotingDelegationAllowed:  params.VotingDelegationAllowed,
	}
	oracleAddr, err := parseAddress(params.Oracle)
	if err != nil {
		return adv, err
	}
	adv.Oracle = oracleAddr
	borrowCap, err := parseOptionalBigInt(params.BorrowCap)
	if err != nil {
		return adv, err
	}
	adv.BorrowCap = borrowCap
	delegateRegistry, err := parseOptionalAddress(params.DelegateRegistry)
	if err != nil {
		return adv, err
	}
	adv.DelegateRegistry = delegateRegistry
	return adv, nil
}

func parseSchedule(params scheduleParams) (*options.AuctionSchedule, error) {
	relStrike, err := parsePositiveBigInt(params.RelStrike)
	if err != nil {
		return nil, err
	}
	start, err := parsePositiveBigInt(params.RelPremiumStart)
	if err != nil {
		return nil, err
	}
	floor, err := parsePositiveBigInt(params.RelPremiumFloor)
	if err != nil {
		return nil, err
	}
	minSpot, err := parsePositiveBigInt(params.MinSpot)
	if err != nil {
		return nil, err
	}
	maxSpot, err := parsePositiveBigInt(params.MaxSpot)
	if err != nil {
		return nil, err
	}
	return &options.AuctionSchedule{
		RelStrike:             relStrike,
		Tenor:                 params.Tenor,
		EarliestExerciseTenor: params.EarliestExerciseTenor,
		DecayStartTime:        params.DecayStartTime,
		DecayDuration:         params.DecayDuration,
		RelPremiumStart:       start,
		RelPremiumFloor:       floor,
		MinSpot:               minSpot,
		MaxSpot:               maxSpot,
	}, nil
}

func parseTerms(params termsParams) (options.OptionTerms, error) {
	var terms options.OptionTerms
	underlying, err := parseAddress(params.Underlying)
	if err != nil {
		return terms, err
	}
	settlement, err := parseAddress(params.Settlement)
	if err != nil {
		return terms, err
	}
	notional, err := parsePositiveBigInt(params.Notional)
	if err != nil {
		return terms, err
	}
	strike, err := parsePositiveBigInt(params.Strike)
	if err != nil {
		return terms, err
	}
	adv, err := parseAdvanced(params.Advanced)
	if err != nil {
		return terms, err
	}
	terms = options.OptionTerms{
		Underlying:       underlying,
		Settlement:       settlement,
		Notional:         notional,
		Strike:           strike,
		Expiry:           params.Expiry,
		EarliestExercise: params.EarliestExercise,
		Advanced:         adv,
	}
	return terms, nil
}

func parseQuote(params quoteParams) (*options.RFQQuote, error) {
	premium, err := parsePositiveBigInt(params.Premium)
	if err != nil {
		return nil, err
	}
	quoter, err := parseOptionalAddress(params.Quoter)
	if err != nil {
		return nil, err
	}
	signature, err := parseHexBytes(params.Signature)
	if err != nil {
		return nil, err
	}
	return &options.RFQQuote{
		Premium:    premium,
		ValidUntil: params.ValidUntil,
		Quoter:     quoter,
		Signature:  signature,
	}, nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, errors.New("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.New("invalid hex address")
	}
	return common.HexToAddress(trimmed), nil
}

func parseOptionalAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, nil
	}
	return parseAddress(trimmed)
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("invalid integer amount")
	}
	if parsed.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return parsed, nil
}

func parseOptionalBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("invalid integer amount")
	}
	if parsed.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return parsed, nil
}

func parseEscrowID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	if len(trimmed) != 64 {
		return id, errors.New("escrow id must be 32 bytes of hex")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, errors.New("escrow id must be 32 bytes of hex")
	}
	copy(id[:], raw)
	return id, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	trimmed = strings.TrimPrefix(trimmed, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("invalid hex payload")
	}
	return raw, nil
}

func formatEscrowID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// eventPayload returns a detached copy of the structured payload carried by
// evt, so response encoding never aliases the emitter's attribute map.
func eventPayload(evt interface{ EventType() string }) *types.Event {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		return carrier.Event().Copy()
	}
	return nil
}
