package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerResponseSource = "X-Options-Gateway-Source"
	maxRequestBody       = 1 << 20 // 1 MiB
	nodeCallTimeout      = 15 * time.Second
)

// Server is the partner-facing HTTP front-end for the options protocol.
type Server struct {
	authenticator *Authenticator
	node          NodeClient
	store         *SQLiteStore
	queue         *WebhookQueue
	partners      map[string]PartnerConfig
	nowFn         func() time.Time
}

func NewServer(auth *Authenticator, node NodeClient, store *SQLiteStore, queue *WebhookQueue, partners map[string]PartnerConfig) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if queue == nil {
		queue = NewWebhookQueue()
	}
	return &Server{
		authenticator: auth,
		node:          node,
		store:         store,
		queue:         queue,
		partners:      partners,
		nowFn:         time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/healthz":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case r.Method == http.MethodPost && path == "/v1/auctions":
		s.handleMutation(w, r, http.StatusCreated, s.createAuction)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/auctions/") && strings.HasSuffix(path, "/bids"):
		id := strings.Trim(strings.TrimSuffix(strings.TrimPrefix(path, "/v1/auctions/"), "/bids"), "/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		s.handleMutation(w, r, http.StatusOK, s.withPathID(id, s.placeBid))
	case r.Method == http.MethodPost && path == "/v1/quotes/take":
		s.handleMutation(w, r, http.StatusCreated, s.takeQuote)
	case strings.HasPrefix(path, "/v1/escrows/"):
		s.routeEscrow(w, r)
	case path == "/v1/webhooks" || strings.HasPrefix(path, "/v1/webhooks/"):
		s.routeWebhooks(w, r)
	case r.Method == http.MethodGet && path == "/v1/events":
		s.handleRecentEvents(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) routeEscrow(w http.ResponseWriter, r *http.Request) {
	id, action := splitEscrowPath(r.URL.Path)
	if id == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("escrow id required"))
		return
	}
	if r.Method == http.MethodGet && action == "" {
		s.handleEscrowGet(w, r, id)
		return
	}
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "exercise":
		s.handleMutation(w, r, http.StatusOK, s.withPathID(id, s.exercise))
	case "borrow":
		s.handleMutation(w, r, http.StatusOK, s.withPathID(id, s.borrow))
	case "repay":
		s.handleMutation(w, r, http.StatusOK, s.withPathID(id, s.repay))
	case "withdraw":
		s.handleMutation(w, r, http.StatusOK, s.withPathID(id, s.withdraw))
	default:
		http.NotFound(w, r)
	}
}

// splitEscrowPath breaks /v1/escrows/{id}[/{action}] into its parts.
func splitEscrowPath(path string) (string, string) {
	rest := strings.TrimPrefix(path, "/v1/escrows/")
	parts := strings.SplitN(rest, "/", 2)
	id := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return id, ""
	}
	return id, strings.TrimSpace(parts[1])
}

// mutationFunc performs the domain work of a mutating route. It receives the
// authenticated principal and the raw body, and returns the response payload
// or an error plus the status to write it with.
type mutationFunc func(ctx context.Context, principal *Principal, body []byte) ([]byte, int, error)

// withPathID adapts an id-scoped mutation to the shared handler flow.
func (s *Server) withPathID(id string, fn func(ctx context.Context, principal *Principal, id string, body []byte) ([]byte, int, error)) mutationFunc {
	return func(ctx context.Context, principal *Principal, body []byte) ([]byte, int, error) {
		return fn(ctx, principal, id, body)
	}
}

// handleMutation runs the shared flow for every mutating route: read and cap
// the body, authenticate, require an idempotency key, replay cached
// responses, invoke fn, persist the result, and audit every exit path.
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, successStatus int, fn mutationFunc) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	principal, err := s.authenticator.Authenticate(r, body)
	if err != nil {
		s.writeAuthError(w, err)
		s.audit(r.Context(), principal, r, body, http.StatusUnauthorized, errorBody(err))
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		s.audit(r.Context(), principal, r, body, http.StatusBadRequest, []byte(`{"error":"missing idempotency key"}`))
		return
	}
	requestHash := hashRequest(r.Method, canonicalRequestPath(r), body)
	if cached, cacheErr := s.store.LookupIdempotency(r.Context(), principal.APIKey, key, requestHash); cacheErr == nil && cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.StatusCode)
		_, _ = w.Write(cached.ResponseBody)
		s.audit(r.Context(), principal, r, body, cached.StatusCode, cached.ResponseBody)
		return
	} else if cacheErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(cacheErr, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, cacheErr)
		s.audit(r.Context(), principal, r, body, status, errorBody(cacheErr))
		return
	}

	payload, errStatus, err := fn(r.Context(), principal, body)
	if err != nil {
		s.writeError(w, errStatus, err)
		s.audit(r.Context(), principal, r, body, errStatus, errorBody(err))
		return
	}

	if err := s.store.SaveIdempotency(r.Context(), principal.APIKey, key, requestHash, successStatus, payload); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, errorBody(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(successStatus)
	_, _ = w.Write(payload)
	s.audit(r.Context(), principal, r, body, successStatus, payload)
}

func (s *Server) createAuction(ctx context.Context, _ *Principal, body []byte) ([]byte, int, error) {
	var req CreateAuctionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if err := validateCreateAuction(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.CreateAuction(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) placeBid(ctx context.Context, principal *Principal, id string, body []byte) ([]byte, int, error) {
	var req BidRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	// The auction id rides in the path; the body value, if any, loses.
	req.ID = id
	if err := validateBid(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.Partner = s.defaultPartner(principal, req.Partner)
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.Bid(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) takeQuote(ctx context.Context, principal *Principal, body []byte) ([]byte, int, error) {
	var req TakeQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if err := validateTakeQuote(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.Partner = s.defaultPartner(principal, req.Partner)
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.TakeQuote(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) exercise(ctx context.Context, _ *Principal, id string, body []byte) ([]byte, int, error) {
	var req ExerciseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	req.ID = id
	if err := validateExercise(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.Exercise(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) borrow(ctx context.Context, _ *Principal, id string, body []byte) ([]byte, int, error) {
	var req BorrowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	req.ID = id
	if err := validateBorrow(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.Borrow(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) repay(ctx context.Context, _ *Principal, id string, body []byte) ([]byte, int, error) {
	var req BorrowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	req.ID = id
	if err := validateBorrow(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.Repay(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

func (s *Server) withdraw(ctx context.Context, _ *Principal, id string, body []byte) ([]byte, int, error) {
	var req WithdrawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err)
	}
	req.ID = id
	if err := validateWithdraw(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	callCtx, cancel := context.WithTimeout(ctx, nodeCallTimeout)
	defer cancel()
	result, err := s.node.Withdraw(callCtx, req)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return result, 0, nil
}

// defaultPartner fills in the integrator's configured fee partner when the
// request leaves the field blank.
func (s *Server) defaultPartner(principal *Principal, requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	if principal == nil {
		return requested
	}
	if partner, ok := s.partners[principal.APIKey]; ok {
		return partner.Address
	}
	return requested
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	result, err := s.node.EscrowByID(ctx, id)
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(result)
		return
	}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		s.writeError(w, errorStatus(err), err)
		return
	}
	// Node unreachable; serve the local projection when we have one.
	cached, cacheErr := s.store.GetEscrow(r.Context(), normalizeHex(id))
	if cacheErr != nil || cached == nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	payload, marshalErr := json.Marshal(cached)
	if marshalErr != nil {
		s.writeError(w, http.StatusInternalServerError, marshalErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerResponseSource, "cache")
	_, _ = w.Write(payload)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	events := s.queue.Events()
	payload, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) routeWebhooks(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	principal, err := s.authenticator.Authenticate(r, body)
	if err != nil {
		s.writeAuthError(w, err)
		s.audit(r.Context(), principal, r, body, http.StatusUnauthorized, errorBody(err))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/webhooks")
	rest = strings.TrimPrefix(rest, "/")
	switch {
	case r.Method == http.MethodPost && rest == "":
		s.handleWebhookCreate(w, r, principal, body)
	case r.Method == http.MethodGet && rest == "":
		s.handleWebhookList(w, r, principal)
	case r.Method == http.MethodDelete && rest != "" && !strings.Contains(rest, "/"):
		s.handleWebhookDelete(w, r, principal, rest)
	case r.Method == http.MethodGet && strings.HasSuffix(rest, "/attempts"):
		s.handleWebhookAttempts(w, r, principal, strings.TrimSuffix(rest, "/attempts"))
	default:
		http.NotFound(w, r)
	}
}

type webhookCreateRequest struct {
	URL           string   `json:"url"`
	Secret        string   `json:"secret"`
	Events        []string `json:"events"`
	RatePerMinute int      `json:"ratePerMinute"`
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request, principal *Principal, body []byte) {
	var req webhookCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if err := validateWebhookCreate(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	sub := WebhookSubscription{
		ID:            uuid.NewString(),
		APIKey:        principal.APIKey,
		URL:           req.URL,
		Secret:        req.Secret,
		Events:        req.Events,
		RatePerMinute: req.RatePerMinute,
		CreatedAt:     s.nowFn().UTC(),
	}
	if sub.RatePerMinute <= 0 {
		sub.RatePerMinute = 60
	}
	if err := s.store.InsertWebhook(r.Context(), sub); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(payload)
	s.audit(r.Context(), principal, r, body, http.StatusCreated, payload)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request, principal *Principal) {
	subs, err := s.store.ListWebhooksByAPIKey(r.Context(), principal.APIKey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if subs == nil {
		subs = []WebhookSubscription{}
	}
	payload, err := json.Marshal(map[string]interface{}{"webhooks": subs})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request, principal *Principal, id string) {
	deleted, err := s.store.DeleteWebhook(r.Context(), principal.APIKey, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, errors.New("webhook not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.audit(r.Context(), principal, r, nil, http.StatusNoContent, nil)
}

func (s *Server) handleWebhookAttempts(w http.ResponseWriter, r *http.Request, principal *Principal, id string) {
	subs, err := s.store.ListWebhooksByAPIKey(r.Context(), principal.APIKey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	owned := false
	for _, sub := range subs {
		if sub.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		s.writeError(w, http.StatusNotFound, errors.New("webhook not found"))
		return
	}
	attempts, err := s.store.ListWebhookAttempts(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type attemptJSON struct {
		EventType     string `json:"eventType"`
		EventSequence uint64 `json:"eventSequence"`
		Attempt       int    `json:"attempt"`
		Status        string `json:"status"`
		Error         string `json:"error,omitempty"`
		NextAttempt   string `json:"nextAttempt,omitempty"`
		CreatedAt     string `json:"createdAt,omitempty"`
	}
	out := make([]attemptJSON, 0, len(attempts))
	for _, attempt := range attempts {
		entry := attemptJSON{
			EventType:     attempt.EventType,
			EventSequence: attempt.EventSequence,
			Attempt:       attempt.Attempt,
			Status:        attempt.Status,
			Error:         attempt.Error,
		}
		if !attempt.NextAttempt.IsZero() {
			entry.NextAttempt = attempt.NextAttempt.UTC().Format(time.RFC3339)
		}
		if !attempt.CreatedAt.IsZero() {
			entry.CreatedAt = attempt.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	payload, err := json.Marshal(map[string]interface{}{"attempts": out})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(err))
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(errorBody(err))
}

func errorBody(err error) []byte {
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	return []byte(fmt.Sprintf(`{"error":"%s"}`, msg))
}

func (s *Server) audit(ctx context.Context, principal *Principal, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	apiKey := ""
	if principal != nil {
		apiKey = principal.APIKey
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           canonicalRequestPath(r),
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	_ = s.store.InsertAuditLog(ctx, entry)
}

// errorStatus maps node failures onto HTTP statuses. Unknown failures read
// as an upstream problem.
func errorStatus(err error) int {
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		return http.StatusBadGateway
	}
	switch nodeErr.Code {
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
	default:
		return http.StatusBadGateway
	}
}

func validateCreateAuction(req CreateAuctionRequest) error {
	if strings.TrimSpace(req.Owner) == "" {
		return errors.New("owner is required")
	}
	if strings.TrimSpace(req.Underlying) == "" {
		return errors.New("underlying is required")
	}
	if strings.TrimSpace(req.Settlement) == "" {
		return errors.New("settlement is required")
	}
	if strings.TrimSpace(req.Notional) == "" {
		return errors.New("notional is required")
	}
	if len(req.Advanced) == 0 {
		return errors.New("advanced config is required")
	}
	if len(req.Schedule) == 0 {
		return errors.New("schedule is required")
	}
	return nil
}

func validateBid(req BidRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("auction id is required")
	}
	if strings.TrimSpace(req.Bidder) == "" {
		return errors.New("bidder is required")
	}
	if strings.TrimSpace(req.RelBid) == "" {
		return errors.New("relBid is required")
	}
	if strings.TrimSpace(req.RefSpot) == "" {
		return errors.New("refSpot is required")
	}
	return nil
}

func validateTakeQuote(req TakeQuoteRequest) error {
	if strings.TrimSpace(req.Owner) == "" {
		return errors.New("owner is required")
	}
	if len(req.Terms) == 0 {
		return errors.New("terms are required")
	}
	if len(req.Quote) == 0 {
		return errors.New("quote is required")
	}
	return nil
}

func validateExercise(req ExerciseRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("escrow id is required")
	}
	if strings.TrimSpace(req.Caller) == "" {
		return errors.New("caller is required")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return errors.New("amount is required")
	}
	return nil
}

func validateBorrow(req BorrowRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("escrow id is required")
	}
	if strings.TrimSpace(req.Borrower) == "" {
		return errors.New("borrower is required")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return errors.New("amount is required")
	}
	return nil
}

func validateWithdraw(req WithdrawRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("escrow id is required")
	}
	if strings.TrimSpace(req.Caller) == "" {
		return errors.New("caller is required")
	}
	if strings.TrimSpace(req.Token) == "" {
		return errors.New("token is required")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return errors.New("amount is required")
	}
	return nil
}

func validateWebhookCreate(req webhookCreateRequest) error {
	trimmed := strings.TrimSpace(req.URL)
	if trimmed == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("url must be a valid http or https endpoint")
	}
	if strings.TrimSpace(req.Secret) == "" {
		return errors.New("secret is required")
	}
	if len(req.Events) == 0 {
		return errors.New("at least one event type is required")
	}
	for _, evt := range req.Events {
		if strings.TrimSpace(evt) == "" {
			return errors.New("event types must be non-empty")
		}
	}
	return nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
