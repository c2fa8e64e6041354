package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kongswap/kong-backend/internal/claims"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/settlement"
	"github.com/kongswap/kong-backend/internal/ws"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SwapService is the settlement surface the API drives.
type SwapService interface {
	Swap(ctx context.Context, req settlement.SwapRequest) (settlement.SwapReply, error)
	SwapAsync(ctx context.Context, req settlement.SwapRequest) (uint64, error)
	Quote(ctx context.Context, payToken string, payAmount natmath.Nat, receiveToken string) (settlement.SwapAmountsReply, error)
	AddPool(ctx context.Context, req settlement.AddPoolRequest) (settlement.AddPoolReply, error)
	SetMaintenance(on bool)
	Maintenance() bool
}

type ClaimService interface {
	Claim(ctx context.Context, caller string, claimID uint64) (claims.ClaimReply, error)
}

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	swaps    SwapService
	claims   ClaimService
	registry *registry.Registry
	ledger   *ledger.Ledger
	wsHub    *ws.Hub
	auth     *Authenticator
	checks   []ReadyCheck
	logger   *zap.SugaredLogger
}

func NewHandler(
	swaps SwapService,
	claimSvc ClaimService,
	reg *registry.Registry,
	led *ledger.Ledger,
	wsHub *ws.Hub,
	auth *Authenticator,
	logger *zap.SugaredLogger,
	checks ...ReadyCheck,
) *Handler {
	return &Handler{
		swaps:    swaps,
		claims:   claimSvc,
		registry: reg,
		ledger:   led,
		wsHub:    wsHub,
		auth:     auth,
		checks:   checks,
		logger:   logger,
	}
}

// Swap settles a swap synchronously. A failed request still answers with its
// request id and terminal status so the caller can follow up on claims.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var dto SwapRequestDTO
	if err := decodeBody(r, &dto); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := toSwapRequest(caller, dto)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	reply, err := h.swaps.Swap(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) SwapAsync(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var dto SwapRequestDTO
	if err := decodeBody(r, &dto); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := toSwapRequest(caller, dto)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.swaps.SwapAsync(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SwapAsyncResponse{RequestID: id})
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payToken := q.Get("pay_token")
	receiveToken := q.Get("receive_token")
	if payToken == "" || receiveToken == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "pay_token and receive_token are required")
		return
	}
	amount, err := natmath.Parse(q.Get("pay_amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "pay_amount must be a non-negative integer")
		return
	}

	reply, err := h.swaps.Quote(r.Context(), payToken, amount, receiveToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ListRequests returns the caller's requests, newest first.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := h.callerUser(r)
	if !ok {
		writeJSON(w, http.StatusOK, []ledger.Request{})
		return
	}
	requests, err := h.ledger.RequestsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID > requests[j].ID })
	writeJSON(w, http.StatusOK, requests)
}

// GetRequest returns one request with its status history. Only the owner or
// an admin may read it.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uint64Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.ledger.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.canRead(r, req.UserID) {
		// indistinguishable from a missing request
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("request #%d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	user, ok := h.callerUser(r)
	if !ok {
		writeJSON(w, http.StatusOK, []ledger.Claim{})
		return
	}
	list, err := h.ledger.ClaimsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ClaimToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	id, err := uint64Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply, err := h.claims.Claim(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, &claimError{reply: reply, err: err})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Tokens())
}

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Pools())
}

func (h *Handler) ListTxs(w http.ResponseWriter, r *http.Request) {
	user, ok := h.callerUser(r)
	if !ok {
		writeJSON(w, http.StatusOK, []ledger.Tx{})
		return
	}
	txs, err := h.ledger.TxsByUser(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID > txs[j].ID })
	writeJSON(w, http.StatusOK, txs)
}

// Admin endpoints

func (h *Handler) AddToken(w http.ResponseWriter, r *http.Request) {
	var req AddTokenRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.registry.AddToken(r.Context(), registry.Token{
		Symbol:   strings.TrimSpace(req.Symbol),
		Name:     strings.TrimSpace(req.Name),
		Chain:    strings.TrimSpace(req.Chain),
		Address:  strings.TrimSpace(req.Address),
		Decimals: req.Decimals,
		Fee:      req.Fee,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *Handler) AddPool(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req AddPoolRequestDTO
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reply, err := h.swaps.AddPool(r.Context(), settlement.AddPoolRequest{
		Caller:   caller,
		Token0:   req.Token0,
		Amount0:  req.Amount0,
		Token1:   req.Token1,
		Amount1:  req.Amount1,
		LPFeeBps: req.LPFeeBps,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (h *Handler) SuspendPool(w http.ResponseWriter, r *http.Request) {
	h.setPoolSuspended(w, r, true)
}

func (h *Handler) UnsuspendPool(w http.ResponseWriter, r *http.Request) {
	h.setPoolSuspended(w, r, false)
}

func (h *Handler) setPoolSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	id, err := uint32Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pool, err := h.registry.SetPoolSuspended(r.Context(), id, suspended)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (h *Handler) RemovePool(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.registry.RemovePool(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.swaps.SetMaintenance(req.Enabled)
	writeJSON(w, http.StatusOK, MaintenanceResponse{Enabled: h.swaps.Maintenance()})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz probes every configured dependency.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "READY", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	if h.swaps.Maintenance() {
		resp.Checks["maintenance"] = "enabled"
	}
	writeJSON(w, status, resp)
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleSSE(w, r)
}

// callerUser resolves the authenticated caller's user record. ok is false
// when the caller has never transacted.
func (h *Handler) callerUser(r *http.Request) (ledger.User, bool) {
	caller, _ := CallerFrom(r.Context())
	user, err := h.ledger.UserByPrincipal(r.Context(), caller)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			h.logger.Errorw("Failed to resolve user", "principal", caller, "error", err)
		}
		return ledger.User{}, false
	}
	return user, true
}

func (h *Handler) canRead(r *http.Request, owner uint32) bool {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		return false
	}
	if h.auth != nil && h.auth.IsAdmin(caller) {
		return true
	}
	user, err := h.ledger.UserByPrincipal(r.Context(), caller)
	return err == nil && user.ID == owner
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	h.logAPIError(r, status, resp)
	writeJSON(w, status, resp)
}

func (h *Handler) logAPIError(r *http.Request, status int, resp ErrorResponse) {
	fields := []interface{}{
		"request_id", middleware.GetReqID(r.Context()),
		"code", resp.Code,
		"message", resp.Message,
		"status", status,
	}
	if resp.RequestID != 0 {
		fields = append(fields, "kong_request_id", resp.RequestID)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", fields...)
		return
	}
	h.logger.Infow("API error", fields...)
}

// toSwapRequest converts the wire form; max_slippage (percent) and
// max_slippage_bps are mutually exclusive.
func toSwapRequest(caller string, dto SwapRequestDTO) (settlement.SwapRequest, error) {
	req := settlement.SwapRequest{
		Caller:           caller,
		PayToken:         strings.TrimSpace(dto.PayToken),
		PayAmount:        dto.PayAmount,
		PayTxRef:         strings.TrimSpace(dto.PayTxID),
		ReceiveToken:     strings.TrimSpace(dto.ReceiveToken),
		ReceiveAmountMin: dto.ReceiveAmount,
		MaxSlippageBps:   dto.MaxSlippageBps,
		ReceiveAddress:   strings.TrimSpace(dto.ReceiveAddress),
		ReferredBy:       strings.TrimSpace(dto.ReferredBy),
	}
	if dto.MaxSlippage != nil {
		if dto.MaxSlippageBps != nil {
			return req, fmt.Errorf("%w: max_slippage and max_slippage_bps are mutually exclusive", errBadRequest)
		}
		bps := dto.MaxSlippage.Shift(2).Round(0)
		if bps.IsNegative() || bps.GreaterThan(decimal.NewFromInt(natmath.BasisPointDivisor)) {
			return req, fmt.Errorf("%w: max_slippage must be between 0 and 100", errBadRequest)
		}
		v := uint32(bps.IntPart())
		req.MaxSlippageBps = &v
	}
	return req, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func uint64Param(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return v, nil
}

func uint32Param(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return uint32(v), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
