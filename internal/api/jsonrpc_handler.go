package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/settlement"
)

// HandleJSONRPC handles JSON-RPC 2.0 requests
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Parse JSON-RPC request
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	var (
		result interface{}
		err    error
	)
	switch req.Method {
	case MethodSwap:
		result, err = h.rpcSwap(r, &req)
	case MethodSwapAsync:
		result, err = h.rpcSwapAsync(r, &req)
	case MethodSwapAmounts:
		result, err = h.rpcSwapAmounts(r, &req)
	case MethodRequests:
		result, err = h.rpcRequests(r, &req)
	case MethodClaims:
		result, err = h.rpcClaims(r, &req)
	default:
		h.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	if err != nil {
		var pe *paramsError
		if errors.As(err, &pe) {
			h.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "Invalid params", pe.Error())
			return
		}
		_, resp := errorResponse(err)
		h.logger.Infow("JSON-RPC call failed", "method", req.Method, "code", resp.Code, "error", err)
		h.sendJSONRPCError(w, req.ID, JSONRPCServerError, resp.Message, JSONRPCErrorData{
			Code:      resp.Code,
			RequestID: resp.RequestID,
			Status:    resp.Status,
		})
		return
	}

	response := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

type paramsError struct{ err error }

func (e *paramsError) Error() string { return e.err.Error() }

// decodeParams re-encodes the loosely typed params into v.
func decodeParams(req *JSONRPCRequest, v any) error {
	if req.Params == nil {
		return nil
	}
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return &paramsError{err: fmt.Errorf("failed to parse parameters")}
	}
	if err := json.Unmarshal(paramsBytes, v); err != nil {
		return &paramsError{err: err}
	}
	return nil
}

func (h *Handler) rpcSwapRequest(r *http.Request, req *JSONRPCRequest) (settlement.SwapRequest, error) {
	var params SwapRequestDTO
	if err := decodeParams(req, &params); err != nil {
		return settlement.SwapRequest{}, err
	}
	caller, _ := CallerFrom(r.Context())
	return toSwapRequest(caller, params)
}

func (h *Handler) rpcSwap(r *http.Request, req *JSONRPCRequest) (interface{}, error) {
	sr, err := h.rpcSwapRequest(r, req)
	if err != nil {
		return nil, err
	}
	return h.swaps.Swap(r.Context(), sr)
}

func (h *Handler) rpcSwapAsync(r *http.Request, req *JSONRPCRequest) (interface{}, error) {
	sr, err := h.rpcSwapRequest(r, req)
	if err != nil {
		return nil, err
	}
	id, err := h.swaps.SwapAsync(r.Context(), sr)
	if err != nil {
		return nil, err
	}
	return SwapAsyncResponse{RequestID: id}, nil
}

func (h *Handler) rpcSwapAmounts(r *http.Request, req *JSONRPCRequest) (interface{}, error) {
	var params QuoteParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.PayToken == "" || params.ReceiveToken == "" {
		return nil, &paramsError{err: errors.New("pay_token and receive_token are required")}
	}
	return h.swaps.Quote(r.Context(), params.PayToken, params.PayAmount, params.ReceiveToken)
}

// rpcRequests returns one request when request_id is given, otherwise all of
// the caller's requests.
func (h *Handler) rpcRequests(r *http.Request, req *JSONRPCRequest) (interface{}, error) {
	var params RequestsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.RequestID != nil {
		rq, err := h.ledger.GetRequest(r.Context(), *params.RequestID)
		if err != nil {
			return nil, err
		}
		if !h.canRead(r, rq.UserID) {
			return nil, fmt.Errorf("%w: request #%d", ledger.ErrNotFound, *params.RequestID)
		}
		return []ledger.Request{rq}, nil
	}

	user, ok := h.callerUser(r)
	if !ok {
		return []ledger.Request{}, nil
	}
	requests, err := h.ledger.RequestsByUser(r.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID > requests[j].ID })
	return requests, nil
}

// rpcClaims pays out claim_id when given, otherwise lists the caller's claims.
func (h *Handler) rpcClaims(r *http.Request, req *JSONRPCRequest) (interface{}, error) {
	var params ClaimParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ClaimID != nil {
		caller, _ := CallerFrom(r.Context())
		reply, err := h.claims.Claim(r.Context(), caller, *params.ClaimID)
		if err != nil {
			return nil, &claimError{reply: reply, err: err}
		}
		return reply, nil
	}

	user, ok := h.callerUser(r)
	if !ok {
		return []ledger.Claim{}, nil
	}
	return h.ledger.ClaimsByUser(r.Context(), user.ID)
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	errorResp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}

	w.WriteHeader(http.StatusOK) // JSON-RPC errors are sent with HTTP 200
	json.NewEncoder(w).Encode(errorResp)
}
