package api

import (
	"errors"
	"net/http"

	"github.com/kongswap/kong-backend/internal/claims"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/settlement"
)

var errBadRequest = errors.New("bad request")

// classifyError maps a service error onto an HTTP status and a stable code.
func classifyError(err error) (int, string) {
	var se *settlement.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case settlement.KindValidation:
			return http.StatusBadRequest, "VALIDATION_ERROR"
		case settlement.KindDuplicateTransfer:
			return http.StatusConflict, "DUPLICATE_TRANSFER"
		case settlement.KindRouteNotFound:
			return http.StatusUnprocessableEntity, "ROUTE_NOT_FOUND"
		case settlement.KindLiquidity:
			return http.StatusUnprocessableEntity, "LIQUIDITY_ERROR"
		case settlement.KindExternalTransfer:
			return http.StatusBadGateway, "LEDGER_TRANSFER_FAILED"
		case settlement.KindArithmetic:
			return http.StatusInternalServerError, "ARITHMETIC_ERROR"
		case settlement.KindMaintenance:
			return http.StatusServiceUnavailable, "MAINTENANCE"
		default:
			return http.StatusInternalServerError, "INTERNAL_ERROR"
		}
	}

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, natmath.ErrInvalidNat),
		errors.Is(err, registry.ErrInvalidToken):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, claims.ErrNotClaimOwner):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, claims.ErrClaimNotFound),
		errors.Is(err, claims.ErrUnknownUser),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, registry.ErrTokenNotFound),
		errors.Is(err, registry.ErrPoolNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, claims.ErrClaimUnavailable),
		errors.Is(err, registry.ErrTokenExists),
		errors.Is(err, registry.ErrPoolExists),
		errors.Is(err, registry.ErrPoolNotEmpty):
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// errorResponse builds the body for err, carrying the request id and terminal
// status when the failure belongs to a recorded request.
func errorResponse(err error) (int, ErrorResponse) {
	status, code := classifyError(err)
	resp := ErrorResponse{Code: code, Message: err.Error()}
	var se *settlement.Error
	if errors.As(err, &se) {
		resp.RequestID = se.RequestID
		if se.RequestID != 0 {
			resp.Status = string(se.Status)
		}
	}
	var ce *claimError
	if errors.As(err, &ce) && ce.reply.RequestID != 0 {
		resp.RequestID = ce.reply.RequestID
		resp.Status = string(ce.reply.Status)
		// the attempt was recorded, so an unclassified failure came from the token ledger
		if status == http.StatusInternalServerError {
			status, resp.Code = http.StatusBadGateway, "CLAIM_FAILED"
		}
	}
	return status, resp
}

// claimError ties a failed payout to the request that recorded the attempt.
type claimError struct {
	reply claims.ClaimReply
	err   error
}

func (e *claimError) Error() string { return e.err.Error() }

func (e *claimError) Unwrap() error { return e.err }
