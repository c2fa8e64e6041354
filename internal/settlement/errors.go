package settlement

import (
	"errors"
	"fmt"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/swapcalc"
)

var (
	// ErrMaintenance is returned by every mutating entry point while maintenance mode is on.
	ErrMaintenance  = errors.New("KongSwap is in maintenance mode")
	ErrShuttingDown = errors.New("settlement is shutting down")
	ErrZeroAmount   = errors.New("pay amount is zero")
)

// Kind classifies a settlement failure.
type Kind int

const (
	// KindValidation: bad address, unknown token, zero amount.
	KindValidation Kind = iota + 1
	// KindDuplicateTransfer: the pay transfer was already used by another request.
	KindDuplicateTransfer
	// KindRouteNotFound: no pool path between the tokens.
	KindRouteNotFound
	// KindLiquidity: the pool math or the caller's limits rejected the trade.
	KindLiquidity
	// KindExternalTransfer: the token ledger failed to verify or send.
	KindExternalTransfer
	// KindArithmetic: underflow or division by zero in amount math.
	KindArithmetic
	// KindInternal: the ledger or registry store failed.
	KindInternal
	// KindMaintenance: the exchange is not accepting requests.
	KindMaintenance
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicateTransfer:
		return "duplicate_transfer"
	case KindRouteNotFound:
		return "route_not_found"
	case KindLiquidity:
		return "liquidity"
	case KindExternalTransfer:
		return "external_transfer"
	case KindArithmetic:
		return "arithmetic"
	case KindInternal:
		return "internal"
	case KindMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Error is the user-visible failure of a request. Msg is the descriptive
// string; Status is the terminal status recorded for RequestID (zero for
// read-only calls).
type Error struct {
	Kind      Kind
	RequestID uint64
	Status    ledger.StatusCode
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, requestID uint64, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		RequestID: requestID,
		Status:    ledger.StatusFailed,
		Msg:       fmt.Sprintf(format, args...),
		Err:       err,
	}
}

// classify maps routing and pool errors onto the failure taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Is(err, swapcalc.ErrNoRouteFound),
		errors.Is(err, swapcalc.ErrSameToken),
		errors.Is(err, registry.ErrPoolNotFound):
		return KindRouteNotFound
	case errors.Is(err, swapcalc.ErrInsufficientLiquidity),
		errors.Is(err, swapcalc.ErrInvalidPrice),
		errors.Is(err, swapcalc.ErrSlippageExceeded),
		errors.Is(err, swapcalc.ErrReceiveAmountTooLow):
		return KindLiquidity
	case errors.Is(err, natmath.ErrUnderflow),
		errors.Is(err, natmath.ErrDivideByZero):
		return KindArithmetic
	case errors.Is(err, registry.ErrTokenNotFound):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsKind reports whether err is a settlement *Error of kind k.
func IsKind(err error, k Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}
