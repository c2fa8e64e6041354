package ledger

import "time"

// StatusCode is one step of a request's state machine. The string value is
// the stable code stored and archived; String returns the display text.
type StatusCode string

const (
	StatusStart StatusCode = "Start"

	StatusPayTokenNotFound       StatusCode = "PayTokenNotFound"
	StatusPayTxIDNotFound        StatusCode = "PayTxIdNotFound"
	StatusPayTokenAmountIsZero   StatusCode = "PayTokenAmountIsZero"
	StatusReceiveTokenNotFound   StatusCode = "ReceiveTokenNotFound"
	StatusReceiveAddressNotFound StatusCode = "ReceiveAddressNotFound"

	StatusVerifyPayToken        StatusCode = "VerifyPayToken"
	StatusVerifyPayTokenSuccess StatusCode = "VerifyPayTokenSuccess"
	StatusVerifyPayTokenFailed  StatusCode = "VerifyPayTokenFailed"

	StatusCalculatePoolAmounts        StatusCode = "CalculatePoolAmounts"
	StatusCalculatePoolAmountsSuccess StatusCode = "CalculatePoolAmountsSuccess"
	StatusCalculatePoolAmountsFailed  StatusCode = "CalculatePoolAmountsFailed"
	StatusUpdatePoolAmounts           StatusCode = "UpdatePoolAmounts"
	StatusUpdatePoolAmountsSuccess    StatusCode = "UpdatePoolAmountsSuccess"
	StatusUpdatePoolAmountsFailed     StatusCode = "UpdatePoolAmountsFailed"

	StatusSendReceiveToken        StatusCode = "SendReceiveToken"
	StatusSendReceiveTokenSuccess StatusCode = "SendReceiveTokenSuccess"
	StatusSendReceiveTokenFailed  StatusCode = "SendReceiveTokenFailed"

	StatusReturnPayToken        StatusCode = "ReturnPayToken"
	StatusReturnPayTokenSuccess StatusCode = "ReturnPayTokenSuccess"
	StatusReturnPayTokenFailed  StatusCode = "ReturnPayTokenFailed"

	StatusClaimToken        StatusCode = "ClaimToken"
	StatusClaimTokenSuccess StatusCode = "ClaimTokenSuccess"
	StatusClaimTokenFailed  StatusCode = "ClaimTokenFailed"

	StatusAddPool        StatusCode = "AddPool"
	StatusAddPoolSuccess StatusCode = "AddPoolSuccess"
	StatusAddPoolFailed  StatusCode = "AddPoolFailed"

	StatusSuccess StatusCode = "Success"
	StatusFailed  StatusCode = "Failed"
)

var statusText = map[StatusCode]string{
	StatusStart:                       "Started",
	StatusPayTokenNotFound:            "Invalid pay token",
	StatusPayTxIDNotFound:             "Pay tx id not found",
	StatusPayTokenAmountIsZero:        "Pay token amount is zero",
	StatusReceiveTokenNotFound:        "Invalid receive token",
	StatusReceiveAddressNotFound:      "Invalid receive address",
	StatusVerifyPayToken:              "Verifying pay token",
	StatusVerifyPayTokenSuccess:       "Pay token verified",
	StatusVerifyPayTokenFailed:        "Failed verifying pay token",
	StatusCalculatePoolAmounts:        "Calculating pool amounts",
	StatusCalculatePoolAmountsSuccess: "Pool amounts calculated",
	StatusCalculatePoolAmountsFailed:  "Failed calculating pool amounts",
	StatusUpdatePoolAmounts:           "Updating liquidity pool",
	StatusUpdatePoolAmountsSuccess:    "Liquidity pool updated",
	StatusUpdatePoolAmountsFailed:     "Failed updating liquidity pool",
	StatusSendReceiveToken:            "Sending receive token",
	StatusSendReceiveTokenSuccess:     "Receive token sent",
	StatusSendReceiveTokenFailed:      "Failed sending receive token",
	StatusReturnPayToken:              "Returning pay token",
	StatusReturnPayTokenSuccess:       "Pay token returned",
	StatusReturnPayTokenFailed:        "Failed returning pay token",
	StatusClaimToken:                  "Claiming token",
	StatusClaimTokenSuccess:           "Token claimed",
	StatusClaimTokenFailed:            "Failed claiming token",
	StatusAddPool:                     "Adding pool",
	StatusAddPoolSuccess:              "Pool added",
	StatusAddPoolFailed:               "Failed adding pool",
	StatusSuccess:                     "Success",
	StatusFailed:                      "Failed",
}

func (c StatusCode) String() string {
	if s, ok := statusText[c]; ok {
		return s
	}
	return string(c)
}

// Terminal reports whether no further status may follow c.
func (c StatusCode) Terminal() bool {
	return c == StatusSuccess || c == StatusFailed
}

// Phase groups verbose codes into the coarse stages of a swap:
// verify, validate, route, apply, send, refund, claim, done.
func (c StatusCode) Phase() string {
	switch c {
	case StatusStart:
		return "start"
	case StatusVerifyPayToken, StatusVerifyPayTokenSuccess, StatusVerifyPayTokenFailed:
		return "verify"
	case StatusPayTokenNotFound, StatusPayTxIDNotFound, StatusPayTokenAmountIsZero, StatusReceiveTokenNotFound, StatusReceiveAddressNotFound:
		return "validate"
	case StatusCalculatePoolAmounts, StatusCalculatePoolAmountsSuccess, StatusCalculatePoolAmountsFailed:
		return "route"
	case StatusUpdatePoolAmounts, StatusUpdatePoolAmountsSuccess, StatusUpdatePoolAmountsFailed,
		StatusAddPool, StatusAddPoolSuccess, StatusAddPoolFailed:
		return "apply"
	case StatusSendReceiveToken, StatusSendReceiveTokenSuccess, StatusSendReceiveTokenFailed:
		return "send"
	case StatusReturnPayToken, StatusReturnPayTokenSuccess, StatusReturnPayTokenFailed:
		return "refund"
	case StatusClaimToken, StatusClaimTokenSuccess, StatusClaimTokenFailed:
		return "claim"
	case StatusSuccess, StatusFailed:
		return "done"
	default:
		return "unknown"
	}
}

// Status is one entry of a request's append-only history.
type Status struct {
	Code    StatusCode `json:"status_code"`
	Message string     `json:"message,omitempty"`
	TS      time.Time  `json:"ts"`
}

// Display renders the status the way replies show it, e.g. "Failed verifying pay token (Duplicate block id)".
func (s Status) Display() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + " (" + s.Message + ")"
}
