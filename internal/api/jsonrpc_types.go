package api

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONRPCErrorData carries the same classification the REST surface uses.
type JSONRPCErrorData struct {
	Code      string `json:"code"`
	RequestID uint64 `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// JSONRPCServerError is returned for every exchange-level failure.
	JSONRPCServerError = -32000
)

const (
	MethodSwap        = "swap"
	MethodSwapAsync   = "swap_async"
	MethodSwapAmounts = "swap_amounts"
	MethodRequests    = "requests"
	MethodClaims      = "claims"
)
