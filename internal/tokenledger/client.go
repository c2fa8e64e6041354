package tokenledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrGatewayUnavailable = errors.New("ledger gateway unavailable")

const (
	methodVerifyTransfer = "icrc_verify_transfer"
	methodSendTransfer   = "icrc_send_transfer"
)

type ClientConfig struct {
	URL string
	// RPS caps outgoing calls; zero means unlimited.
	RPS     float64
	Timeout time.Duration
}

// Client calls a JSON-RPC 2.0 ledger gateway that fronts the token ledgers.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	nextID     atomic.Int64
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger gateway error %d: %s", e.Code, e.Message)
}

type verifyTransferParams struct {
	TokenAddress string          `json:"token_address"`
	BlockIndex   string          `json:"block_index"`
	From         address.Address `json:"from"`
	Amount       natmath.Nat     `json:"amount"`
}

type sendTransferParams struct {
	TokenAddress string          `json:"token_address"`
	To           address.Address `json:"to"`
	Amount       natmath.Nat     `json:"amount"`
	Fee          natmath.Nat     `json:"fee"`
}

type sendTransferResult struct {
	BlockIndex string `json:"block_index"`
}

// VerifyTransfer asks the gateway to confirm that block txRef moved amount from
// from to the exchange account.
func (c *Client) VerifyTransfer(ctx context.Context, token registry.Token, txRef string, from address.Address, amount natmath.Nat) error {
	params := verifyTransferParams{TokenAddress: token.Address, BlockIndex: txRef, From: from, Amount: amount}
	return c.call(ctx, methodVerifyTransfer, params, nil)
}

func (c *Client) SendTransfer(ctx context.Context, token registry.Token, to address.Address, amount natmath.Nat) (string, error) {
	params := sendTransferParams{TokenAddress: token.Address, To: to, Amount: amount, Fee: token.Fee}
	var result sendTransferResult
	if err := c.call(ctx, methodSendTransfer, params, &result); err != nil {
		return "", err
	}
	if result.BlockIndex == "" {
		return "", fmt.Errorf("%s: empty block index", methodSendTransfer)
	}
	return result.BlockIndex, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	id := c.nextID.Add(1)
	buf, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, method, err)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Ledger gateway call", "method", method, "id", id, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: status %d", ErrGatewayUnavailable, method, resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
