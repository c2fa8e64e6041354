// Package tokenledger talks to the external token ledgers that hold user
// deposits and payouts. Memory is a block-indexed in-process ledger used for
// development and tests; Client forwards to a JSON-RPC ledger gateway.
package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrAmountMismatch    = errors.New("transfer amount mismatch")
	ErrWrongRecipient    = errors.New("transfer not sent to exchange")
	ErrWrongSender       = errors.New("transfer not sent by caller")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Block is one entry of a token's transaction log.
type Block struct {
	Index  uint64      `json:"index"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount natmath.Nat `json:"amount"`
	Fee    natmath.Nat `json:"fee"`
}

// Memory simulates one ledger per token. Senders pay the token fee on top of
// the transferred amount, like ICRC-1 ledgers do.
type Memory struct {
	mu       sync.Mutex
	exchange string
	blocks   map[uint32][]Block
	balances map[uint32]map[string]natmath.Nat
	failures map[uint32]error
}

// NewMemory creates a ledger whose deposits are credited to the exchange account.
func NewMemory(exchange string) *Memory {
	return &Memory{
		exchange: exchange,
		blocks:   make(map[uint32][]Block),
		balances: make(map[uint32]map[string]natmath.Nat),
		failures: make(map[uint32]error),
	}
}

func (m *Memory) Exchange() string { return m.exchange }

func (m *Memory) balanceLocked(token uint32, owner string) natmath.Nat {
	if accounts, ok := m.balances[token]; ok {
		return accounts[owner]
	}
	return natmath.Zero()
}

func (m *Memory) setBalanceLocked(token uint32, owner string, v natmath.Nat) {
	accounts, ok := m.balances[token]
	if !ok {
		accounts = make(map[string]natmath.Nat)
		m.balances[token] = accounts
	}
	accounts[owner] = v
}

func (m *Memory) appendLocked(token uint32, b Block) Block {
	b.Index = uint64(len(m.blocks[token]))
	m.blocks[token] = append(m.blocks[token], b)
	return b
}

// Mint credits owner without a sender.
func (m *Memory) Mint(token uint32, owner string, amount natmath.Nat) Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalanceLocked(token, owner, m.balanceLocked(token, owner).Add(amount))
	return m.appendLocked(token, Block{To: owner, Amount: amount})
}

// Deposit records a user payment of amount to the exchange and returns the
// block index to quote as the pay transaction reference. The exchange account
// is credited directly; user balances are not tracked for deposits.
func (m *Memory) Deposit(token uint32, from string, amount natmath.Nat) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalanceLocked(token, m.exchange, m.balanceLocked(token, m.exchange).Add(amount))
	b := m.appendLocked(token, Block{From: from, To: m.exchange, Amount: amount})
	return strconv.FormatUint(b.Index, 10)
}

// FailSends makes every SendTransfer of token fail with err until cleared with nil.
func (m *Memory) FailSends(token uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, token)
		return
	}
	m.failures[token] = err
}

func (m *Memory) Balance(token uint32, owner string) natmath.Nat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(token, owner)
}

func (m *Memory) Blocks(token uint32) []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Block, len(m.blocks[token]))
	copy(out, m.blocks[token])
	return out
}

// VerifyTransfer checks that block txRef of token paid exactly amount from from
// to the exchange.
func (m *Memory) VerifyTransfer(ctx context.Context, token registry.Token, txRef string, from address.Address, amount natmath.Nat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := strconv.ParseUint(txRef, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: block %q", ErrTransferNotFound, txRef)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	blocks := m.blocks[token.ID]
	if idx >= uint64(len(blocks)) {
		return fmt.Errorf("%w: %s block %d", ErrTransferNotFound, token.Symbol, idx)
	}
	b := blocks[idx]
	if b.To != m.exchange {
		return fmt.Errorf("%w: %s block %d", ErrWrongRecipient, token.Symbol, idx)
	}
	if b.From != from.Value {
		return fmt.Errorf("%w: %s block %d", ErrWrongSender, token.Symbol, idx)
	}
	if !b.Amount.Equal(amount) {
		return fmt.Errorf("%w: block %d has %s, expected %s", ErrAmountMismatch, idx, b.Amount, amount)
	}
	return nil
}

// SendTransfer pays amount from the exchange to to, charging the token fee to the exchange.
func (m *Memory) SendTransfer(ctx context.Context, token registry.Token, to address.Address, amount natmath.Nat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[token.ID]; err != nil {
		return "", err
	}
	debit := amount.Add(token.Fee)
	left, err := m.balanceLocked(token.ID, m.exchange).Sub(debit)
	if err != nil {
		return "", fmt.Errorf("%w: exchange holds %s %s, needs %s", ErrInsufficientFunds, m.balanceLocked(token.ID, m.exchange), token.Symbol, debit)
	}
	m.setBalanceLocked(token.ID, m.exchange, left)
	m.setBalanceLocked(token.ID, to.Value, m.balanceLocked(token.ID, to.Value).Add(amount))
	b := m.appendLocked(token.ID, Block{From: m.exchange, To: to.Value, Amount: amount, Fee: token.Fee})
	return strconv.FormatUint(b.Index, 10), nil
}
