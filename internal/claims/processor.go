// Package claims pays out value the exchange owes users after a failed
// delivery. A payout attempt first takes the claim's Claiming lock; a claim
// that cannot be locked is skipped, never retried inline.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"go.uber.org/zap"
)

var (
	ErrClaimNotFound    = errors.New("claim not found")
	ErrNotClaimOwner    = errors.New("claim belongs to another user")
	ErrClaimUnavailable = errors.New("claim is not claimable")
	ErrUnknownUser      = errors.New("user not found")
)

// Sender pays tokens out of the exchange.
type Sender interface {
	SendTransfer(ctx context.Context, token registry.Token, to address.Address, amount natmath.Nat) (string, error)
}

type Archiver interface {
	Enqueue(requestID uint64)
}

type Metrics interface {
	RecordClaimAttempt(ctx context.Context, status ledger.StatusCode)
}

type noopArchiver struct{}

func (noopArchiver) Enqueue(uint64) {}

type noopMetrics struct{}

func (noopMetrics) RecordClaimAttempt(context.Context, ledger.StatusCode) {}

type Option func(*Processor)

func WithArchiver(a Archiver) Option {
	return func(p *Processor) {
		p.archiver = a
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

type ClaimReply struct {
	ClaimID     uint64            `json:"claim_id"`
	RequestID   uint64            `json:"request_id"`
	Status      ledger.StatusCode `json:"status"`
	Chain       string            `json:"chain"`
	Symbol      string            `json:"symbol"`
	Amount      natmath.Nat       `json:"amount"`
	ToAddress   string            `json:"to_address"`
	TransferIDs []uint64          `json:"transfer_ids"`
	TS          time.Time         `json:"ts"`
}

type Processor struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	sender   Sender
	archiver Archiver
	metrics  Metrics
	logger   *zap.SugaredLogger
}

func NewProcessor(reg *registry.Registry, led *ledger.Ledger, sender Sender, logger *zap.SugaredLogger, opts ...Option) *Processor {
	p := &Processor{
		registry: reg,
		ledger:   led,
		sender:   sender,
		archiver: noopArchiver{},
		metrics:  noopMetrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Claim pays out claimID on behalf of its owner.
func (p *Processor) Claim(ctx context.Context, caller string, claimID uint64) (ClaimReply, error) {
	user, err := p.ledger.UserByPrincipal(ctx, caller)
	if errors.Is(err, ledger.ErrNotFound) {
		return ClaimReply{}, fmt.Errorf("%w: %s", ErrUnknownUser, caller)
	}
	if err != nil {
		return ClaimReply{}, err
	}
	c, err := p.ledger.GetClaim(ctx, claimID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ClaimReply{}, fmt.Errorf("%w: #%d", ErrClaimNotFound, claimID)
	}
	if err != nil {
		return ClaimReply{}, err
	}
	if c.UserID != user.ID {
		return ClaimReply{}, fmt.Errorf("%w: #%d", ErrNotClaimOwner, claimID)
	}
	return p.process(ctx, user, claimID)
}

// process records a Claim request and runs one payout attempt under the
// claim's lock.
func (p *Processor) process(ctx context.Context, user ledger.User, claimID uint64) (ClaimReply, error) {
	ctx = context.WithoutCancel(ctx)

	r, err := p.ledger.InsertRequest(ctx, user.ID, ledger.ClaimArgs{ClaimID: claimID})
	if err != nil {
		return ClaimReply{}, err
	}
	status := func(code ledger.StatusCode, msg string) {
		if err := p.ledger.AppendStatus(ctx, r.ID, code, msg); err != nil {
			p.logger.Errorw("Failed to append request status", "requestId", r.ID, "status", code, "error", err)
		}
	}

	reply := ClaimReply{ClaimID: claimID, RequestID: r.ID, TransferIDs: []uint64{}}
	failure := p.payout(ctx, claimID, user, r.ID, status, &reply)

	code, msg := ledger.StatusSuccess, ""
	if failure != nil {
		code, msg = ledger.StatusFailed, failure.Error()
	}
	status(code, msg)
	reply.Status = code
	reply.TS = time.Now().UTC()
	if err := p.ledger.SetReply(ctx, r.ID, reply); err != nil {
		p.logger.Errorw("Failed to store reply", "requestId", r.ID, "error", err)
	}
	p.archiver.Enqueue(r.ID)
	p.metrics.RecordClaimAttempt(ctx, code)
	p.logger.Infow("Claim attempt finalized", "claimId", claimID, "requestId", r.ID, "status", code)
	return reply, failure
}

func (p *Processor) payout(ctx context.Context, claimID uint64, user ledger.User, requestID uint64, status func(ledger.StatusCode, string), reply *ClaimReply) error {
	status(ledger.StatusClaimToken, "")

	c, ok, err := p.ledger.LockClaimForClaiming(ctx, claimID)
	if err == nil && !ok {
		err = fmt.Errorf("%w: #%d", ErrClaimUnavailable, claimID)
	}
	if err != nil {
		status(ledger.StatusClaimTokenFailed, err.Error())
		return err
	}

	fail := func(err error) error {
		status(ledger.StatusClaimTokenFailed, err.Error())
		if _, rerr := p.ledger.RevertClaimUnclaimed(ctx, c.ID, requestID); rerr != nil {
			p.logger.Errorw("Failed to release claim", "claimId", c.ID, "error", rerr)
		}
		return fmt.Errorf("Claim #%d failed: %w", c.ID, err)
	}

	token, ok := p.registry.Token(c.TokenID)
	if !ok {
		return fail(fmt.Errorf("%w: %d", registry.ErrTokenNotFound, c.TokenID))
	}
	reply.Chain = token.Chain
	reply.Symbol = token.Symbol

	to := address.PrincipalID(user.Principal)
	if c.ToAddress != nil && !c.ToAddress.IsZero() {
		to = *c.ToAddress
	}
	reply.ToAddress = to.Value

	amount, err := c.Amount.Sub(token.Fee)
	if err != nil || amount.IsZero() {
		return fail(fmt.Errorf("claim amount %s does not cover fee %s", c.Amount, token.Fee))
	}
	reply.Amount = amount

	txRef, err := p.sender.SendTransfer(ctx, token, to, amount)
	if err != nil {
		return fail(err)
	}

	t, err := p.ledger.InsertTransfer(ctx, ledger.Transfer{
		RequestID: requestID,
		Direction: ledger.DirectionOut,
		TokenID:   token.ID,
		Amount:    amount,
		TxRef:     txRef,
	})
	if err != nil {
		// tokens were sent; the claim stays locked so it is never paid twice
		p.logger.Errorw("Failed to record claim payout", "claimId", c.ID, "requestId", requestID, "txId", txRef, "error", err)
		status(ledger.StatusClaimTokenSuccess, "transfer "+txRef+" not recorded")
		return nil
	}
	reply.TransferIDs = append(reply.TransferIDs, t.ID)

	if _, err := p.ledger.ResolveClaimClaimed(ctx, c.ID, requestID, t.ID); err != nil {
		p.logger.Errorw("Failed to resolve claim", "claimId", c.ID, "requestId", requestID, "error", err)
	}
	status(ledger.StatusClaimTokenSuccess, "")
	return nil
}
