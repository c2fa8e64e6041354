package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/swapcalc"
)

const duplicateBlockID = "Duplicate block id"

// Swap runs a swap to completion and returns its reply. On failure the reply
// still carries everything known about the request and err is a *Error.
func (s *Service) Swap(ctx context.Context, req SwapRequest) (SwapReply, error) {
	user, r, err := s.intake(ctx, req)
	if err != nil {
		return SwapReply{}, err
	}
	defer s.wg.Done()
	return s.settle(ctx, user, r.ID, req)
}

// swapRun carries one request through the state machine.
type swapRun struct {
	s         *Service
	user      ledger.User
	requestID uint64
	req       SwapRequest

	payToken  registry.Token
	recvToken registry.Token
	to        address.Address
	route     *swapcalc.Route

	reply SwapReply
}

// settle runs every step after intake. Once a request has been recorded it
// always reaches a terminal status, so the caller's cancellation is dropped.
func (s *Service) settle(ctx context.Context, user ledger.User, requestID uint64, req SwapRequest) (SwapReply, error) {
	ctx = context.WithoutCancel(ctx)

	run := &swapRun{
		s:         s,
		user:      user,
		requestID: requestID,
		req:       req,
		reply: SwapReply{
			RequestID:   requestID,
			PayAmount:   req.PayAmount,
			Txs:         []swapcalc.Leg{},
			TransferIDs: []TransferRef{},
			ClaimIDs:    []uint64{},
		},
	}
	failure := run.execute(ctx)
	return run.finalize(ctx, failure)
}

func (run *swapRun) status(ctx context.Context, code ledger.StatusCode, msg string) {
	if err := run.s.ledger.AppendStatus(ctx, run.requestID, code, msg); err != nil {
		run.s.logger.Errorw("Failed to append request status", "requestId", run.requestID, "status", code, "error", err)
	}
}

func (run *swapRun) fail(kind Kind, err error, reason string) *Error {
	return newError(kind, run.requestID, err, "%s", swapFailed(run.requestID, reason))
}

// execute returns nil when the receive token was delivered.
func (run *swapRun) execute(ctx context.Context) *Error {
	s, req := run.s, run.req

	payToken, err := s.registry.ResolveToken(req.PayToken)
	if err != nil {
		run.status(ctx, ledger.StatusPayTokenNotFound, err.Error())
		return run.fail(KindValidation, err, "Pay token not found")
	}
	run.payToken = payToken
	run.reply.PayChain = payToken.Chain
	run.reply.PaySymbol = payToken.Symbol

	if req.PayTxRef == "" {
		run.status(ctx, ledger.StatusPayTxIDNotFound, "")
		return run.fail(KindValidation, nil, "Pay tx id not found")
	}

	if failure := run.verifyPayment(ctx); failure != nil {
		return failure
	}

	// The deposit is held from here on: every failure must refund or claim it.

	recvToken, err := s.registry.ResolveToken(req.ReceiveToken)
	if err != nil {
		run.status(ctx, ledger.StatusReceiveTokenNotFound, err.Error())
		return run.returnPayToken(ctx, run.fail(KindValidation, err, "Receive token not found"))
	}
	run.recvToken = recvToken
	run.reply.ReceiveChain = recvToken.Chain
	run.reply.ReceiveSymbol = recvToken.Symbol

	if req.PayAmount.IsZero() {
		run.status(ctx, ledger.StatusPayTokenAmountIsZero, "")
		return run.returnPayToken(ctx, run.fail(KindValidation, ErrZeroAmount, "Pay amount is zero"))
	}

	if req.ReceiveAddress == "" {
		run.to = address.PrincipalID(req.Caller)
	} else {
		to, err := address.Parse(req.ReceiveAddress)
		if err != nil {
			run.status(ctx, ledger.StatusReceiveAddressNotFound, err.Error())
			return run.returnPayToken(ctx, run.fail(KindValidation, err, "Invalid receive address"))
		}
		run.to = to
	}

	if failure := run.applyRoute(ctx); failure != nil {
		return run.returnPayToken(ctx, failure)
	}

	return run.sendReceiveToken(ctx)
}

func (run *swapRun) verifyPayment(ctx context.Context) *Error {
	s, req := run.s, run.req

	run.status(ctx, ledger.StatusVerifyPayToken, "")
	if err := s.adapter.VerifyTransfer(ctx, run.payToken, req.PayTxRef, address.PrincipalID(req.Caller), req.PayAmount); err != nil {
		run.status(ctx, ledger.StatusVerifyPayTokenFailed, err.Error())
		return run.fail(KindExternalTransfer, err, "Failed verifying pay token: "+err.Error())
	}

	// The index reservation is atomic, so of two requests racing on the same
	// deposit exactly one gets past here.
	t, err := s.ledger.InsertTransfer(ctx, ledger.Transfer{
		RequestID: run.requestID,
		Direction: ledger.DirectionIn,
		TokenID:   run.payToken.ID,
		Amount:    req.PayAmount,
		TxRef:     req.PayTxRef,
	})
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		s.metrics.RecordDuplicateTransfer(ctx)
		run.status(ctx, ledger.StatusVerifyPayTokenFailed, duplicateBlockID)
		return run.fail(KindDuplicateTransfer, err, duplicateBlockID)
	case err != nil:
		// The reservation state is unknown, so a refund could pay the same
		// deposit twice. Leave it to an operator.
		s.logger.Errorw("Failed to record incoming transfer", "requestId", run.requestID, "tokenId", run.payToken.ID, "txId", req.PayTxRef, "error", err)
		run.status(ctx, ledger.StatusVerifyPayTokenFailed, err.Error())
		return run.fail(KindInternal, err, "Failed recording pay transfer")
	}

	run.reply.TransferIDs = append(run.reply.TransferIDs, transferRef(t))
	run.status(ctx, ledger.StatusVerifyPayTokenSuccess, "")
	return nil
}

func (run *swapRun) limits() swapcalc.Limits {
	l := swapcalc.Limits{
		MinReceive:     run.req.ReceiveAmountMin,
		MaxSlippageBps: run.s.cfg.DefaultMaxSlippageBps,
	}
	if run.req.MaxSlippageBps != nil {
		l.MaxSlippageBps = *run.req.MaxSlippageBps
	}
	return l
}

// applyRoute computes the route and moves the pool reserves in one registry
// write step. No status is written while the registry lock is held.
func (run *swapRun) applyRoute(ctx context.Context) *Error {
	s := run.s

	run.status(ctx, ledger.StatusCalculatePoolAmounts, "")
	var route swapcalc.Route
	err := s.registry.Update(ctx, func(tx *registry.Tx) error {
		var err error
		route, err = swapcalc.ExecuteRoute(tx, s.cfg.Bridges, run.payToken.ID, run.recvToken.ID, run.req.PayAmount, run.limits())
		return err
	})
	if err != nil {
		kind := classify(err)
		if kind == KindInternal {
			run.status(ctx, ledger.StatusCalculatePoolAmountsSuccess, "")
			run.status(ctx, ledger.StatusUpdatePoolAmountsFailed, err.Error())
		} else {
			run.status(ctx, ledger.StatusCalculatePoolAmountsFailed, err.Error())
		}
		return run.fail(kind, err, err.Error())
	}

	run.route = &route
	run.reply.ReceiveAmount = route.ReceiveAmount
	run.reply.Price = route.Price
	run.reply.MidPrice = route.MidPrice
	run.reply.Slippage = route.Slippage
	run.reply.Txs = route.Legs
	run.status(ctx, ledger.StatusCalculatePoolAmountsSuccess, "")
	run.status(ctx, ledger.StatusUpdatePoolAmountsSuccess, "")
	return nil
}

// sendReceiveToken pays out an executed swap. A failed send keeps the pool
// changes and turns the payout into a claim.
func (run *swapRun) sendReceiveToken(ctx context.Context) *Error {
	s := run.s
	amount := run.route.ReceiveAmount

	run.status(ctx, ledger.StatusSendReceiveToken, "")
	txRef, err := s.adapter.SendTransfer(ctx, run.recvToken, run.to, amount)
	if err != nil {
		run.status(ctx, ledger.StatusSendReceiveTokenFailed, err.Error())
		run.createClaim(ctx, run.recvToken, amount)
		return run.fail(KindExternalTransfer, err, "Failed sending receive token: "+err.Error())
	}

	run.recordPayout(ctx, run.recvToken, amount, txRef)
	run.status(ctx, ledger.StatusSendReceiveTokenSuccess, "")
	return nil
}

// returnPayToken refunds the verified deposit to the caller, net of the
// token's transfer fee, and returns cause. A failed refund becomes a claim
// for the gross deposit.
func (run *swapRun) returnPayToken(ctx context.Context, cause *Error) *Error {
	s := run.s
	token, amount := run.payToken, run.req.PayAmount
	caller := address.PrincipalID(run.req.Caller)

	run.status(ctx, ledger.StatusReturnPayToken, "")
	refund, err := amount.Sub(token.Fee)
	if err != nil || refund.IsZero() {
		run.status(ctx, ledger.StatusReturnPayTokenFailed, "Pay amount does not cover the transfer fee")
		s.logger.Warnw("Pay amount too small to return", "requestId", run.requestID, "token", token.Symbol, "amount", amount.String(), "fee", token.Fee.String())
		return cause
	}

	txRef, err := s.adapter.SendTransfer(ctx, token, caller, refund)
	if err != nil {
		run.status(ctx, ledger.StatusReturnPayTokenFailed, err.Error())
		run.to = caller
		run.createClaim(ctx, token, amount)
		return cause
	}

	run.recordPayout(ctx, token, refund, txRef)
	run.status(ctx, ledger.StatusReturnPayTokenSuccess, "")
	return cause
}

func (run *swapRun) recordPayout(ctx context.Context, token registry.Token, amount natmath.Nat, txRef string) {
	t, err := run.s.ledger.InsertTransfer(ctx, ledger.Transfer{
		RequestID: run.requestID,
		Direction: ledger.DirectionOut,
		TokenID:   token.ID,
		Amount:    amount,
		TxRef:     txRef,
	})
	if err != nil {
		// the tokens already left; the request history still names the send
		run.s.logger.Errorw("Failed to record outgoing transfer", "requestId", run.requestID, "token", token.Symbol, "txId", txRef, "error", err)
		return
	}
	run.reply.TransferIDs = append(run.reply.TransferIDs, transferRef(t))
}

func (run *swapRun) createClaim(ctx context.Context, token registry.Token, amount natmath.Nat) {
	requestID := run.requestID
	to := run.to
	c, err := run.s.ledger.InsertClaim(ctx, ledger.Claim{
		UserID:    run.user.ID,
		TokenID:   token.ID,
		Amount:    amount,
		RequestID: &requestID,
		ToAddress: &to,
	}, token.Fee)
	if err != nil {
		run.s.logger.Errorw("Failed to create claim", "requestId", run.requestID, "token", token.Symbol, "amount", amount.String(), "error", err)
		return
	}
	run.reply.ClaimIDs = append(run.reply.ClaimIDs, c.ID)
	run.s.metrics.RecordClaimCreated(ctx, token.Symbol)
}

// finalize writes the terminal status, the tx record and the reply, then
// hands the request to the archiver.
func (run *swapRun) finalize(ctx context.Context, failure *Error) (SwapReply, error) {
	s := run.s

	code, msg := ledger.StatusSuccess, ""
	if failure != nil {
		code, msg = ledger.StatusFailed, failure.Msg
		failure.Status = code
	}
	run.status(ctx, code, msg)
	run.reply.Status = code
	run.reply.TS = time.Now().UTC()

	if run.route != nil {
		transferIDs := make([]uint64, 0, len(run.reply.TransferIDs))
		for _, t := range run.reply.TransferIDs {
			transferIDs = append(transferIDs, t.TransferID)
		}
		tx, err := s.ledger.InsertTx(ctx, ledger.Tx{
			UserID:    run.user.ID,
			RequestID: run.requestID,
			Status:    code,
			Body: ledger.SwapTx{
				PayTokenID:     run.payToken.ID,
				PayAmount:      run.req.PayAmount,
				ReceiveTokenID: run.recvToken.ID,
				ReceiveAmount:  run.route.ReceiveAmount,
				Price:          run.route.Price,
				MidPrice:       run.route.MidPrice,
				Slippage:       run.route.Slippage,
				Legs:           run.route.Legs,
			},
			TransferIDs: transferIDs,
			ClaimIDs:    run.reply.ClaimIDs,
		})
		if err != nil {
			s.logger.Errorw("Failed to record tx", "requestId", run.requestID, "error", err)
		} else {
			run.reply.TxID = tx.ID
		}
	}

	if err := s.ledger.SetReply(ctx, run.requestID, run.reply); err != nil {
		s.logger.Errorw("Failed to store reply", "requestId", run.requestID, "error", err)
	}

	s.archiver.Enqueue(run.requestID)
	hops := 0
	if run.route != nil {
		hops = run.route.Hops()
	}
	s.metrics.RecordSwap(ctx, code, hops)
	s.logger.Infow("Swap finalized",
		"requestId", run.requestID,
		"status", code,
		"payToken", run.req.PayToken,
		"receiveToken", run.req.ReceiveToken,
		"receiveAmount", run.reply.ReceiveAmount.String(),
		"claims", len(run.reply.ClaimIDs),
	)

	if failure != nil {
		return run.reply, failure
	}
	return run.reply, nil
}
