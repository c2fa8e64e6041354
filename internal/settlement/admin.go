package settlement

import (
	"context"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/registry"
)

// AddPool creates a pool seeded by an administrator and records it as an
// AddPool request and tx. Initial reserves are credited directly; no deposit
// is verified.
func (s *Service) AddPool(ctx context.Context, req AddPoolRequest) (AddPoolReply, error) {
	if err := s.checkMaintenance(); err != nil {
		return AddPoolReply{}, err
	}
	ctx = context.WithoutCancel(ctx)

	user, err := s.ledger.EnsureUser(ctx, req.Caller, "")
	if err != nil {
		return AddPoolReply{}, newError(KindInternal, 0, err, "Failed to register user: %v", err)
	}
	r, err := s.ledger.InsertRequest(ctx, user.ID, ledger.AddPoolArgs{
		Token0:   req.Token0,
		Amount0:  req.Amount0,
		Token1:   req.Token1,
		Amount1:  req.Amount1,
		LPFeeBps: req.LPFeeBps,
	})
	if err != nil {
		return AddPoolReply{}, newError(KindInternal, 0, err, "Failed to record request: %v", err)
	}

	reply := AddPoolReply{RequestID: r.ID, Amount0: req.Amount0, Amount1: req.Amount1, LPFeeBps: req.LPFeeBps}
	pool, failure := s.addPool(ctx, r.ID, req)

	code, msg := ledger.StatusSuccess, ""
	if failure != nil {
		code, msg = ledger.StatusFailed, failure.Msg
		failure.Status = code
	} else {
		reply.PoolID = pool.ID
		reply.Symbol = pool.LPTokenSymbol
		reply.LPTokenSymbol = pool.LPTokenSymbol
		reply.LPTokenAmount = pool.LPTotalSupply
		tx, err := s.ledger.InsertTx(ctx, ledger.Tx{
			UserID:    user.ID,
			RequestID: r.ID,
			Status:    code,
			Body: ledger.AddPoolTx{
				PoolID:   pool.ID,
				Amount0:  pool.Balance0,
				Amount1:  pool.Balance1,
				LPFeeBps: pool.LPFeeBps,
				LPAmount: pool.LPTotalSupply,
			},
			TransferIDs: []uint64{},
			ClaimIDs:    []uint64{},
		})
		if err != nil {
			s.logger.Errorw("Failed to record tx", "requestId", r.ID, "error", err)
		} else {
			reply.TxID = tx.ID
		}
	}
	if err := s.ledger.AppendStatus(ctx, r.ID, code, msg); err != nil {
		s.logger.Errorw("Failed to append request status", "requestId", r.ID, "status", code, "error", err)
	}
	reply.Status = code
	reply.TS = time.Now().UTC()
	if err := s.ledger.SetReply(ctx, r.ID, reply); err != nil {
		s.logger.Errorw("Failed to store reply", "requestId", r.ID, "error", err)
	}
	s.archiver.Enqueue(r.ID)

	if failure != nil {
		return reply, failure
	}
	return reply, nil
}

func (s *Service) addPool(ctx context.Context, requestID uint64, req AddPoolRequest) (registry.Pool, *Error) {
	status := func(code ledger.StatusCode, msg string) {
		if err := s.ledger.AppendStatus(ctx, requestID, code, msg); err != nil {
			s.logger.Errorw("Failed to append request status", "requestId", requestID, "status", code, "error", err)
		}
	}

	t0, err := s.registry.ResolveToken(req.Token0)
	if err != nil {
		status(ledger.StatusPayTokenNotFound, err.Error())
		return registry.Pool{}, newError(KindValidation, requestID, err, "Add pool #%d failed: %v", requestID, err)
	}
	t1, err := s.registry.ResolveToken(req.Token1)
	if err != nil {
		status(ledger.StatusReceiveTokenNotFound, err.Error())
		return registry.Pool{}, newError(KindValidation, requestID, err, "Add pool #%d failed: %v", requestID, err)
	}
	if req.Amount0.IsZero() || req.Amount1.IsZero() {
		status(ledger.StatusPayTokenAmountIsZero, "")
		return registry.Pool{}, newError(KindValidation, requestID, nil, "Add pool #%d failed: zero initial reserve", requestID)
	}

	status(ledger.StatusAddPool, "")
	pool, err := s.registry.AddPool(ctx, t0.ID, t1.ID, req.Amount0, req.Amount1, req.LPFeeBps)
	if err != nil {
		status(ledger.StatusAddPoolFailed, err.Error())
		return registry.Pool{}, newError(KindValidation, requestID, err, "Add pool #%d failed: %v", requestID, err)
	}
	status(ledger.StatusAddPoolSuccess, "")
	return pool, nil
}
