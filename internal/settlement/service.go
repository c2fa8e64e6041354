// Package settlement runs the swap request state machine: verify the caller's
// deposit, execute the route against the pools, pay out, and fall back to a
// refund or a claim so value held by the exchange is never dropped.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/swapcalc"
	"go.uber.org/zap"
)

// Adapter moves tokens on the external token ledgers.
type Adapter interface {
	VerifyTransfer(ctx context.Context, token registry.Token, txRef string, from address.Address, amount natmath.Nat) error
	SendTransfer(ctx context.Context, token registry.Token, to address.Address, amount natmath.Nat) (string, error)
}

// Archiver receives the id of every finalized request. Enqueue must not block.
type Archiver interface {
	Enqueue(requestID uint64)
}

// Metrics records settlement outcomes.
type Metrics interface {
	RecordSwap(ctx context.Context, status ledger.StatusCode, hops int)
	RecordClaimCreated(ctx context.Context, tokenSymbol string)
	RecordDuplicateTransfer(ctx context.Context)
}

type noopArchiver struct{}

func (noopArchiver) Enqueue(uint64) {}

type noopMetrics struct{}

func (noopMetrics) RecordSwap(context.Context, ledger.StatusCode, int) {}
func (noopMetrics) RecordClaimCreated(context.Context, string)         {}
func (noopMetrics) RecordDuplicateTransfer(context.Context)            {}

type Config struct {
	Bridges swapcalc.Bridges
	// DefaultMaxSlippageBps applies when a request gives no limit. Zero disables the check.
	DefaultMaxSlippageBps uint32
	// Workers is the number of goroutines draining the async queue.
	Workers   int
	QueueSize int
}

type Option func(*Service)

func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaintenance sets the initial maintenance flag.
func WithMaintenance(on bool) Option {
	return func(s *Service) {
		s.maintenance.Store(on)
	}
}

type Service struct {
	cfg      Config
	registry *registry.Registry
	ledger   *ledger.Ledger
	adapter  Adapter
	archiver Archiver
	metrics  Metrics
	logger   *zap.SugaredLogger

	maintenance atomic.Bool

	// async pool state
	mu      sync.RWMutex
	jobs    chan swapJob
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewService(cfg Config, reg *registry.Registry, led *ledger.Ledger, adapter Adapter, logger *zap.SugaredLogger, opts ...Option) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	s := &Service{
		cfg:      cfg,
		registry: reg,
		ledger:   led,
		adapter:  adapter,
		archiver: noopArchiver{},
		metrics:  noopMetrics{},
		logger:   logger,
		jobs:     make(chan swapJob, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SetMaintenance(on bool) {
	prev := s.maintenance.Swap(on)
	if prev != on {
		s.logger.Infow("Maintenance mode changed", "enabled", on)
	}
}

func (s *Service) Maintenance() bool {
	return s.maintenance.Load()
}

func (s *Service) Bridges() swapcalc.Bridges {
	return s.cfg.Bridges
}

// Quote prices a swap against the current pools without changing anything.
func (s *Service) Quote(ctx context.Context, payToken string, payAmount natmath.Nat, receiveToken string) (SwapAmountsReply, error) {
	pay, err := s.registry.ResolveToken(payToken)
	if err != nil {
		return SwapAmountsReply{}, newError(KindValidation, 0, err, "Invalid pay token: %s", payToken)
	}
	recv, err := s.registry.ResolveToken(receiveToken)
	if err != nil {
		return SwapAmountsReply{}, newError(KindValidation, 0, err, "Invalid receive token: %s", receiveToken)
	}
	if payAmount.IsZero() {
		return SwapAmountsReply{}, newError(KindValidation, 0, ErrZeroAmount, "Pay amount is zero")
	}

	var route swapcalc.Route
	err = s.registry.Read(func(v registry.View) error {
		var err error
		route, err = swapcalc.FindRoute(v, s.cfg.Bridges, pay.ID, recv.ID, payAmount)
		return err
	})
	if err != nil {
		return SwapAmountsReply{}, newError(classify(err), 0, err, "%s", err.Error())
	}

	return SwapAmountsReply{
		PayChain:       pay.Chain,
		PaySymbol:      pay.Symbol,
		PayAddress:     pay.Address,
		PayAmount:      payAmount,
		ReceiveChain:   recv.Chain,
		ReceiveSymbol:  recv.Symbol,
		ReceiveAddress: recv.Address,
		ReceiveAmount:  route.ReceiveAmount,
		Price:          route.Price,
		MidPrice:       route.MidPrice,
		Slippage:       route.Slippage,
		Txs:            route.Legs,
	}, nil
}

func (s *Service) checkMaintenance() error {
	if s.maintenance.Load() {
		return &Error{Kind: KindMaintenance, Msg: ErrMaintenance.Error(), Err: ErrMaintenance}
	}
	return nil
}

// swapArgs is the persisted form of req.
func swapArgs(req SwapRequest) ledger.SwapArgs {
	args := ledger.SwapArgs{
		PayToken:         req.PayToken,
		PayAmount:        req.PayAmount,
		PayTxRef:         req.PayTxRef,
		ReceiveToken:     req.ReceiveToken,
		ReceiveAmountMin: req.ReceiveAmountMin,
		MaxSlippageBps:   req.MaxSlippageBps,
		ReferredBy:       req.ReferredBy,
	}
	if req.ReceiveAddress != "" {
		// stored unvalidated; validation happens after the deposit is verified
		a := address.Address{Value: req.ReceiveAddress}
		if parsed, err := address.Parse(req.ReceiveAddress); err == nil {
			a = parsed
		}
		args.ReceiveAddress = &a
	}
	return args
}

// track adds one request to the set Shutdown waits for. It fails once
// Shutdown has begun, so wg.Add never races wg.Wait.
func (s *Service) track() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &Error{Kind: KindMaintenance, Msg: ErrShuttingDown.Error(), Err: ErrShuttingDown}
	}
	s.wg.Add(1)
	return nil
}

// intake registers the caller and records the request with Start. Nothing
// external has been called when it returns. On success the request is
// tracked and the caller must release it with wg.Done once it is terminal.
func (s *Service) intake(ctx context.Context, req SwapRequest) (ledger.User, ledger.Request, error) {
	if err := s.checkMaintenance(); err != nil {
		return ledger.User{}, ledger.Request{}, err
	}
	if req.Caller == "" {
		return ledger.User{}, ledger.Request{}, newError(KindValidation, 0, nil, "Anonymous caller")
	}
	if err := s.track(); err != nil {
		return ledger.User{}, ledger.Request{}, err
	}
	user, err := s.ledger.EnsureUser(ctx, req.Caller, req.ReferredBy)
	if err != nil {
		s.wg.Done()
		return ledger.User{}, ledger.Request{}, newError(KindInternal, 0, err, "Failed to register user: %v", err)
	}
	r, err := s.ledger.InsertRequest(ctx, user.ID, swapArgs(req))
	if err != nil {
		s.wg.Done()
		return ledger.User{}, ledger.Request{}, newError(KindInternal, 0, err, "Failed to record request: %v", err)
	}
	return user, r, nil
}

func swapFailed(requestID uint64, reason string) string {
	return fmt.Sprintf("Swap #%d failed: %s", requestID, reason)
}
