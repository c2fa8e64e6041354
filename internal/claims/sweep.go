package claims

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/pkg/kv"
)

const sweepLeaseKey = "kong:claims:sweep:lease"

type SweepConfig struct {
	Interval time.Duration
	// MaxAttempts parks a claim as TooManyAttempts once it has failed this often.
	MaxAttempts int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:    time.Minute,
		MaxAttempts: 10,
	}
}

// Sweeper periodically retries every Unclaimed claim. With several replicas
// sharing a store, a kv lease lets one of them sweep per interval.
type Sweeper struct {
	processor *Processor
	store     kv.Store
	config    SweepConfig
	paused    func() bool
	owner     string
}

// NewSweeper creates a sweeper. paused is consulted before each run; it
// may be nil.
func NewSweeper(p *Processor, store kv.Store, config SweepConfig, paused func() bool) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepConfig().Interval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultSweepConfig().MaxAttempts
	}
	host, _ := os.Hostname()
	return &Sweeper{
		processor: p,
		store:     store,
		config:    config,
		paused:    paused,
		owner:     host + ":" + strconv.Itoa(os.Getpid()),
	}
}

// Start blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := s.processor.logger
	logger.Infow("Starting claims sweep", "interval", s.config.Interval, "maxAttempts", s.config.MaxAttempts)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infow("Claims sweep stopping due to context cancellation")
			s.releaseLease()
			return ctx.Err()
		case <-ticker.C:
			if s.paused != nil && s.paused() {
				continue
			}
			acquired, err := s.store.SetNX(ctx, sweepLeaseKey, []byte(s.owner), s.config.Interval*9/10)
			if err != nil {
				logger.Warnw("Failed to acquire claims sweep lease", "error", err)
				continue
			}
			if !acquired {
				continue
			}
			s.SweepOnce(ctx)
		}
	}
}

// releaseLease drops the sweep lease if this replica holds it, so another
// replica can sweep on its next tick instead of waiting out the TTL.
func (s *Sweeper) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	holder, err := s.store.Get(ctx, sweepLeaseKey)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		s.processor.logger.Warnw("Failed to read claims sweep lease", "error", err)
		return
	}
	if string(holder) != s.owner {
		return
	}
	if _, err := s.store.Del(ctx, sweepLeaseKey); err != nil {
		s.processor.logger.Warnw("Failed to release claims sweep lease", "error", err)
	}
}

// SweepOnce makes one pass over the unclaimed claims and returns how many were paid.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	p := s.processor
	claims, err := p.ledger.UnclaimedClaims(ctx)
	if err != nil {
		p.logger.Warnw("Failed to list unclaimed claims", "error", err)
		return 0
	}

	paid := 0
	for _, c := range claims {
		if ctx.Err() != nil {
			break
		}
		if len(c.Attempts) >= s.config.MaxAttempts {
			if _, err := p.ledger.MarkTooManyAttempts(ctx, c.ID); err != nil {
				p.logger.Warnw("Failed to park claim", "claimId", c.ID, "error", err)
			} else {
				p.logger.Warnw("Claim parked after too many attempts", "claimId", c.ID, "attempts", len(c.Attempts))
			}
			continue
		}
		user, err := p.ledger.GetUser(ctx, c.UserID)
		if err != nil {
			p.logger.Warnw("Claim owner not found", "claimId", c.ID, "userId", c.UserID, "error", err)
			continue
		}
		reply, err := p.process(ctx, user, c.ID)
		if err != nil {
			p.logger.Debugw("Claim retry failed", "claimId", c.ID, "error", err)
			continue
		}
		if reply.Status == ledger.StatusSuccess {
			paid++
		}
	}
	if len(claims) > 0 {
		p.logger.Infow("Claims sweep finished", "unclaimed", len(claims), "paid", paid)
	}
	return paid
}
