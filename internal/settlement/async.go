package settlement

import (
	"context"

	"github.com/kongswap/kong-backend/internal/ledger"
)

type swapJob struct {
	user      ledger.User
	requestID uint64
	req       SwapRequest
}

// Start launches the workers that drain SwapAsync requests; call once during
// startup. Workers run until Shutdown closes the queue: cancelling ctx does not
// abandon requests that were already recorded.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	s.logger.Infow("Settlement workers starting", "workers", s.cfg.Workers, "queue", s.cfg.QueueSize)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			for job := range s.jobs {
				s.runJob(ctx, job)
			}
		}()
	}
}

func (s *Service) runJob(ctx context.Context, job swapJob) {
	defer s.wg.Done()
	if _, err := s.settle(ctx, job.user, job.requestID, job.req); err != nil {
		s.logger.Debugw("Async swap failed", "requestId", job.requestID, "error", err)
	}
}

// SwapAsync records the request and returns its id; settlement continues in
// the background through the same state machine Swap uses. The request is
// recorded with Start before SwapAsync returns.
func (s *Service) SwapAsync(ctx context.Context, req SwapRequest) (uint64, error) {
	user, r, err := s.intake(ctx, req)
	if err != nil {
		return 0, err
	}
	job := swapJob{user: user, requestID: r.ID, req: req}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.started && !s.closed {
		select {
		case s.jobs <- job:
			return r.ID, nil
		default:
			s.logger.Warnw("Settlement queue full, settling outside the pool", "requestId", r.ID)
		}
	}
	// A recorded request must always settle, even without a worker to take it.
	go s.runJob(context.WithoutCancel(ctx), job)
	return r.ID, nil
}

// Shutdown stops accepting requests and waits for every recorded one, sync
// or async, to reach a terminal status, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("Settlement drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
