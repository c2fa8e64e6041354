// Package archive mirrors finalized requests to secondary stores. Archiving is
// best effort: Enqueue never blocks settlement, and sink failures are logged
// and counted but never reported back to the request.
package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	"go.uber.org/zap"
)

// Record is everything written about one finalized request.
type Record struct {
	Request    ledger.Request    `json:"request"`
	Transfers  []ledger.Transfer `json:"transfers"`
	Claims     []ledger.Claim    `json:"claims"`
	Tx         *ledger.Tx        `json:"tx,omitempty"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// Sink is one archive destination.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

type Metrics interface {
	RecordArchiveFailure(ctx context.Context, sink string)
}

type noopMetrics struct{}

func (noopMetrics) RecordArchiveFailure(context.Context, string) {}

type Config struct {
	QueueSize int
	Workers   int
	// SinkTimeout bounds each sink write.
	SinkTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   1024,
		Workers:     2,
		SinkTimeout: 5 * time.Second,
	}
}

type Dispatcher struct {
	ledger  *ledger.Ledger
	sinks   []Sink
	logger  *zap.SugaredLogger
	metrics Metrics
	config  Config

	queue chan uint64
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(led *ledger.Ledger, logger *zap.SugaredLogger, config Config, metrics Metrics, sinks ...Sink) *Dispatcher {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = def.SinkTimeout
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		ledger:  led,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		config:  config,
		queue:   make(chan uint64, config.QueueSize),
	}
}

// Enqueue schedules requestID for archiving. A full queue drops the id.
func (d *Dispatcher) Enqueue(requestID uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- requestID:
	default:
		d.logger.Warnw("Archive queue full, dropping request", "requestId", requestID)
		d.metrics.RecordArchiveFailure(context.Background(), "queue")
	}
}

// Start launches the workers. They exit once Close has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	d.logger.Infow("Archive dispatcher starting", "sinks", names, "workers", d.config.Workers)

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for id := range d.queue {
				d.archive(ctx, id)
			}
		}()
	}
}

// Close stops accepting ids and waits for queued ones to be written, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load assembles the record for requestID from the ledger.
func (d *Dispatcher) Load(ctx context.Context, requestID uint64) (Record, error) {
	r, err := d.ledger.GetRequest(ctx, requestID)
	if err != nil {
		return Record{}, err
	}
	transfers, err := d.ledger.TransfersByRequest(ctx, requestID)
	if err != nil {
		return Record{}, err
	}
	claims, err := d.ledger.ClaimsByRequest(ctx, requestID)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Request: r, Transfers: transfers, Claims: claims, ArchivedAt: time.Now().UTC()}

	tx, err := d.ledger.TxByRequest(ctx, requestID)
	switch {
	case err == nil:
		rec.Tx = &tx
	case !errors.Is(err, ledger.ErrNotFound):
		return Record{}, err
	}
	return rec, nil
}

func (d *Dispatcher) archive(ctx context.Context, requestID uint64) {
	rec, err := d.Load(ctx, requestID)
	if err != nil {
		d.logger.Warnw("Failed to load request for archive", "requestId", requestID, "error", err)
		d.metrics.RecordArchiveFailure(ctx, "load")
		return
	}
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.config.SinkTimeout)
		err := sink.Write(sctx, rec)
		cancel()
		if err != nil {
			d.logger.Warnw("Archive sink failed", "sink", sink.Name(), "requestId", requestID, "error", err)
			d.metrics.RecordArchiveFailure(ctx, sink.Name())
			continue
		}
		d.logger.Debugw("Archived request", "sink", sink.Name(), "requestId", requestID)
	}
}
