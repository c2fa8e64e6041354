package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	upsertRequest = `
INSERT INTO archive_requests (request_id, user_id, kind, args, statuses, reply, ts, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (request_id) DO UPDATE
SET statuses = EXCLUDED.statuses, reply = EXCLUDED.reply, archived_at = EXCLUDED.archived_at`

	upsertTransfer = `
INSERT INTO archive_transfers (transfer_id, request_id, direction, token_id, amount, tx_ref, ts)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
ON CONFLICT (transfer_id) DO NOTHING`

	upsertClaim = `
INSERT INTO archive_claims (claim_id, user_id, request_id, status, token_id, amount, to_address, attempts, transfer_ids, ts)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
ON CONFLICT (claim_id) DO UPDATE
SET status = EXCLUDED.status, attempts = EXCLUDED.attempts, transfer_ids = EXCLUDED.transfer_ids`

	upsertTx = `
INSERT INTO archive_txs (tx_id, user_id, request_id, status, kind, body, transfer_ids, claim_ids, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tx_id) DO UPDATE
SET status = EXCLUDED.status, body = EXCLUDED.body`
)

// PostgresSink upserts records into the archive_* tables created by the
// migrations under sql/.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	batch, err := buildBatch(rec)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func buildBatch(rec Record) (*pgx.Batch, error) {
	r := rec.Request
	if r.Payload == nil {
		return nil, fmt.Errorf("request #%d has no payload", r.ID)
	}
	args, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	statuses, err := json.Marshal(r.Statuses)
	if err != nil {
		return nil, err
	}
	var reply []byte
	if len(r.Reply) > 0 {
		reply = r.Reply
	}

	batch := &pgx.Batch{}
	batch.Queue(upsertRequest, int64(r.ID), int64(r.UserID), string(r.Payload.Kind()), args, statuses, reply, r.TS, rec.ArchivedAt)

	for _, t := range rec.Transfers {
		batch.Queue(upsertTransfer, int64(t.ID), int64(t.RequestID), string(t.Direction), int64(t.TokenID), t.Amount.String(), t.TxRef, t.TS)
	}

	for _, c := range rec.Claims {
		var requestID *int64
		if c.RequestID != nil {
			id := int64(*c.RequestID)
			requestID = &id
		}
		var to *string
		if c.ToAddress != nil {
			v := c.ToAddress.String()
			to = &v
		}
		attempts, err := json.Marshal(c.Attempts)
		if err != nil {
			return nil, err
		}
		transferIDs, err := json.Marshal(c.TransferIDs)
		if err != nil {
			return nil, err
		}
		batch.Queue(upsertClaim, int64(c.ID), int64(c.UserID), requestID, string(c.Status), int64(c.TokenID), c.Amount.String(), to, attempts, transferIDs, c.TS)
	}

	if tx := rec.Tx; tx != nil && tx.Body != nil {
		body, err := json.Marshal(tx.Body)
		if err != nil {
			return nil, err
		}
		transferIDs, err := json.Marshal(tx.TransferIDs)
		if err != nil {
			return nil, err
		}
		claimIDs, err := json.Marshal(tx.ClaimIDs)
		if err != nil {
			return nil, err
		}
		batch.Queue(upsertTx, int64(tx.ID), int64(tx.UserID), int64(tx.RequestID), string(tx.Status), string(tx.Body.Kind()), body, transferIDs, claimIDs, tx.TS)
	}
	return batch, nil
}

func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
