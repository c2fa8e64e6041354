package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kongswap/kong-backend/pkg/kv"
)

const (
	keyArchiveRequests  = "kong:archive:requests"
	keyArchiveTransfers = "kong:archive:transfers"
	keyArchiveClaims    = "kong:archive:claims"
	keyArchiveTxs       = "kong:archive:txs"
)

// KVSink copies records into archive hashes keyed by the same ids as the
// primary maps. Rewriting a record overwrites the previous copy.
type KVSink struct {
	store kv.Store
}

func NewKVSink(store kv.Store) *KVSink {
	return &KVSink{store: store}
}

func (s *KVSink) Name() string { return "kv" }

func (s *KVSink) Write(ctx context.Context, rec Record) error {
	if err := s.put(ctx, keyArchiveRequests, rec.Request.ID, rec.Request); err != nil {
		return err
	}
	for _, t := range rec.Transfers {
		if err := s.put(ctx, keyArchiveTransfers, t.ID, t); err != nil {
			return err
		}
	}
	for _, c := range rec.Claims {
		if err := s.put(ctx, keyArchiveClaims, c.ID, c); err != nil {
			return err
		}
	}
	if rec.Tx != nil {
		if err := s.put(ctx, keyArchiveTxs, rec.Tx.ID, rec.Tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVSink) put(ctx context.Context, key string, id uint64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s #%d: %w", key, id, err)
	}
	return s.store.HSet(ctx, key, strconv.FormatUint(id, 10), raw)
}

// ArchivedRequest reads back a mirrored request.
func (s *KVSink) ArchivedRequest(ctx context.Context, id uint64) ([]byte, error) {
	return s.store.HGet(ctx, keyArchiveRequests, strconv.FormatUint(id, 10))
}
