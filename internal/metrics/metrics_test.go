package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentsAreExported(t *testing.T) {
	m, handler, err := SetupWithRegistry("kong-test", promclient.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSwap(ctx, ledger.StatusSuccess, 2)
	m.RecordDuplicateTransfer(ctx)
	m.RecordClaimCreated(ctx, "ckUSDT")
	m.RecordClaimAttempt(ctx, ledger.StatusFailed)
	m.RecordArchiveFailure(ctx, "nats")
	m.RecordHTTPRequest(ctx, "POST", "/v1/swap", 200, 15*time.Millisecond)
	m.IncrementConnections(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"kong_swaps_total",
		"kong_duplicate_transfers_total",
		"kong_claims_created_total",
		"kong_claim_attempts_total",
		"kong_archive_failures_total",
		"kong_http_requests_total",
		"kong_stream_connections",
	} {
		assert.Contains(t, string(body), name)
	}
	assert.Contains(t, string(body), `status="Success"`)
	assert.Contains(t, string(body), `sink="nats"`)
}
