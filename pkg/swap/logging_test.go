package swap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"swapctl/pkg/types"
)

func TestExecute_LogsRateLimitAndCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarness(t, testConfig())
	h.exec = New(zap.New(core), h.pool, h.quoter, h.signer, h.ledger, testConfig(), WithClock(h.clock.Now))

	h.quoter.quote = func(ep string, n int) (*types.QuoteResult, error) {
		if ep == "https://a.example" {
			return rateLimited(ep, n)
		}
		return &types.QuoteResult{ExpectedOutputAmount: 150_000_000, SourceEndpoint: ep}, nil
	}

	out := h.exec.Execute(context.Background(), validRequest())
	require.True(t, out.Succeeded())

	limited := logs.FilterMessage("swap.endpoint_rate_limited").All()
	require.Len(t, limited, 1)
	fields := limited[0].ContextMap()
	assert.Equal(t, "https://a.example", fields["endpoint"])
	assert.Equal(t, StageQuote, fields["stage"])
	assert.Equal(t, out.RequestID, fields["request_id"])

	completed := logs.FilterMessage("swap.completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "sig-1", completed[0].ContextMap()["reference"])
	assert.Equal(t, zapcore.InfoLevel, completed[0].Level)
}

func TestExecute_LogsFailureKind(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, testConfig())
	h.exec = New(zap.New(core), h.pool, h.quoter, h.signer, h.ledger, testConfig(), WithClock(h.clock.Now))
	h.quoter.quote = rateLimited

	out := h.exec.Execute(context.Background(), validRequest())
	require.False(t, out.Succeeded())

	failed := logs.FilterMessage("swap.failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, string(types.KindNoLiquidity), failed[0].ContextMap()["kind"])
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
}
