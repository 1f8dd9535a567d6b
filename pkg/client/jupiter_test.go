package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swapctl/pkg/types"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func testRequest() types.SwapRequest {
	return types.SwapRequest{
		InputAsset:     types.Asset{Symbol: "SOL", Mint: solMint, Decimals: 9},
		OutputAsset:    types.Asset{Symbol: "USDC", Mint: usdcMint, Decimals: 6},
		Amount:         1_000_000_000,
		MaxSlippageBps: 50,
	}
}

func newTestClient() *Client {
	return New(zap.NewNop(), Config{Timeout: 2 * time.Second, WrapAndUnwrapSol: true})
}

func TestQuote_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, solMint, q.Get("inputMint"))
		assert.Equal(t, usdcMint, q.Get("outputMint"))
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "50", q.Get("slippageBps"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inputMint":"` + solMint + `","outputMint":"` + usdcMint +
			`","inAmount":"1000000000","outAmount":"153210000","priceImpactPct":"0.12","routePlan":[]}`))
	}))
	defer srv.Close()

	quote, err := newTestClient().Quote(context.Background(), srv.URL, testRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(153210000), quote.ExpectedOutputAmount)
	assert.Equal(t, 12, quote.PriceImpactBps)
	assert.Equal(t, srv.URL, quote.SourceEndpoint)
	assert.True(t, json.Valid(quote.RouteDescriptor))
	assert.Contains(t, string(quote.RouteDescriptor), "routePlan")
}

func TestQuote_NumericPriceImpact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount":"10","priceImpactPct":1.5}`))
	}))
	defer srv.Close()

	quote, err := newTestClient().Quote(context.Background(), srv.URL, testRequest())
	require.NoError(t, err)
	assert.Equal(t, 150, quote.PriceImpactBps)
}

func TestQuote_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	_, err := newTestClient().Quote(context.Background(), srv.URL, testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRateLimited))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, StageQuote, se.Stage)
	assert.Equal(t, "slow down", se.Message)
}

func TestQuote_ServerErrorIsNotRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	_, err := newTestClient().Quote(context.Background(), srv.URL, testRequest())
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrRateLimited))
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestQuote_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `<html>`,
		"missing out":   `{"inAmount":"1"}`,
		"bad out":       `{"outAmount":"-4"}`,
		"wrong pair":    `{"inputMint":"other","outAmount":"1"}`,
		"error in body": `{"error":"no route","outAmount":"1"}`,
		"bad impact":    `{"outAmount":"1","priceImpactPct":"abc"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient().Quote(context.Background(), srv.URL, testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrMalformedResponse)
		})
	}
}

func TestBuildSwap(t *testing.T) {
	txBytes := []byte{1, 2, 3, 4, 5}
	fee := uint64(5000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/swap", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Wallet111", body["userPublicKey"])
		assert.Equal(t, true, body["wrapAndUnwrapSol"])
		assert.Equal(t, float64(5000), body["prioritizationFeeLamports"])
		quote, ok := body["quoteResponse"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "42", quote["outAmount"])

		_, _ = w.Write([]byte(`{"swapTransaction":"` + base64.StdEncoding.EncodeToString(txBytes) + `","lastValidBlockHeight":99}`))
	}))
	defer srv.Close()

	quote := &types.QuoteResult{
		ExpectedOutputAmount: 42,
		RouteDescriptor:      json.RawMessage(`{"outAmount":"42"}`),
		SourceEndpoint:       srv.URL,
	}
	raw, err := newTestClient().BuildSwap(context.Background(), srv.URL, quote, "Wallet111", &fee)
	require.NoError(t, err)
	assert.Equal(t, txBytes, raw)
}

func TestBuildSwap_AutoPriorityFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "auto", body["prioritizationFeeLamports"])
		_, _ = w.Write([]byte(`{"swapTransaction":"AQID"}`))
	}))
	defer srv.Close()

	quote := &types.QuoteResult{RouteDescriptor: json.RawMessage(`{}`)}
	raw, err := newTestClient().BuildSwap(context.Background(), srv.URL, quote, "Wallet111", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}

func TestBuildSwap_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"swapTransaction":"!!!not-base64"}`))
	}))
	defer srv.Close()

	quote := &types.QuoteResult{RouteDescriptor: json.RawMessage(`{}`)}
	_, err := newTestClient().BuildSwap(context.Background(), srv.URL, quote, "Wallet111", nil)
	assert.ErrorIs(t, err, types.ErrMalformedResponse)
}

func TestQuote_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient().Quote(ctx, srv.URL, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiterPerEndpoint(t *testing.T) {
	c := New(zap.NewNop(), Config{RequestsPerSecond: 5, Burst: 2})
	a := c.limiter("https://a")
	require.NotNil(t, a)
	assert.Same(t, a, c.limiter("https://a"))
	assert.NotSame(t, a, c.limiter("https://b"))

	assert.Nil(t, newTestClient().limiter("https://a"))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", errorMessage(nil))
	assert.Equal(t, "bad", errorMessage([]byte(`{"message":"bad"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("  plain text \n")))

	long := make([]byte, maxErrorBody+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, errorMessage(long), maxErrorBody+3)
}
