package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"swapctl/pkg/metrics"
	"swapctl/pkg/types"
)

const (
	StageQuote = "quote"
	StageSwap  = "swap"

	// maxErrorBody bounds how much of an error response ends up in messages.
	maxErrorBody = 512
)

// Config tunes the quote/swap HTTP client
type Config struct {
	Timeout                 time.Duration // per request
	RequestsPerSecond       float64       // per endpoint; 0 disables limiting
	Burst                   int
	APIKey                  string
	WrapAndUnwrapSol        bool
	DynamicComputeUnitLimit bool
}

// StatusError is returned when an endpoint answers with a non-2xx status
type StatusError struct {
	Endpoint   string
	Stage      string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Stage, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Stage, e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, types.ErrRateLimited) match HTTP 429
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return types.ErrRateLimited
	}
	return nil
}

// Client talks to Jupiter-compatible quote and swap endpoints. The endpoint
// base URL is chosen per call; the client itself holds no rotation state.
type Client struct {
	logger   *zap.Logger
	http     *http.Client
	cfg      Config
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a quote/swap client
func New(logger *zap.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		logger:   logger,
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// quoteResponse holds the fields we read from a quote; the full body is
// kept verbatim as the route descriptor.
type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct json.RawMessage `json:"priceImpactPct"`
	Error          string          `json:"error"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports any             `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64, unsigned
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	Error                string `json:"error"`
}

// Quote requests a quote for req from endpoint
func (c *Client) Quote(ctx context.Context, endpoint string, req types.SwapRequest) (*types.QuoteResult, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputAsset.Mint)
	q.Set("outputMint", req.OutputAsset.Mint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.MaxSlippageBps))
	q.Set("swapMode", "ExactIn")
	q.Set("onlyDirectRoutes", "false")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, endpoint, StageQuote, httpReq)
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.IncEndpointRequest(endpoint, StageQuote, "malformed")
		return nil, fmt.Errorf("decode quote from %s: %w: %v", endpoint, types.ErrMalformedResponse, err)
	}
	quote, err := parseQuote(resp, req)
	if err != nil {
		metrics.IncEndpointRequest(endpoint, StageQuote, "malformed")
		return nil, fmt.Errorf("quote from %s: %w", endpoint, err)
	}
	quote.RouteDescriptor = json.RawMessage(body)
	quote.SourceEndpoint = endpoint

	metrics.IncEndpointRequest(endpoint, StageQuote, "ok")
	c.logger.Debug("swap.quote_received",
		zap.String("endpoint", endpoint),
		zap.String("input", req.InputAsset.String()),
		zap.String("output", req.OutputAsset.String()),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("expected_out", quote.ExpectedOutputAmount),
		zap.Int("price_impact_bps", quote.PriceImpactBps))

	return quote, nil
}

func parseQuote(resp quoteResponse, req types.SwapRequest) (*types.QuoteResult, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", types.ErrMalformedResponse, resp.Error)
	}
	if resp.OutAmount == "" {
		return nil, fmt.Errorf("%w: missing outAmount", types.ErrMalformedResponse)
	}
	out, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid outAmount %q", types.ErrMalformedResponse, resp.OutAmount)
	}
	if resp.InputMint != "" && resp.InputMint != req.InputAsset.Mint {
		return nil, fmt.Errorf("%w: quote is for input %s", types.ErrMalformedResponse, resp.InputMint)
	}
	if resp.OutputMint != "" && resp.OutputMint != req.OutputAsset.Mint {
		return nil, fmt.Errorf("%w: quote is for output %s", types.ErrMalformedResponse, resp.OutputMint)
	}

	impact, err := parsePct(resp.PriceImpactPct)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid priceImpactPct: %v", types.ErrMalformedResponse, err)
	}

	return &types.QuoteResult{
		ExpectedOutputAmount: out,
		PriceImpactBps:       int(impact.Mul(decimal.NewFromInt(100)).Round(0).IntPart()),
	}, nil
}

// parsePct accepts a percentage encoded either as a JSON string or number
func parsePct(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// BuildSwap asks endpoint for an unsigned transaction executing quote on
// behalf of wallet. A nil priorityFee lets the endpoint pick one.
func (c *Client) BuildSwap(ctx context.Context, endpoint string, quote *types.QuoteResult, wallet string, priorityFee *uint64) ([]byte, error) {
	payload := swapRequest{
		QuoteResponse:             quote.RouteDescriptor,
		UserPublicKey:             wallet,
		WrapAndUnwrapSol:          c.cfg.WrapAndUnwrapSol,
		DynamicComputeUnitLimit:   c.cfg.DynamicComputeUnitLimit,
		PrioritizationFeeLamports: "auto",
	}
	if priorityFee != nil {
		payload.PrioritizationFeeLamports = *priorityFee
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/swap", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, endpoint, StageSwap, httpReq)
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.IncEndpointRequest(endpoint, StageSwap, "malformed")
		return nil, fmt.Errorf("decode swap from %s: %w: %v", endpoint, types.ErrMalformedResponse, err)
	}
	if resp.Error != "" || resp.SwapTransaction == "" {
		metrics.IncEndpointRequest(endpoint, StageSwap, "malformed")
		return nil, fmt.Errorf("swap from %s: %w: no swapTransaction %s", endpoint, types.ErrMalformedResponse, resp.Error)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		metrics.IncEndpointRequest(endpoint, StageSwap, "malformed")
		return nil, fmt.Errorf("swap from %s: %w: decode tx: %v", endpoint, types.ErrMalformedResponse, err)
	}

	metrics.IncEndpointRequest(endpoint, StageSwap, "ok")
	c.logger.Debug("swap.payload_built",
		zap.String("endpoint", endpoint),
		zap.Int("bytes", len(raw)),
		zap.Uint64("last_valid_block_height", resp.LastValidBlockHeight))

	return raw, nil
}

// do waits for the endpoint's limiter, performs the request and returns the
// body of a 2xx response. Non-2xx responses become *StatusError.
func (c *Client) do(ctx context.Context, endpoint, stage string, req *http.Request) ([]byte, error) {
	if lim := c.limiter(endpoint); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveDuration(metrics.EndpointRequestDuration, start, stage)
	if err != nil {
		metrics.IncEndpointRequest(endpoint, stage, "error")
		c.logger.Warn("swap.http_failed",
			zap.String("stage", stage),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return nil, fmt.Errorf("%s request to %s: %w", stage, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncEndpointRequest(endpoint, stage, "error")
		return nil, fmt.Errorf("read %s response from %s: %w", stage, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result := "error"
		if resp.StatusCode == http.StatusTooManyRequests {
			result = "rate_limited"
		}
		metrics.IncEndpointRequest(endpoint, stage, result)
		c.logger.Warn("swap.non_2xx",
			zap.String("stage", stage),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)))
		return nil, &StatusError{
			Endpoint:   endpoint,
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	return body, nil
}

// errorMessage extracts a readable message from an error body
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var errorResp map[string]interface{}
	if err := json.Unmarshal(body, &errorResp); err == nil {
		for _, key := range []string{"error", "message", "errorCode"} {
			if msg, ok := errorResp[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}

func (c *Client) limiter(endpoint string) *rate.Limiter {
	if c.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[endpoint]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
		c.limiters[endpoint] = lim
	}
	return lim
}
