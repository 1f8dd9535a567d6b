package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swapctl/pkg/endpoint"
	"swapctl/pkg/metrics"
	"swapctl/pkg/types"
)

const (
	StageQuote   = "quote"
	StageBuild   = "swap"
	StageSign    = "sign"
	StageSubmit  = "submit"
	StageConfirm = "confirm"

	resultOK          = "ok"
	resultError       = "error"
	resultRateLimited = "rate_limited"
	resultDust        = "dust"

	sinkTimeout = 5 * time.Second
)

// Quoter fetches quotes and unsigned swap transactions from one endpoint
type Quoter interface {
	Quote(ctx context.Context, endpoint string, req types.SwapRequest) (*types.QuoteResult, error)
	BuildSwap(ctx context.Context, endpoint string, quote *types.QuoteResult, wallet string, priorityFee *uint64) ([]byte, error)
}

// Signer turns an unsigned payload into a signed one. The executor never
// sees key material.
type Signer interface {
	Identity() string
	Sign(ctx context.Context, unsigned []byte) ([]byte, error)
}

// Ledger submits signed transactions and reports their confirmation.
// Submit errors wrapping types.ErrRejected are final.
type Ledger interface {
	Submit(ctx context.Context, signed []byte) (string, error)
	PollConfirmation(ctx context.Context, reference string, timeout time.Duration) (types.Confirmation, error)
}

// OutputObserver is implemented by ledgers that can report how much of an
// asset a confirmed transaction delivered
type OutputObserver interface {
	ObserveOutput(ctx context.Context, reference, owner, mint string) (uint64, error)
}

// Sink receives every outcome after it is final
type Sink interface {
	Name() string
	Record(ctx context.Context, outcome types.SwapOutcome) error
}

// Config controls retry, dust and confirmation behavior
type Config struct {
	Backoff        Policy
	DustThreshold  decimal.Decimal // reference units of the output asset; quotes below it are dust, equal passes
	ConfirmTimeout time.Duration   // 0 skips the confirmation wait
	// RequireConfirmation turns an unobserved confirmation into a
	// ConfirmationUnknown failure instead of an optimistic success.
	RequireConfirmation bool
}

// Executor converts one asset into another through a pool of quote/swap
// endpoints. It is safe for concurrent use; concurrent calls share only the
// endpoint pool.
type Executor struct {
	logger *zap.Logger
	pool   *endpoint.Pool
	quoter Quoter
	signer Signer
	ledger Ledger
	cfg    Config
	sinks  []Sink
	now    func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithSinks adds outcome sinks
func WithSinks(sinks ...Sink) Option {
	return func(e *Executor) {
		e.sinks = append(e.sinks, sinks...)
	}
}

// WithClock overrides the clock used for outcome timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New creates an executor owning pool
func New(logger *zap.Logger, pool *endpoint.Pool, quoter Quoter, signer Signer, ledger Ledger, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		logger: logger,
		pool:   pool,
		quoter: quoter,
		signer: signer,
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CurrentEndpoint returns the endpoint the next request would start with
func (e *Executor) CurrentEndpoint() string {
	return e.pool.Current()
}

// PoolHealth returns a snapshot of every endpoint
func (e *Executor) PoolHealth() []endpoint.Health {
	return e.pool.Health()
}

// run accumulates the state of one Execute call
type run struct {
	outcome  types.SwapOutcome
	failures []string // per endpoint, for the exhaustion message
}

func (r *run) record(ep, stage, result string, err error, start time.Time) {
	a := types.Attempt{
		Endpoint: ep,
		Stage:    stage,
		Result:   result,
		Duration: time.Since(start),
	}
	if err != nil {
		a.Error = err.Error()
	}
	r.outcome.Attempts = append(r.outcome.Attempts, a)
}

func (r *run) fail(kind types.ErrorKind, ep, msg string) types.SwapOutcome {
	r.outcome.Failure = &types.SwapFailure{Kind: kind, Message: msg, EndpointTried: ep}
	return r.outcome
}

// Execute runs one swap request to a terminal outcome. It never panics on
// collaborator errors and always returns exactly one outcome.
func (e *Executor) Execute(ctx context.Context, req types.SwapRequest) types.SwapOutcome {
	start := time.Now()
	r := &run{outcome: types.SwapOutcome{
		RequestID: uuid.NewString(),
		Request:   req,
		StartedAt: e.now(),
	}}

	out := e.execute(ctx, req, r)
	out.FinishedAt = e.now()

	e.report(ctx, out, start)
	return out
}

func (e *Executor) execute(ctx context.Context, req types.SwapRequest, r *run) types.SwapOutcome {
	if err := req.Validate(); err != nil {
		return r.fail(types.KindInvalidRequest, "", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return r.fail(types.KindCanceled, "", "canceled before any request: "+err.Error())
	}

	log := e.logger.With(zap.String("request_id", r.outcome.RequestID))
	pass := e.pool.Pass()
	var last string
	for {
		ep, ok := pass.Next()
		if !ok {
			break
		}
		last = ep
		if err := ctx.Err(); err != nil {
			return r.fail(types.KindCanceled, ep, "canceled while quoting: "+err.Error())
		}

		quote, err := e.quote(ctx, log, r, ep, req)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(types.KindCanceled, ep, "canceled while quoting: "+ctx.Err().Error())
			}
			r.failures = append(r.failures, fmt.Sprintf("%s: %v", ep, err))
			continue
		}

		payload, err := e.buildSwap(ctx, log, r, ep, quote, req)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(types.KindCanceled, ep, "canceled while building swap: "+ctx.Err().Error())
			}
			r.failures = append(r.failures, fmt.Sprintf("%s: %v", ep, err))
			continue
		}

		e.pool.RecordSuccess(ep)
		r.outcome.Endpoint = ep
		return e.settle(ctx, log, r, ep, quote, payload, req)
	}

	if len(r.failures) == 0 {
		return r.fail(types.KindNoLiquidity, last,
			fmt.Sprintf("all %d endpoints are cooling down after rate limiting", e.pool.Len()))
	}
	return r.fail(types.KindNoLiquidity, last,
		fmt.Sprintf("no viable quote from %d endpoint(s): %s", len(r.failures), strings.Join(r.failures, "; ")))
}

// quote asks one endpoint for a quote and checks it is worth executing
func (e *Executor) quote(ctx context.Context, log *zap.Logger, r *run, ep string, req types.SwapRequest) (*types.QuoteResult, error) {
	start := time.Now()
	q, err := e.quoter.Quote(ctx, ep, req)
	if err != nil {
		if errors.Is(err, types.ErrRateLimited) {
			r.record(ep, StageQuote, resultRateLimited, err, start)
			return nil, e.rateLimited(log, ep, StageQuote)
		}
		r.record(ep, StageQuote, resultError, err, start)
		if ctx.Err() == nil {
			e.pool.RecordFailure(ep, err.Error())
			log.Warn("swap.quote_failed", zap.String("endpoint", ep), zap.Error(err))
		}
		return nil, err
	}
	if q == nil || q.ExpectedOutputAmount == 0 {
		err := fmt.Errorf("%w: quote has no expected output", types.ErrMalformedResponse)
		r.record(ep, StageQuote, resultError, err, start)
		e.pool.RecordFailure(ep, err.Error())
		return nil, err
	}

	threshold := e.dustThreshold(req.OutputAsset)
	if out := req.OutputAsset.ReferenceAmount(q.ExpectedOutputAmount); out.LessThan(threshold) {
		err := fmt.Errorf("quote of %s %s is below dust threshold %s", out, req.OutputAsset, threshold)
		r.record(ep, StageQuote, resultDust, err, start)
		e.pool.RecordFailure(ep, err.Error())
		log.Info("swap.quote_dust", zap.String("endpoint", ep), zap.String("output", out.String()),
			zap.String("threshold", threshold.String()))
		return nil, err
	}

	r.record(ep, StageQuote, resultOK, nil, start)
	return q, nil
}

func (e *Executor) dustThreshold(asset types.Asset) decimal.Decimal {
	if asset.DustThreshold.IsPositive() {
		return asset.DustThreshold
	}
	return e.cfg.DustThreshold
}

// rateLimited puts ep into cooldown and returns the error describing it
func (e *Executor) rateLimited(log *zap.Logger, ep, stage string) error {
	until := e.pool.MarkRateLimited(ep, e.cfg.Backoff.Delay)
	metrics.IncCooldown(ep)
	log.Warn("swap.endpoint_rate_limited",
		zap.String("endpoint", ep),
		zap.String("stage", stage),
		zap.Time("cooldown_until", until))
	return fmt.Errorf("%w (cooling down until %s)", types.ErrRateLimited, until.Format(time.RFC3339))
}

// buildSwap requests the unsigned transaction from the endpoint that quoted,
// retrying once after backoff(0)
func (e *Executor) buildSwap(ctx context.Context, log *zap.Logger, r *run, ep string, quote *types.QuoteResult, req types.SwapRequest) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.cfg.Backoff.Delay(0)); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		payload, err := e.quoter.BuildSwap(ctx, ep, quote, e.signer.Identity(), req.PriorityFee)
		if err == nil {
			r.record(ep, StageBuild, resultOK, nil, start)
			return payload, nil
		}
		if ctx.Err() != nil {
			r.record(ep, StageBuild, resultError, err, start)
			return nil, err
		}
		if errors.Is(err, types.ErrRateLimited) {
			r.record(ep, StageBuild, resultRateLimited, err, start)
			return nil, e.rateLimited(log, ep, StageBuild)
		}

		r.record(ep, StageBuild, resultError, err, start)
		log.Warn("swap.build_failed", zap.String("endpoint", ep), zap.Int("attempt", attempt+1), zap.Error(err))
		lastErr = err
	}

	e.pool.RecordFailure(ep, lastErr.Error())
	return nil, lastErr
}

// settle signs, submits and waits for confirmation. No endpoint rotation
// happens from here on.
func (e *Executor) settle(ctx context.Context, log *zap.Logger, r *run, ep string, quote *types.QuoteResult, payload []byte, req types.SwapRequest) types.SwapOutcome {
	start := time.Now()
	signed, err := e.signer.Sign(ctx, payload)
	metrics.ObserveDuration(metrics.LedgerStageDuration, start, StageSign)
	if err != nil {
		r.record(ep, StageSign, resultError, err, start)
		if ctx.Err() != nil {
			return r.fail(types.KindCanceled, ep, "canceled while signing: "+ctx.Err().Error())
		}
		return r.fail(types.KindSigningFailure, ep, err.Error())
	}
	r.record(ep, StageSign, resultOK, nil, start)

	if err := ctx.Err(); err != nil {
		return r.fail(types.KindCanceled, ep, "canceled before submission: "+err.Error())
	}

	ref, err := e.submit(ctx, log, r, ep, signed)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, types.ErrRejected) {
			return r.fail(types.KindCanceled, ep, "canceled during submission: "+ctx.Err().Error())
		}
		return r.fail(types.KindSubmissionRejected, ep, err.Error())
	}
	log.Info("swap.submitted", zap.String("endpoint", ep), zap.String("reference", ref))

	success := &types.SwapSuccess{
		TransactionReference: ref,
		ActualOutputAmount:   quote.ExpectedOutputAmount,
		ExpectedOutputAmount: quote.ExpectedOutputAmount,
	}

	if e.cfg.ConfirmTimeout <= 0 {
		return e.unconfirmed(r, ep, success, "confirmation not awaited")
	}

	start = time.Now()
	conf, err := e.ledger.PollConfirmation(ctx, ref, e.cfg.ConfirmTimeout)
	metrics.ObserveDuration(metrics.LedgerStageDuration, start, StageConfirm)
	switch {
	case err != nil && ctx.Err() != nil:
		r.record(ep, StageConfirm, resultError, err, start)
		out := r.fail(types.KindCanceled, ep, "canceled while awaiting confirmation; the transaction was submitted and may still land")
		out.Failure.TransactionReference = ref
		return out
	case err != nil:
		r.record(ep, StageConfirm, resultError, err, start)
		log.Warn("swap.confirmation_failed", zap.String("reference", ref), zap.Error(err))
		return e.unconfirmed(r, ep, success, "confirmation unverified: "+err.Error())
	case conf.Status == types.ConfirmationFailed:
		r.record(ep, StageConfirm, string(conf.Status), errors.New(conf.Error), start)
		out := r.fail(types.KindSubmissionRejected, ep, "transaction failed on-chain: "+conf.Error)
		out.Failure.TransactionReference = ref
		return out
	case conf.Status.Landed():
		r.record(ep, StageConfirm, string(conf.Status), nil, start)
	default:
		r.record(ep, StageConfirm, string(conf.Status), nil, start)
		return e.unconfirmed(r, ep, success,
			fmt.Sprintf("confirmation not observed within %s", e.cfg.ConfirmTimeout))
	}

	success.Confirmed = true
	if obs, ok := e.ledger.(OutputObserver); ok {
		amount, err := obs.ObserveOutput(ctx, ref, e.signer.Identity(), req.OutputAsset.Mint)
		if err != nil {
			log.Warn("swap.output_unobserved", zap.String("reference", ref), zap.Error(err))
			success.Note = "output amount taken from quote"
		} else {
			success.ActualOutputAmount = amount
			success.OutputObserved = true
		}
	}
	r.outcome.Success = success
	return r.outcome
}

// submit sends the signed transaction, retrying a transient failure once.
// Resending identical signed bytes cannot execute twice.
func (e *Executor) submit(ctx context.Context, log *zap.Logger, r *run, ep string, signed []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.cfg.Backoff.Delay(0)); err != nil {
				return "", err
			}
		}

		start := time.Now()
		ref, err := e.ledger.Submit(ctx, signed)
		metrics.ObserveDuration(metrics.LedgerStageDuration, start, StageSubmit)
		if err == nil {
			r.record(ep, StageSubmit, resultOK, nil, start)
			return ref, nil
		}
		r.record(ep, StageSubmit, resultError, err, start)
		if errors.Is(err, types.ErrRejected) || ctx.Err() != nil {
			return "", err
		}
		log.Warn("swap.submit_failed", zap.Int("attempt", attempt+1), zap.Error(err))
		lastErr = err
	}
	return "", lastErr
}

// unconfirmed resolves a submitted but unconfirmed transaction according to
// the confirmation policy
func (e *Executor) unconfirmed(r *run, ep string, success *types.SwapSuccess, note string) types.SwapOutcome {
	if e.cfg.RequireConfirmation {
		out := r.fail(types.KindConfirmationUnknown, ep, note)
		out.Failure.TransactionReference = success.TransactionReference
		return out
	}
	success.Note = note
	r.outcome.Success = success
	return r.outcome
}

// report logs, counts and forwards a final outcome
func (e *Executor) report(ctx context.Context, out types.SwapOutcome, start time.Time) {
	result := "success"
	if !out.Succeeded() {
		result = "failure"
	}
	metrics.IncOutcome(result, string(out.Kind()))
	metrics.ObserveDuration(metrics.ExecuteDuration, start, result)

	fields := []zap.Field{
		zap.String("request_id", out.RequestID),
		zap.String("input", out.Request.InputAsset.String()),
		zap.String("output", out.Request.OutputAsset.String()),
		zap.Uint64("amount", out.Request.Amount),
		zap.String("endpoint", out.Endpoint),
		zap.Int("attempts", len(out.Attempts)),
		zap.Duration("duration", out.Duration()),
	}
	if out.Succeeded() {
		e.logger.Info("swap.completed", append(fields,
			zap.String("reference", out.Success.TransactionReference),
			zap.Uint64("output_amount", out.Success.ActualOutputAmount),
			zap.Bool("confirmed", out.Success.Confirmed))...)
	} else {
		e.logger.Warn("swap.failed", append(fields,
			zap.String("kind", string(out.Failure.Kind)),
			zap.String("message", out.Failure.Message))...)
	}

	if len(e.sinks) == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range e.sinks {
		if err := s.Record(sctx, out); err != nil {
			metrics.IncSinkError(s.Name())
			e.logger.Error("swap.sink_failed",
				zap.String("sink", s.Name()),
				zap.String("request_id", out.RequestID),
				zap.Error(err))
		}
	}
}
