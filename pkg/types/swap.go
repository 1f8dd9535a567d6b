package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// MaxBasisPoints is 100% expressed in basis points
const MaxBasisPoints = 10000

// Asset identifies a fungible token on the ledger
type Asset struct {
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Mint     string `json:"mint" mapstructure:"mint"`
	Decimals uint8  `json:"decimals" mapstructure:"decimals"`

	// DustThreshold overrides the executor-wide minimum output, in reference units.
	DustThreshold decimal.Decimal `json:"dust_threshold,omitempty" mapstructure:"-"`
}

// String returns the symbol when known, the mint otherwise
func (a Asset) String() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Mint
}

// ReferenceAmount converts an amount in smallest units into reference units
func (a Asset) ReferenceAmount(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(a.Decimals))
}

// SwapRequest describes one conversion of InputAsset into OutputAsset.
// Values are constructed by the caller and never mutated afterwards.
type SwapRequest struct {
	InputAsset     Asset   `json:"input_asset"`
	OutputAsset    Asset   `json:"output_asset"`
	Amount         uint64  `json:"amount"`           // smallest unit of InputAsset
	MaxSlippageBps int     `json:"max_slippage_bps"` // 0..10000
	PriorityFee    *uint64 `json:"priority_fee,omitempty"`
}

// Validate checks the request preconditions
func (r SwapRequest) Validate() error {
	if r.Amount == 0 {
		return fmt.Errorf("amount must be greater than 0")
	}
	if r.InputAsset.Mint == "" {
		return fmt.Errorf("input asset is required")
	}
	if r.OutputAsset.Mint == "" {
		return fmt.Errorf("output asset is required")
	}
	if r.InputAsset.Mint == r.OutputAsset.Mint {
		return fmt.Errorf("input and output asset must differ (both %s)", r.InputAsset)
	}
	if r.MaxSlippageBps < 0 || r.MaxSlippageBps > MaxBasisPoints {
		return fmt.Errorf("max slippage must be between 0 and %d bps, got %d", MaxBasisPoints, r.MaxSlippageBps)
	}
	return nil
}

// QuoteResult is a quote returned by one endpoint. It is consumed
// immediately to request a swap payload or discarded.
type QuoteResult struct {
	ExpectedOutputAmount uint64          `json:"expected_output_amount"`
	PriceImpactBps       int             `json:"price_impact_bps"`
	RouteDescriptor      json.RawMessage `json:"route_descriptor"`
	SourceEndpoint       string          `json:"source_endpoint"`
}

// ErrorKind classifies a failed swap
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindRateLimited         ErrorKind = "rate_limited"
	KindNoLiquidity         ErrorKind = "no_liquidity_available"
	KindSigningFailure      ErrorKind = "signing_failure"
	KindSubmissionRejected  ErrorKind = "submission_rejected"
	KindCanceled            ErrorKind = "canceled"
	KindConfirmationUnknown ErrorKind = "confirmation_unknown"
)

// SwapSuccess is the success arm of SwapOutcome
type SwapSuccess struct {
	TransactionReference string `json:"transaction_reference"`
	ActualOutputAmount   uint64 `json:"actual_output_amount"`
	ExpectedOutputAmount uint64 `json:"expected_output_amount"`
	// OutputObserved is false when ActualOutputAmount repeats the quote
	// because the ledger could not report the settled amount.
	OutputObserved bool   `json:"output_observed"`
	Confirmed      bool   `json:"confirmed"`
	Note           string `json:"note,omitempty"`
}

// SwapFailure is the failure arm of SwapOutcome
type SwapFailure struct {
	Kind          ErrorKind `json:"kind"`
	Message       string    `json:"message"`
	EndpointTried string    `json:"endpoint_tried,omitempty"`
	// TransactionReference is set when a transaction was already submitted.
	TransactionReference string `json:"transaction_reference,omitempty"`
}

// Attempt records one step against one endpoint
type Attempt struct {
	Endpoint string        `json:"endpoint"`
	Stage    string        `json:"stage"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SwapOutcome is the terminal result of one SwapRequest. Exactly one of
// Success and Failure is set.
type SwapOutcome struct {
	RequestID  string       `json:"request_id"`
	Request    SwapRequest  `json:"request"`
	Endpoint   string       `json:"endpoint,omitempty"`
	Success    *SwapSuccess `json:"success,omitempty"`
	Failure    *SwapFailure `json:"failure,omitempty"`
	Attempts   []Attempt    `json:"attempts,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Succeeded reports whether the outcome is the success arm
func (o SwapOutcome) Succeeded() bool {
	return o.Success != nil
}

// Kind returns the failure kind, or "" on success
func (o SwapOutcome) Kind() ErrorKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}

// TransactionReference returns the submitted transaction, if any
func (o SwapOutcome) TransactionReference() string {
	if o.Success != nil {
		return o.Success.TransactionReference
	}
	if o.Failure != nil {
		return o.Failure.TransactionReference
	}
	return ""
}

// Summary renders a one-line description suitable for logs and tables
func (o SwapOutcome) Summary() string {
	if o.Success != nil {
		state := "confirmed"
		if !o.Success.Confirmed {
			state = "unconfirmed"
		}
		return fmt.Sprintf("success (%s) tx=%s out=%s %s", state,
			o.Success.TransactionReference,
			o.Request.OutputAsset.ReferenceAmount(o.Success.ActualOutputAmount).String(),
			o.Request.OutputAsset)
	}
	if o.Failure != nil {
		return fmt.Sprintf("%s: %s", o.Failure.Kind, o.Failure.Message)
	}
	return "unknown"
}

// Duration returns how long the request took
func (o SwapOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
